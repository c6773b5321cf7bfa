package app

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/strealome/internal/core"
	"github.com/dkeye/strealome/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotHost   = errors.New("user is not the host of this room")
	ErrEmptyName = errors.New("room name is empty")
)

//go:generate mockgen -destination=mocks/mock_user_lookup.go -package=mocks github.com/dkeye/strealome/internal/app UserLookup

// UserLookup resolves account ids. It returns domain.ErrUserNotFound for
// unknown ids.
type UserLookup interface {
	Lookup(ctx context.Context, id domain.UserID) (domain.User, error)
}

// Lobby is what the HTTP API talks to.
//
// A room created here is hosted by its creator, but whoever joins while
// the host is not in the room takes the host role over. A creator who
// shares the link before connecting therefore loses hosting to the
// first joiner and shows up in GetRoom with Hosting false.
type Lobby struct {
	Rooms *Registry
	Users UserLookup
}

func (l *Lobby) CreateRoom(ctx context.Context, host domain.UserID, name string) (domain.RoomSummary, error) {
	name = domain.TrimRoomName(strings.TrimSpace(name))
	if name == "" {
		return domain.RoomSummary{}, ErrEmptyName
	}
	if _, err := l.Users.Lookup(ctx, host); err != nil {
		return domain.RoomSummary{}, err
	}
	room := l.Rooms.CreateHostBy(host, name)
	return l.summary(ctx, room, host), nil
}

func (l *Lobby) GetRoom(ctx context.Context, link domain.RoomLink, requester domain.UserID) (domain.RoomSummary, error) {
	room, err := l.Rooms.Room(link)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	return l.summary(ctx, room, requester), nil
}

// ListRelatedRooms lists rooms the user is in or hosts, oldest first.
func (l *Lobby) ListRelatedRooms(ctx context.Context, user domain.UserID) []domain.RoomSummary {
	rooms := l.Rooms.RelatedTo(user)
	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, l.summary(ctx, room, user))
	}
	return out
}

// ChangeHost lets the current host hand the room to another member.
func (l *Lobby) ChangeHost(ctx context.Context, link domain.RoomLink, requester, target domain.UserID) error {
	if err := l.requireHost(link, requester); err != nil {
		return err
	}
	return l.Rooms.TransferHost(ctx, link, target)
}

func (l *Lobby) RenameRoom(ctx context.Context, link domain.RoomLink, requester domain.UserID, name string) error {
	name = domain.TrimRoomName(strings.TrimSpace(name))
	if name == "" {
		return ErrEmptyName
	}
	if err := l.requireHost(link, requester); err != nil {
		return err
	}
	if err := l.Rooms.ChangeRoomName(link, name); err != nil {
		return err
	}
	log.Info().Str("module", "app.lobby").Str("link", string(link)).Str("name", name).Msg("room renamed")
	return nil
}

// ListMembers resolves the members of a room the requester belongs to.
// Members the lookup does not know are left out.
func (l *Lobby) ListMembers(ctx context.Context, link domain.RoomLink, requester domain.UserID) ([]domain.User, error) {
	room, err := l.Rooms.Room(link)
	if err != nil {
		return nil, err
	}
	if err := room.Contains(requester); err != nil {
		return nil, err
	}
	ids := room.Members()
	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		u, err := l.Users.Lookup(ctx, id)
		if err != nil {
			if !errors.Is(err, domain.ErrUserNotFound) {
				return nil, err
			}
			log.Warn().Str("module", "app.lobby").Str("link", string(link)).Int64("user", int64(id)).Msg("member without account")
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (l *Lobby) SendMessage(ctx context.Context, link domain.RoomLink, author domain.UserID, text string) error {
	return l.Rooms.SendMessage(ctx, link, author, text)
}

func (l *Lobby) requireHost(link domain.RoomLink, requester domain.UserID) error {
	room, err := l.Rooms.Room(link)
	if err != nil {
		return err
	}
	if room.HostID() != requester {
		return ErrNotHost
	}
	return nil
}

func (l *Lobby) summary(ctx context.Context, room *core.Room, viewer domain.UserID) domain.RoomSummary {
	host := room.HostID()
	s := domain.RoomSummary{
		Name:        room.Name(),
		ShareLink:   room.Link(),
		MemberCount: room.Len(),
		CreatedAt:   room.CreatedAt(),
		Hosting:     host == viewer,
	}
	if u, err := l.Users.Lookup(ctx, host); err == nil {
		s.HostName = u.Name
	} else {
		log.Debug().Err(err).Str("module", "app.lobby").Int64("host", int64(host)).Msg("host name unresolved")
	}
	return s
}
