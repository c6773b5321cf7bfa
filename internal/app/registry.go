package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/strealome/internal/core"
	"github.com/dkeye/strealome/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReleaseAfter    = 15 * time.Second
	DefaultShareLinkLength = 8
	DefaultSendTimeout     = 2 * time.Second
)

type Options struct {
	ReleaseAfter    time.Duration
	ShareLinkLength int
	SendTimeout     time.Duration
	Clock           clockwork.Clock
}

// Registry owns every live room, the host index and the release timers.
//
// rooms is authoritative. hosts is a cache that HostedRooms repairs
// lazily. When a compute on rooms nests another compute, the inner one
// is on releases or hosts, never the other way round.
type Registry struct {
	rooms    *xsync.MapOf[domain.RoomLink, *core.Room]
	releases *xsync.MapOf[domain.RoomLink, *releaseTask]
	hosts    *xsync.MapOf[domain.UserID, []domain.RoomLink]

	links *linkGenerator
	seq   core.Sequence
	clock clockwork.Clock

	releaseAfter time.Duration
	sendTimeout  time.Duration
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.ReleaseAfter <= 0 {
		opts.ReleaseAfter = DefaultReleaseAfter
	}
	if opts.ShareLinkLength <= 0 {
		opts.ShareLinkLength = DefaultShareLinkLength
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	links, err := newLinkGenerator(opts.ShareLinkLength)
	if err != nil {
		return nil, fmt.Errorf("share link generator: %w", err)
	}
	return &Registry{
		rooms:        xsync.NewMapOf[domain.RoomLink, *core.Room](),
		releases:     xsync.NewMapOf[domain.RoomLink, *releaseTask](),
		hosts:        xsync.NewMapOf[domain.UserID, []domain.RoomLink](),
		links:        links,
		clock:        opts.Clock,
		releaseAfter: opts.ReleaseAfter,
		sendTimeout:  opts.SendTimeout,
	}, nil
}

// NextSignalID hands out a signal id from the registry-wide sequence.
func (r *Registry) NextSignalID() int64 { return r.seq.Next() }

// Len returns the number of rooms not yet released.
func (r *Registry) Len() int { return r.rooms.Size() }

// Create registers a new empty room hosted by hostID.
func (r *Registry) Create(hostID domain.UserID, name string) *core.Room {
	opts := core.RoomOptions{Seq: &r.seq, SendTimeout: r.sendTimeout, CreatedAt: r.clock.Now()}
	var room *core.Room
	for {
		link := r.links.next()
		room = core.NewRoom(link, hostID, name, opts)
		if _, loaded := r.rooms.LoadOrStore(link, room); !loaded {
			break
		}
		log.Debug().Str("module", "app.registry").Str("link", string(link)).Msg("share link collision, retrying")
	}
	r.indexHost(hostID, room.Link())
	log.Info().Str("module", "app.registry").Str("link", string(room.Link())).Int64("host", int64(hostID)).Msg("room created")
	return room
}

// CreateHostBy creates a room that is released unless someone joins it
// within the release duration.
func (r *Registry) CreateHostBy(hostID domain.UserID, name string) *core.Room {
	room := r.Create(hostID, name)
	if err := r.armRelease(room.Link()); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("link", string(room.Link())).Msg("arm release on create")
	}
	return room
}

func (r *Registry) Room(link domain.RoomLink) (*core.Room, error) {
	room, ok := r.rooms.Load(link)
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return room, nil
}

func (r *Registry) ContainsUser(link domain.RoomLink, id domain.UserID) error {
	room, err := r.Room(link)
	if err != nil {
		return err
	}
	return room.Contains(id)
}

func (r *Registry) ChangeRoomName(link domain.RoomLink, name string) error {
	room, err := r.Room(link)
	if err != nil {
		return err
	}
	room.SetName(name)
	return nil
}

// ChangeHost points the room at a new host and moves the host index
// entry. Members are not notified; see TransferHost.
func (r *Registry) ChangeHost(link domain.RoomLink, newHost domain.UserID) (domain.UserID, error) {
	err := core.ErrRoomNotFound
	r.rooms.Compute(link, func(room *core.Room, loaded bool) (*core.Room, bool) {
		if !loaded {
			return room, true
		}
		err = r.swapHostLocked(room, newHost, false)
		return room, false
	})
	if err != nil {
		return 0, err
	}
	log.Info().Str("module", "app.registry").Str("link", string(link)).Int64("host", int64(newHost)).Msg("host changed")
	return newHost, nil
}

// swapHostLocked runs under the room's compute. With onlyIfAbsent set
// the swap happens only when the current host has left the room.
func (r *Registry) swapHostLocked(room *core.Room, newHost domain.UserID, onlyIfAbsent bool) error {
	old := room.HostID()
	if old == newHost {
		return core.ErrUserAlreadyHosting
	}
	if err := room.Contains(newHost); err != nil {
		return err
	}
	if onlyIfAbsent && room.Contains(old) == nil {
		return core.ErrUserAlreadyHosting
	}
	if !room.SwapHost(old, newHost) {
		return core.ErrUserAlreadyHosting
	}
	r.unindexHost(old, room.Link())
	r.indexHost(newHost, room.Link())
	return nil
}

// TransferHost changes the host and tells the room about it.
func (r *Registry) TransferHost(ctx context.Context, link domain.RoomLink, newHost domain.UserID) error {
	if _, err := r.ChangeHost(link, newHost); err != nil {
		return err
	}
	return r.announceHost(ctx, link, newHost)
}

func (r *Registry) announceHost(ctx context.Context, link domain.RoomLink, host domain.UserID) error {
	room, err := r.Room(link)
	if err != nil {
		return err
	}
	sig := core.NewSignal(r.seq.Next(), core.SystemAuthor, core.TransferEvent{NewHostID: host})
	return room.Broadcast(ctx, core.SystemAuthor, sig)
}

// FindNextHost hands the host role to the lowest member id that accepts
// it and broadcasts the transfer.
func (r *Registry) FindNextHost(ctx context.Context, link domain.RoomLink) (domain.UserID, error) {
	room, err := r.Room(link)
	if err != nil {
		return 0, err
	}
	for _, id := range room.Members() {
		if _, err := r.ChangeHost(link, id); err != nil {
			continue
		}
		if err := r.announceHost(ctx, link, id); err != nil && !errors.Is(err, core.ErrInternal) {
			return id, err
		}
		return id, nil
	}
	return 0, core.ErrRoomEmpty
}

// claimHost makes id the host if the current host is not in the room.
func (r *Registry) claimHost(ctx context.Context, link domain.RoomLink, id domain.UserID) {
	claimed := false
	r.rooms.Compute(link, func(room *core.Room, loaded bool) (*core.Room, bool) {
		if !loaded {
			return room, true
		}
		claimed = r.swapHostLocked(room, id, true) == nil
		return room, false
	})
	if !claimed {
		return
	}
	log.Info().Str("module", "app.registry").Str("link", string(link)).Int64("host", int64(id)).Msg("host claimed by joiner")
	if err := r.announceHost(ctx, link, id); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("link", string(link)).Msg("announce claimed host")
	}
}

// JoinRoom adds a member and cancels a pending release.
func (r *Registry) JoinRoom(ctx context.Context, link domain.RoomLink, id domain.UserID, out core.Outbound) error {
	room, err := r.Room(link)
	if err != nil {
		return err
	}
	if err := room.Join(ctx, id, out); err != nil {
		if !errors.Is(err, core.ErrInternal) {
			return err
		}
		log.Warn().Err(err).Str("module", "app.registry").Str("link", string(link)).Msg("join notice partially delivered")
	}

	switch err := r.disarmRelease(link, id); {
	case err == nil, errors.Is(err, core.ErrRoomNotReleasing), errors.Is(err, core.ErrRoomEmpty):
	case errors.Is(err, core.ErrRoomReleased):
		return err
	case errors.Is(err, core.ErrRoomNotFound):
		room.Drop(id)
		return core.ErrRoomReleased
	default:
		return err
	}

	r.claimHost(ctx, link, id)
	return nil
}

// LeaveRoom removes a member, arms the release timer once the room is
// empty and elects a new host when the host left.
func (r *Registry) LeaveRoom(ctx context.Context, link domain.RoomLink, id domain.UserID) error {
	room, err := r.Room(link)
	if err != nil {
		return err
	}
	if err := room.Leave(ctx, id); err != nil {
		if !errors.Is(err, core.ErrInternal) {
			return err
		}
		log.Warn().Err(err).Str("module", "app.registry").Str("link", string(link)).Msg("leave notice partially delivered")
	}

	switch err := r.armRelease(link); {
	case err == nil, errors.Is(err, core.ErrRoomReleased), errors.Is(err, core.ErrRoomNotEmpty):
	default:
		return err
	}

	if room.HostID() != id {
		return nil
	}
	if _, err := r.FindNextHost(ctx, link); err != nil && !errors.Is(err, core.ErrRoomEmpty) && !errors.Is(err, core.ErrRoomNotFound) {
		return err
	}
	return nil
}

// SendMessage broadcasts a chat line from author to the rest of the room.
func (r *Registry) SendMessage(ctx context.Context, link domain.RoomLink, author domain.UserID, text string) error {
	room, err := r.Room(link)
	if err != nil {
		return err
	}
	if err := room.Contains(author); err != nil {
		return err
	}
	msg := core.ChatMessage{ID: r.seq.Next(), AuthorID: author, Content: text, CreatedAt: r.clock.Now()}
	return room.Broadcast(ctx, author, core.NewSignal(r.seq.Next(), author, core.ChatEvent{Message: msg}))
}

// RelatedRooms lists rooms the user is currently a member of.
func (r *Registry) RelatedRooms(id domain.UserID) []*core.Room {
	var out []*core.Room
	r.rooms.Range(func(_ domain.RoomLink, room *core.Room) bool {
		if room.Contains(id) == nil {
			out = append(out, room)
		}
		return true
	})
	sortRooms(out)
	return out
}

// HostedRooms lists rooms the user hosts. Index entries that no longer
// match a live room are dropped on the way.
func (r *Registry) HostedRooms(id domain.UserID) []*core.Room {
	links, _ := r.hosts.Load(id)
	var out []*core.Room
	for _, link := range links {
		room, ok := r.rooms.Load(link)
		if !ok || room.HostID() != id {
			r.repairHostIndex(id, link)
			continue
		}
		out = append(out, room)
	}
	sortRooms(out)
	return out
}

// repairHostIndex drops link from id's index entry unless id hosts it
// again by the time the room key is held.
func (r *Registry) repairHostIndex(id domain.UserID, link domain.RoomLink) {
	r.rooms.Compute(link, func(room *core.Room, loaded bool) (*core.Room, bool) {
		if !loaded || room.HostID() != id {
			r.unindexHost(id, link)
		}
		return room, !loaded
	})
	log.Debug().Str("module", "app.registry").Str("link", string(link)).Int64("user", int64(id)).Msg("host index repaired")
}

// RelatedTo is RelatedRooms and HostedRooms without duplicates.
func (r *Registry) RelatedTo(id domain.UserID) []*core.Room {
	seen := make(map[domain.RoomLink]struct{})
	var out []*core.Room
	for _, room := range append(r.RelatedRooms(id), r.HostedRooms(id)...) {
		if _, dup := seen[room.Link()]; dup {
			continue
		}
		seen[room.Link()] = struct{}{}
		out = append(out, room)
	}
	sortRooms(out)
	return out
}

func sortRooms(rooms []*core.Room) {
	slices.SortFunc(rooms, func(a, b *core.Room) int {
		if c := a.CreatedAt().Compare(b.CreatedAt()); c != 0 {
			return c
		}
		if a.Link() < b.Link() {
			return -1
		}
		if a.Link() > b.Link() {
			return 1
		}
		return 0
	})
}

func (r *Registry) indexHost(id domain.UserID, link domain.RoomLink) {
	r.hosts.Compute(id, func(links []domain.RoomLink, _ bool) ([]domain.RoomLink, bool) {
		if slices.Contains(links, link) {
			return links, false
		}
		return append(slices.Clone(links), link), false
	})
}

func (r *Registry) unindexHost(id domain.UserID, link domain.RoomLink) {
	r.hosts.Compute(id, func(links []domain.RoomLink, loaded bool) ([]domain.RoomLink, bool) {
		if !loaded {
			return links, true
		}
		kept := slices.DeleteFunc(slices.Clone(links), func(l domain.RoomLink) bool { return l == link })
		return kept, len(kept) == 0
	})
}
