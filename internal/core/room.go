package core

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/strealome/internal/domain"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Outbound is the send side of a member's signal queue.
type Outbound chan<- *Signal

// Room is a link-addressed membership table with a host pointer.
// It knows nothing about other rooms or release timers.
type Room struct {
	link      domain.RoomLink
	hostID    atomic.Int64
	createdAt time.Time

	nameMu sync.RWMutex
	name   string

	members     *xsync.MapOf[domain.UserID, Outbound]
	seq         *Sequence
	sendTimeout time.Duration
}

// RoomOptions carries what a Room needs from its owner.
type RoomOptions struct {
	Seq *Sequence
	// SendTimeout bounds how long a broadcast waits on one full queue.
	SendTimeout time.Duration
	CreatedAt   time.Time
}

func NewRoom(link domain.RoomLink, hostID domain.UserID, name string, opts RoomOptions) *Room {
	if opts.Seq == nil {
		opts.Seq = &Sequence{}
	}
	if opts.CreatedAt.IsZero() {
		opts.CreatedAt = time.Now()
	}
	r := &Room{
		link:        link,
		createdAt:   opts.CreatedAt,
		name:        name,
		members:     xsync.NewMapOf[domain.UserID, Outbound](),
		seq:         opts.Seq,
		sendTimeout: opts.SendTimeout,
	}
	r.hostID.Store(int64(hostID))
	return r
}

func (r *Room) Link() domain.RoomLink { return r.link }
func (r *Room) CreatedAt() time.Time  { return r.createdAt }
func (r *Room) Len() int              { return r.members.Size() }

func (r *Room) HostID() domain.UserID { return domain.UserID(r.hostID.Load()) }

// SetHost moves the host pointer. It does not notify members.
func (r *Room) SetHost(id domain.UserID) { r.hostID.Store(int64(id)) }

// SwapHost moves the host pointer from old to id only if old is still
// the host.
func (r *Room) SwapHost(old, id domain.UserID) bool {
	return r.hostID.CompareAndSwap(int64(old), int64(id))
}

func (r *Room) Name() string {
	r.nameMu.RLock()
	defer r.nameMu.RUnlock()
	return r.name
}

func (r *Room) SetName(name string) {
	r.nameMu.Lock()
	defer r.nameMu.Unlock()
	r.name = name
}

func (r *Room) Contains(id domain.UserID) error {
	if _, ok := r.members.Load(id); !ok {
		return ErrUserNotInRoom
	}
	return nil
}

// Members returns the current member ids in ascending order.
func (r *Room) Members() []domain.UserID {
	out := make([]domain.UserID, 0, r.members.Size())
	r.members.Range(func(id domain.UserID, _ Outbound) bool {
		out = append(out, id)
		return true
	})
	slices.Sort(out)
	return out
}

// Join adds a member and tells everyone else. A *DeliveryError means
// the member was added but some peers missed the notice.
func (r *Room) Join(ctx context.Context, id domain.UserID, out Outbound) error {
	if _, loaded := r.members.LoadOrStore(id, out); loaded {
		return ErrUserAlreadyInRoom
	}
	log.Info().Str("module", "core.room").Str("link", string(r.link)).Int64("user", int64(id)).Msg("member added")
	return r.Broadcast(ctx, id, r.event(JoinEvent{UserID: id, NewMemberCount: r.Len()}))
}

// Leave removes a member and tells the rest.
func (r *Room) Leave(ctx context.Context, id domain.UserID) error {
	if _, ok := r.members.LoadAndDelete(id); !ok {
		return ErrUserNotInRoom
	}
	log.Info().Str("module", "core.room").Str("link", string(r.link)).Int64("user", int64(id)).Msg("member removed")
	return r.Broadcast(ctx, id, r.event(LeaveEvent{UserID: id, NewMemberCount: r.Len()}))
}

// Drop removes a member without notifying anyone.
func (r *Room) Drop(id domain.UserID) {
	r.members.Delete(id)
}

func (r *Room) event(ev Event) *Signal {
	return NewSignal(r.seq.Next(), SystemAuthor, ev)
}

// Broadcast sends sig to every member except author, as of the moment
// of the call. Full queues are retried concurrently for at most the
// room's send timeout; the call returns once every send settled.
func (r *Room) Broadcast(ctx context.Context, author domain.UserID, sig *Signal) error {
	type target struct {
		id  domain.UserID
		out Outbound
	}
	var slow []target
	total := 0
	r.members.Range(func(id domain.UserID, out Outbound) bool {
		if id == author {
			return true
		}
		total++
		select {
		case out <- sig:
		default:
			slow = append(slow, target{id, out})
		}
		return true
	})

	var lost atomic.Int64
	if len(slow) > 0 {
		p := pool.New()
		for _, t := range slow {
			p.Go(func() {
				if err := r.deliver(ctx, t.out, sig); err != nil {
					lost.Add(1)
					log.Warn().Err(err).Str("module", "core.room").Str("link", string(r.link)).Int64("user", int64(t.id)).Msg("delivery dropped")
				}
			})
		}
		p.Wait()
	}

	n := int(lost.Load())
	log.Debug().Str("module", "core.room").Str("link", string(r.link)).Int64("from", int64(author)).Int("sent_to", total-n).Int("dropped", n).Msg("broadcast result")
	if n > 0 {
		return &DeliveryError{Lost: n, Total: total}
	}
	return nil
}

func (r *Room) deliver(ctx context.Context, out Outbound, sig *Signal) error {
	if r.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.sendTimeout)
		defer cancel()
	}
	select {
	case out <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
