package signal

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dkeye/strealome/internal/app"
	"github.com/dkeye/strealome/internal/core"
	"github.com/dkeye/strealome/internal/domain"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const DefaultOutboundCapacity = 32

var errPeerClosed = errors.New("peer closed")

// Pump connects chat sockets to rooms.
type Pump struct {
	Rooms   *app.Registry
	Users   app.UserLookup
	Limiter *ChatRateLimiter
	// OutboundCapacity is the queue length per member.
	OutboundCapacity int

	sessions *xsync.MapOf[domain.UserID, int]
}

func NewPump(rooms *app.Registry, users app.UserLookup, limiter *ChatRateLimiter, capacity int) *Pump {
	if capacity <= 0 {
		capacity = DefaultOutboundCapacity
	}
	return &Pump{
		Rooms:            rooms,
		Users:            users,
		Limiter:          limiter,
		OutboundCapacity: capacity,
		sessions:         xsync.NewMapOf[domain.UserID, int](),
	}
}

// Serve keeps uid in the room behind link until conn or ctx ends. The
// member always leaves the room on return. A normal close by the peer
// returns nil.
func (p *Pump) Serve(ctx context.Context, conn Conn, link domain.RoomLink, uid domain.UserID) error {
	logger := log.With().
		Str("module", "signal").
		Str("sid", uuid.NewString()).
		Str("link", string(link)).
		Int64("user", int64(uid)).
		Logger()

	if _, err := p.Users.Lookup(ctx, uid); err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	out := make(chan *core.Signal, p.OutboundCapacity)
	out <- core.NewSignal(p.Rooms.NextSignalID(), core.SystemAuthor, core.Handshake{ID: int64(uid)})

	if err := p.Rooms.JoinRoom(ctx, link, uid, out); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	p.track(uid)
	logger.Info().Msg("session started")

	defer func() {
		if err := p.Rooms.LeaveRoom(context.Background(), link, uid); err != nil && !errors.Is(err, core.ErrInternal) {
			logger.Warn().Err(err).Msg("leave on session end")
		}
		p.untrack(uid)
		logger.Info().Msg("session ended")
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	g.Go(func() error { return p.readPump(gctx, conn, link, uid, out, logger) })
	g.Go(func() error { return p.writePump(gctx, conn, out, logger) })

	err := g.Wait()
	switch {
	case errors.Is(err, errPeerClosed):
		return nil
	case ctx.Err() != nil:
		return nil
	}
	return err
}

func (p *Pump) writePump(ctx context.Context, conn Conn, out <-chan *core.Signal, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-out:
			data, err := core.Encode(sig)
			if err != nil {
				logger.Error().Err(err).Msg("encode signal")
				continue
			}
			if err := conn.WriteMessage(ctx, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (p *Pump) readPump(ctx context.Context, conn Conn, link domain.RoomLink, uid domain.UserID, out chan<- *core.Signal, logger zerolog.Logger) error {
	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errPeerClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		p.handleFrame(ctx, data, link, uid, out, logger)
	}
}

func (p *Pump) track(uid domain.UserID) {
	p.sessions.Compute(uid, func(n int, _ bool) (int, bool) { return n + 1, false })
}

func (p *Pump) untrack(uid domain.UserID) {
	p.sessions.Compute(uid, func(n int, _ bool) (int, bool) {
		if n <= 1 {
			if p.Limiter != nil {
				p.Limiter.Forget(uid)
			}
			return 0, true
		}
		return n - 1, false
	})
}
