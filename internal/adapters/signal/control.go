package signal

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/strealome/internal/core"
	"github.com/dkeye/strealome/internal/domain"
	"github.com/rs/zerolog"
)

func (p *Pump) handleFrame(ctx context.Context, data []byte, link domain.RoomLink, uid domain.UserID, out chan<- *core.Signal, logger zerolog.Logger) {
	sig, err := core.Decode(data)
	if err != nil {
		logger.Warn().Err(err).Msg("frame dropped")
		return
	}
	if !sig.AcceptFromClient() {
		logger.Warn().Str("tag", string(sig.Payload.Tag())).Msg("server-only frame dropped")
		return
	}

	switch pl := sig.Payload.(type) {
	case core.Ping:
		p.handlePing(ctx, pl, out)
	case core.HandshakeAck:
		logger.Debug().Int64("sn", pl.SN).Msg("handshake acknowledged")
	case core.ChatEvent:
		p.handleChat(ctx, pl.Message.Content, link, uid, logger)
	default:
		logger.Warn().Str("tag", string(sig.Payload.Tag())).Msg("unhandled frame")
	}
}

func (p *Pump) handlePing(ctx context.Context, ping core.Ping, out chan<- *core.Signal) {
	pong := core.NewSignal(p.Rooms.NextSignalID(), core.SystemAuthor, core.Pong{ID: ping.ID, SN: ping.SN})
	select {
	case out <- pong:
	case <-ctx.Done():
	}
}

func (p *Pump) handleChat(ctx context.Context, text string, link domain.RoomLink, uid domain.UserID, logger zerolog.Logger) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if p.Limiter != nil && !p.Limiter.Allow(uid) {
		logger.Warn().Msg("chat rate limited")
		return
	}
	if err := p.Rooms.SendMessage(ctx, link, uid, text); err != nil {
		if errors.Is(err, core.ErrInternal) {
			logger.Warn().Err(err).Msg("chat partially delivered")
			return
		}
		logger.Error().Err(err).Msg("send chat")
	}
}
