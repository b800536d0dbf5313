package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

// Handler recebe cada mensagem nova do canal; erro encerra o Stream
type Handler func(env events.Envelope, ev events.Event) error

// dedupeWindow cobre o reenvio do snapshot após reconexão
const dedupeWindow = time.Minute

// Stream lê o canal da rodada até o contexto terminar, reconectando quando a
// conexão cai. Mensagens repetidas da entrega at-least-once são descartadas.
func (m *ConnManager) Stream(ctx context.Context, handle Handler) error {
	conn, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer m.Release()

	stop := context.AfterFunc(ctx, m.interrupt)
	defer stop()

	seen := cache.New(dedupeWindow, 2*dedupeWindow)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				m.opts.Log.Warn("dropped by server as slow consumer")
			} else {
				m.opts.Log.Warn("round stream read failed", zap.Error(err))
			}
			conn, err = m.Reconnect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}

		env, ev, err := events.Parse(raw)
		if err != nil {
			if env.Type != "pong" {
				m.opts.Log.Debug("ignoring message", zap.Error(err))
			}
			continue
		}
		if seen.Add(dedupeKey(env, ev), struct{}{}, cache.DefaultExpiration) != nil {
			continue
		}
		if err := handle(env, ev); err != nil {
			return err
		}
	}
}

// dedupeKey identifica a mensagem: apostas e cash-outs pelo id, eventos do
// motor por (tipo, rodada, seq)
func dedupeKey(env events.Envelope, ev events.Event) string {
	switch e := ev.(type) {
	case *events.BetPlaced:
		return "bet|" + e.BetID
	case *events.CashOutMade:
		return "cashout|" + e.CashOutID
	}
	return fmt.Sprintf("%s|%s|%d", env.Type, env.RoundID, env.Seq)
}
