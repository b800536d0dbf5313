// Package fanout entrega os eventos da rodada a todos os interessados:
// Redis Pub/Sub (tempo real entre processos), Kafka (auditoria) e o Hub
// WebSocket local.
package fanout

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

// Publisher publica um envelope no tópico lógico do jogo (o game type).
// Entrega é at-least-once; consumidores deduplicam por Seq.
type Publisher interface {
	Publish(ctx context.Context, topic string, env events.Envelope) error
}

// PublisherFunc adapta uma função ao Publisher
type PublisherFunc func(ctx context.Context, topic string, env events.Envelope) error

func (f PublisherFunc) Publish(ctx context.Context, topic string, env events.Envelope) error {
	return f(ctx, topic, env)
}

// Sink nomeia um destino do Multi para logs e métricas
type Sink struct {
	Name string
	Publisher
}

// Multi replica cada envelope em todos os sinks, na ordem de registro.
// Falha de um sink não impede os demais; o primeiro erro é devolvido.
// Sinks lentos (Kafka) entram embrulhados em Async.
type Multi struct {
	sinks   []Sink
	log     *zap.Logger
	metrics *metrics.Game
}

func NewMulti(log *zap.Logger, m *metrics.Game, sinks ...Sink) *Multi {
	if log == nil {
		log = zap.NewNop()
	}
	return &Multi{sinks: sinks, log: log, metrics: m}
}

func (m *Multi) Publish(ctx context.Context, topic string, env events.Envelope) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, topic, env); err != nil {
			m.metrics.PublishFailed(s.Name)
			m.log.Warn("publish failed",
				zap.String("sink", s.Name),
				zap.String("type", string(env.Type)),
				zap.String("round_id", env.RoundID),
				zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Discard é o Publisher nulo
var Discard Publisher = PublisherFunc(func(context.Context, string, events.Envelope) error { return nil })

var errClosed = errors.New("subscription closed")
