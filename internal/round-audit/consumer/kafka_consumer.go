package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/round-audit/verifier"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

// MessageReader é satisfeito por *kafka.Reader
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// MessageWriter é satisfeito por *kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Processor consome round_events e audita cada RoundSettled.
// Mensagens que não decodificam vão para a DLQ.
type Processor struct {
	Log      *zap.Logger
	Reader   MessageReader
	DLQ      MessageWriter // opcional
	Verifier *verifier.Verifier

	OnConsumed func()       // métricas
	OnError    func(string) // métricas por estágio
}

// Run inicia o loop principal de consumo até o contexto terminar
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.fail("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed()
		}

		env, ev, err := events.Parse(m.Value)
		if err != nil {
			p.Log.Warn("invalid message", zap.Error(err), zap.ByteString("key", m.Key))
			p.fail("decode")
			p.deadLetter(ctx, m, err)
			continue
		}

		settled, ok := ev.(*events.RoundSettled)
		if !ok {
			continue // só o fechamento da rodada é auditado
		}
		if _, err := p.Verifier.Verify(ctx, *settled); err != nil {
			p.Log.Warn("audit failed", zap.String("round_id", env.RoundID), zap.Error(err))
			p.fail("verify")
		}
	}
}

func (p *Processor) deadLetter(ctx context.Context, m kafka.Message, cause error) {
	if p.DLQ == nil {
		return
	}
	msg := kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Headers: append(m.Headers,
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "source_topic", Value: []byte(m.Topic)},
		),
		Time: time.Now(),
	}
	if err := p.DLQ.WriteMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		p.Log.Warn("dlq write failed", zap.Error(err))
		p.fail("dlq")
	}
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
