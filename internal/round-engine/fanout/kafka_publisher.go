package fanout

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/radieske/multiplier-bet-platform/internal/shared/kafka"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

// KafkaPublisher grava o log de auditoria. Eventos de rodada e de aposta vão para
// tópicos distintos; a chave é o roundId, então cada rodada mantém a ordem na partição.
type KafkaPublisher struct {
	rounds *kafka.Writer
	bets   *kafka.Writer
	log    *zap.Logger
}

func NewKafkaPublisher(rounds, bets *kafka.Writer, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{rounds: rounds, bets: bets, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, _ string, env events.Envelope) error {
	w := p.rounds
	if env.Type == events.TypeBetPlaced || env.Type == events.TypeCashOutMade {
		w = p.bets
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := kafkax.WriteJSON(ctx, w, env.RoundID, value); err != nil {
		return err
	}
	p.log.Debug("published round event",
		zap.String("topic", w.Topic),
		zap.String("type", string(env.Type)),
		zap.String("round_id", env.RoundID))
	return nil
}

// Close finaliza os writers e libera recursos associados.
func (p *KafkaPublisher) Close() error {
	err := p.rounds.Close()
	if berr := p.bets.Close(); err == nil {
		err = berr
	}
	return err
}
