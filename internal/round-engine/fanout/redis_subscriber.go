package fanout

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/shared/retry"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/topics"
)

// StartRedisSubscriber inicia uma goroutine que escuta o canal Redis Pub/Sub do jogo
// e repassa os envelopes ao Hub local. Cada payload é decodificado na borda:
// tipos fora do conjunto conhecido são descartados.
// Se a assinatura cair, é refeita com backoff exponencial até o contexto terminar.
func StartRedisSubscriber(ctx context.Context, r *redis.Client, gameType string, hub Publisher, log *zap.Logger) {
	go func() {
		err := retry.Exponential(ctx, func() error {
			return subscribeOnce(ctx, r, gameType, hub, log)
		}, retry.ExponentialConfig{
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			OnRetry: func(err error, next time.Duration) {
				log.Warn("redis subscription lost, retrying", zap.Error(err), zap.Duration("next", next))
			},
		})
		if err != nil && ctx.Err() == nil {
			log.Error("redis subscriber stopped", zap.Error(err))
		}
	}()
}

func subscribeOnce(ctx context.Context, r *redis.Client, gameType string, hub Publisher, log *zap.Logger) error {
	channel := topics.GameChannel(gameType)
	sub := r.Subscribe(ctx, channel)
	defer sub.Close() // encerra a inscrição ao sair

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info("redis subscriber ready", zap.String("channel", channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errClosed
			}
			env, _, err := events.Parse([]byte(msg.Payload))
			if err != nil {
				log.Warn("dropping undecodable message", zap.String("channel", channel), zap.Error(err))
				continue
			}
			_ = hub.Publish(ctx, gameType, env)
		}
	}
}
