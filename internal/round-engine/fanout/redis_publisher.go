package fanout

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/topics"
)

// RedisBroadcaster publica envelopes no canal Pub/Sub do jogo
type RedisBroadcaster struct {
	r *redis.Client
}

func NewRedisBroadcaster(r *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{r: r}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, gameType string, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.r.Publish(ctx, topics.GameChannel(gameType), payload).Err()
}
