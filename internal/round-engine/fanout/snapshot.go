package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

// ErrNoSnapshot indica que nenhum motor publicou estado (ou o estado expirou)
var ErrNoSnapshot = errors.New("no round snapshot")

// SnapshotStore guarda o estado autoritativo da rodada no Redis com TTL.
// Gateways sem motor local leem daqui.
type SnapshotStore struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

func NewSnapshotStore(c *redis.Client, key string, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{Client: c, Key: key, TTL: ttl}
}

// Save sobrescreve o snapshot corrente
func (s *SnapshotStore) Save(ctx context.Context, st events.RoundState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, s.Key, b, s.TTL).Err()
}

// Current lê o snapshot corrente
func (s *SnapshotStore) Current(ctx context.Context) (events.RoundState, error) {
	b, err := s.Client.Get(ctx, s.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return events.RoundState{}, ErrNoSnapshot
	}
	if err != nil {
		return events.RoundState{}, err
	}
	var st events.RoundState
	if err := json.Unmarshal(b, &st); err != nil {
		return events.RoundState{}, err
	}
	return st, nil
}
