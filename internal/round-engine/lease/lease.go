// Package lease garante um único loop autoritativo por tipo de jogo.
// A posse é uma chave Redis com token do dono e TTL; só o dono renova ou libera.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotAcquired = errors.New("lease held by another owner")
	ErrLost        = errors.New("lease lost")
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration, log *zap.Logger) *RedisLease {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLease{client: client, key: key, token: uuid.NewString(), ttl: ttl, log: log}
}

func (l *RedisLease) Token() string { return l.token }

// Acquire tenta obter a posse uma vez; se já for o dono, apenas renova
func (l *RedisLease) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err := l.Renew(ctx); errors.Is(err, ErrLost) {
		return ErrNotAcquired
	} else if err != nil {
		return err
	}
	return nil
}

// AcquireWait bloqueia até obter a posse ou o contexto terminar
func (l *RedisLease) AcquireWait(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		err := l.Acquire(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			l.log.Warn("lease acquire failed", zap.String("key", l.key), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Renew estende o TTL se o token ainda for o dono
func (l *RedisLease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

// Release apaga a chave somente se ainda for o dono
func (l *RedisLease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	return err
}

// Hold renova a posse a cada ttl/3. O canal devolvido fecha quando a posse é
// perdida (outro dono, ou renovações falhando até o TTL vencer) ou o contexto termina.
func (l *RedisLease) Hold(ctx context.Context) <-chan struct{} {
	lost := make(chan struct{})
	go func() {
		defer close(lost)
		t := time.NewTicker(l.ttl / 3)
		defer t.Stop()
		lastOK := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			err := l.Renew(ctx)
			switch {
			case err == nil:
				lastOK = time.Now()
			case errors.Is(err, ErrLost):
				l.log.Warn("lease lost", zap.String("key", l.key))
				return
			default:
				l.log.Warn("lease renew failed", zap.String("key", l.key), zap.Error(err))
				if time.Since(lastOK) >= l.ttl {
					return
				}
			}
		}
	}()
	return lost
}
