package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Operation func() error

type ExponentialConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // 0 = sem limite de tempo
	MaxAttempts     uint64        // total de chamadas, incluindo a primeira; 0 = sem limite
	OnRetry         func(error, time.Duration)
}

// Exponential repete fn com backoff exponencial até sucesso, erro permanente,
// esgotamento de tentativas/tempo ou cancelamento do contexto
func Exponential(ctx context.Context, fn Operation, cfg ExponentialConfig) error {
	if cfg.InitialInterval <= 0 {
		return errors.New("initial interval must be > 0")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	if cfg.MaxInterval > 0 {
		bo.MaxInterval = cfg.MaxInterval
	}
	bo.MaxElapsedTime = cfg.MaxElapsedTime

	var b backoff.BackOff = bo
	if cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, cfg.MaxAttempts-1)
	}

	return backoff.RetryNotify(backoff.Operation(fn), backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		if cfg.OnRetry != nil {
			cfg.OnRetry(err, next)
		}
	})
}

// Permanent marca um erro que não deve ser repetido
func Permanent(err error) error {
	return backoff.Permanent(err)
}
