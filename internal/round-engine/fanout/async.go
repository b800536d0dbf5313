package fanout

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

var (
	ErrQueueFull   = errors.New("publish queue full")
	ErrAsyncClosed = errors.New("async publisher closed")
)

type asyncItem struct {
	topic string
	env   events.Envelope
}

// Async entrega a um sink lento numa goroutine própria, na ordem de chegada.
// Publish só enfileira; com a fila cheia o envelope é descartado e contado.
type Async struct {
	name    string
	next    Publisher
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Game

	mu     sync.RWMutex
	closed bool
	queue  chan asyncItem
	done   chan struct{}
}

func NewAsync(name string, next Publisher, buffer int, timeout time.Duration, log *zap.Logger, m *metrics.Game) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &Async{
		name:    name,
		next:    next,
		timeout: timeout,
		log:     log.With(zap.String("sink", name)),
		metrics: m,
		queue:   make(chan asyncItem, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Publish(_ context.Context, topic string, env events.Envelope) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrAsyncClosed
	}
	select {
	case a.queue <- asyncItem{topic: topic, env: env}:
		return nil
	default:
		a.metrics.PublishDrop(a.name)
		return ErrQueueFull
	}
}

// Close para de aceitar envelopes e espera a fila esvaziar ou o ctx terminar
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.done)
	for it := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, it.topic, it.env); err != nil {
			a.metrics.PublishFailed(a.name)
			a.log.Warn("async publish failed",
				zap.String("type", string(it.env.Type)),
				zap.String("round_id", it.env.RoundID),
				zap.Uint64("seq", it.env.Seq),
				zap.Error(err))
		}
		cancel()
	}
}
