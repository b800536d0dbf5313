package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"

	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

func TestMultiPublishesToEverySink(t *testing.T) {
	var got []string
	record := func(name string, err error) Sink {
		return Sink{Name: name, Publisher: PublisherFunc(func(context.Context, string, events.Envelope) error {
			got = append(got, name)
			return err
		})}
	}
	boom := errors.New("boom")
	m := NewMulti(nil, nil, record("redis", nil), record("kafka", boom), record("hub", errors.New("later")))

	err := m.Publish(context.Background(), "multiplier", tick(t, 1, 1))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"redis", "kafka", "hub"}, got)
}

type slowSink struct {
	delay time.Duration
	mu    sync.Mutex
	seqs  []uint64
}

func (s *slowSink) Publish(ctx context.Context, _ string, env events.Envelope) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.seqs = append(s.seqs, env.Seq)
	s.mu.Unlock()
	return nil
}

func (s *slowSink) got() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.seqs...)
}

func TestAsyncSinkDoesNotDelayRealtime(t *testing.T) {
	hub := NewHub(HubConfig{Buffer: 64})
	sub := hub.Subscribe("multiplier")
	slow := &slowSink{delay: 20 * time.Millisecond}
	audit := NewAsync("kafka", slow, 64, time.Second, nil, nil)
	m := NewMulti(nil, nil, Sink{Name: "kafka", Publisher: audit}, Sink{Name: "hub", Publisher: hub})

	began := time.Now()
	for i := 1; i <= 20; i++ {
		require.NoError(t, m.Publish(context.Background(), "multiplier", tick(t, uint64(i), i)))
	}
	assert.Less(t, time.Since(began), 100*time.Millisecond)
	for i := 1; i <= 20; i++ {
		env := <-sub.Events()
		assert.Equal(t, uint64(i), env.Seq)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, audit.Close(ctx))
	want := make([]uint64, 20)
	for i := range want {
		want[i] = uint64(i + 1)
	}
	assert.Equal(t, want, slow.got())

	assert.ErrorIs(t, audit.Publish(context.Background(), "multiplier", tick(t, 21, 21)), ErrAsyncClosed)
}

func TestAsyncDropsWhenQueueIsFull(t *testing.T) {
	gm := metrics.NewGame(prometheus.NewRegistry())
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	blocked := PublisherFunc(func(context.Context, string, events.Envelope) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	audit := NewAsync("kafka", blocked, 1, time.Second, nil, gm)

	// a primeira fica presa no sink, a segunda ocupa a fila
	require.NoError(t, audit.Publish(context.Background(), "multiplier", tick(t, 1, 1)))
	<-started
	require.NoError(t, audit.Publish(context.Background(), "multiplier", tick(t, 2, 2)))
	assert.ErrorIs(t, audit.Publish(context.Background(), "multiplier", tick(t, 3, 3)), ErrQueueFull)
	assert.Equal(t, 1.0, testutil.ToFloat64(gm.PublishDropped.WithLabelValues("kafka")))

	close(release)
	require.NoError(t, audit.Close(context.Background()))
}
