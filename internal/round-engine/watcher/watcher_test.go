package watcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/multiplier-bet-platform/internal/round-engine/fanout"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

func tick(t *testing.T, seq uint64, idx int) events.Envelope {
	t.Helper()
	env, err := events.Wrap("multiplier", seq, events.MultiplierTick{RoundID: "r1", Index: idx, Multiplier: decimal.NewFromInt(1)})
	require.NoError(t, err)
	return env
}

type stateLog struct {
	mu  sync.Mutex
	all []Status
}

func (l *stateLog) add(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, s)
}

func (l *stateLog) states() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.all...)
}

func TestStreamDeliversHubEventsInOrder(t *testing.T) {
	hub := fanout.NewHub(fanout.HubConfig{Buffer: 64})
	srv := httptest.NewServer(hub.Handler("multiplier"))
	defer srv.Close()

	m := NewConnManager(Options{URL: wsURL(srv), InitialInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan events.Envelope, 16)
	done := make(chan error, 1)
	go func() {
		done <- m.Stream(ctx, func(env events.Envelope, _ events.Event) error {
			got <- env
			return nil
		})
	}()

	require.Eventually(t, func() bool { return hub.Subscribers("multiplier") == 1 }, 2*time.Second, 10*time.Millisecond)
	for i := 1; i <= 3; i++ {
		require.NoError(t, hub.Publish(ctx, "multiplier", tick(t, uint64(i), i)))
	}
	// duplicata at-least-once
	require.NoError(t, hub.Publish(ctx, "multiplier", tick(t, 3, 3)))
	require.NoError(t, hub.Publish(ctx, "multiplier", tick(t, 4, 4)))

	for want := uint64(1); want <= 4; want++ {
		select {
		case env := <-got:
			assert.Equal(t, want, env.Seq)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for seq %d", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)
		_ = c.WriteJSON(tick(t, uint64(n), int(n)))
		if n == 1 {
			return // derruba a primeira conexão
		}
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	log := &stateLog{}
	m := NewConnManager(Options{URL: wsURL(srv), InitialInterval: 10 * time.Millisecond, OnState: log.add})

	var seqs []uint64
	err := m.Stream(context.Background(), func(env events.Envelope, _ events.Event) error {
		seqs = append(seqs, env.Seq)
		if len(seqs) == 2 {
			return context.Canceled
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []uint64{1, 2}, seqs)

	var reconnecting bool
	for _, s := range log.states() {
		if s.State == StateReconnecting {
			reconnecting = true
		}
	}
	assert.True(t, reconnecting)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	for _, attempts := range []int{1, 3} {
		t.Run(fmt.Sprintf("max_%d", attempts), func(t *testing.T) {
			log := &stateLog{}
			m := NewConnManager(Options{URL: url, MaxAttempts: attempts, InitialInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond, OnState: log.add})

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := m.Acquire(ctx)
			require.ErrorIs(t, err, ErrGaveUp)

			states := log.states()
			require.Len(t, states, attempts+1)
			for i, s := range states[:attempts] {
				assert.Equal(t, StateConnecting, s.State)
				assert.Equal(t, i+1, s.Attempt)
				assert.Equal(t, attempts, s.MaxAttempts)
			}
			assert.Equal(t, StateFailed, states[attempts].State)
			assert.Error(t, states[attempts].Err)
		})
	}
}

func TestAcquireSharesOneConnection(t *testing.T) {
	hub := fanout.NewHub(fanout.HubConfig{Buffer: 8})
	srv := httptest.NewServer(hub.Handler("multiplier"))
	defer srv.Close()

	m := NewConnManager(Options{URL: wsURL(srv)})
	ctx := context.Background()

	c1, err := m.Acquire(ctx)
	require.NoError(t, err)
	c2, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	m.Release()
	require.Eventually(t, func() bool { return hub.Subscribers("multiplier") == 1 }, time.Second, 10*time.Millisecond)

	m.Release()
	require.Eventually(t, func() bool { return hub.Subscribers("multiplier") == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Close())
	_, err = m.Acquire(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
