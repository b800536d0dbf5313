package watcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/shared/retry"
)

// State é a fase da conexão exposta ao chamador (UI, logs)
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Status acompanha cada mudança de estado; Attempt/MaxAttempts só valem ao discar
type Status struct {
	State       State
	Attempt     int
	MaxAttempts int
	Err         error
}

var (
	ErrGaveUp = errors.New("websocket reconnect attempts exhausted")
	ErrClosed = errors.New("connection manager closed")
)

type Options struct {
	URL             string
	Header          http.Header
	MaxAttempts     int // tentativas por ciclo de conexão; default 5
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Dialer          *websocket.Dialer
	OnState         func(Status)
	Log             *zap.Logger
}

// ConnManager mantém uma única conexão WebSocket por processo.
// Acquire disca na primeira chamada, Release fecha quando o último usuário solta,
// Reconnect troca a conexão atual por uma nova.
type ConnManager struct {
	opts Options

	mu     sync.Mutex
	conn   *websocket.Conn
	refs   int
	closed bool
}

func NewConnManager(opts Options) *ConnManager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 250 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &ConnManager{opts: opts}
}

// Acquire devolve a conexão compartilhada, discando se ainda não existir
func (m *ConnManager) Acquire(ctx context.Context) (*websocket.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.conn == nil {
		conn, err := m.dialLocked(ctx, StateConnecting)
		if err != nil {
			return nil, err
		}
		m.conn = conn
	}
	m.refs++
	return m.conn, nil
}

// Release devolve a referência; a última fecha a conexão
func (m *ConnManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs > 0 {
		m.refs--
	}
	if m.refs == 0 && m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
		m.emit(Status{State: StateClosed})
	}
}

// Reconnect descarta a conexão atual e disca de novo, com backoff limitado a MaxAttempts
func (m *ConnManager) Reconnect(ctx context.Context) (*websocket.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	conn, err := m.dialLocked(ctx, StateReconnecting)
	if err != nil {
		return nil, err
	}
	m.conn = conn
	return conn, nil
}

// Close encerra a conexão e impede novos Acquire
func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.refs = 0
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	m.emit(Status{State: StateClosed})
	return err
}

// interrupt desbloqueia a leitura em andamento sem fechar a conexão
func (m *ConnManager) interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.SetReadDeadline(time.Now())
	}
}

func (m *ConnManager) dialLocked(ctx context.Context, state State) (*websocket.Conn, error) {
	var (
		conn    *websocket.Conn
		attempt int
		lastErr error
	)
	err := retry.Exponential(ctx, func() error {
		attempt++
		m.emit(Status{State: state, Attempt: attempt, MaxAttempts: m.opts.MaxAttempts})
		c, _, err := m.opts.Dialer.DialContext(ctx, m.opts.URL, m.opts.Header)
		if err != nil {
			lastErr = err
			m.opts.Log.Warn("websocket dial failed",
				zap.String("url", m.opts.URL),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", m.opts.MaxAttempts),
				zap.Error(err))
			return err
		}
		conn = c
		return nil
	}, retry.ExponentialConfig{
		InitialInterval: m.opts.InitialInterval,
		MaxInterval:     m.opts.MaxInterval,
		MaxAttempts:     uint64(m.opts.MaxAttempts),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.emit(Status{State: StateFailed, Attempt: attempt, MaxAttempts: m.opts.MaxAttempts, Err: lastErr})
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, attempt, lastErr)
	}

	m.opts.Log.Info("connected to round stream", zap.String("url", m.opts.URL), zap.Int("attempt", attempt))
	m.emit(Status{State: StateConnected, Attempt: attempt, MaxAttempts: m.opts.MaxAttempts})
	return conn, nil
}

func (m *ConnManager) emit(s Status) {
	if m.opts.OnState != nil {
		m.opts.OnState(s)
	}
}
