package fanout

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	defaultBuffer  = 256
)

// ClientMsg representa uma mensagem recebida do cliente WebSocket.
// O canal é só de saída; o cliente apenas faz ping.
type ClientMsg struct {
	Type string `json:"type"` // ping
}

// SnapshotFunc devolve o estado corrente enviado a quem acabou de conectar
type SnapshotFunc func(ctx context.Context) (events.RoundState, error)

type HubConfig struct {
	AllowOrigin func(r *http.Request) bool
	Buffer      int // fila por assinante
	Snapshot    SnapshotFunc
	Log         *zap.Logger
	Metrics     *metrics.Game
}

// Hub distribui envelopes a assinantes locais (conexões WebSocket ou consumidores
// em processo). Cada assinante tem fila própria: a ordem é FIFO por assinante e um
// assinante lento é desligado em vez de atrasar os outros.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	snapshot SnapshotFunc
	log      *zap.Logger
	metrics  *metrics.Game

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{} // topic -> assinantes
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(cfg HubConfig) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: cfg.AllowOrigin},
		buffer:   cfg.Buffer,
		snapshot: cfg.Snapshot,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		subs:     make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription é a fila de um assinante. Events é fechado quando a assinatura
// termina, seja por Close ou por estouro da fila.
type Subscription struct {
	hub      *Hub
	topic    string
	ch       chan events.Envelope
	closed   bool // protegido por hub.mu
	overflow bool // protegido por hub.mu
}

func (s *Subscription) Events() <-chan events.Envelope { return s.ch }

// Close encerra apenas esta assinatura; idempotente
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s)
}

// Overflowed indica se a assinatura caiu por não acompanhar o fluxo
func (s *Subscription) Overflowed() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.overflow
}

func (h *Hub) Subscribe(topic string) *Subscription {
	s := &Subscription{hub: h, topic: topic, ch: make(chan events.Envelope, h.buffer)}
	h.mu.Lock()
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[*Subscription]struct{})
	}
	h.subs[topic][s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Publish enfileira o envelope para todos os assinantes do tópico sem bloquear.
// Envios e fechamentos acontecem sob o mesmo lock, então a ordem de publicação é
// a mesma para todos.
func (h *Hub) Publish(_ context.Context, topic string, env events.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[topic] {
		select {
		case s.ch <- env:
		default:
			s.overflow = true
			h.removeLocked(s)
			h.log.Warn("subscriber dropped: queue full", zap.String("topic", topic))
		}
	}
	return nil
}

// Subscribers retorna quantos assinantes o tópico tem
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[topic])
}

func (h *Hub) removeLocked(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	if m, ok := h.subs[s.topic]; ok {
		delete(m, s)
		if len(m) == 0 {
			delete(h.subs, s.topic)
		}
	}
}

// Handler gerencia o ciclo de vida de conexões WebSocket de um tópico.
// A assinatura é criada antes do snapshot, então nada publicado depois dele se perde;
// eventos de rodada já cobertos pelo snapshot são descartados pelo writeLoop.
func (h *Hub) Handler(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.metrics.WSConnected(1)
		defer h.metrics.WSConnected(-1)

		sub := h.Subscribe(topic)
		defer sub.Close()

		var (
			initial []events.Envelope
			floor   uint64
		)
		if h.snapshot != nil {
			st, err := h.snapshot(r.Context())
			switch {
			case err == nil:
				initial, err = st.Envelopes()
				if err != nil {
					h.log.Warn("snapshot encode failed", zap.Error(err))
				} else if len(initial) > 0 {
					floor = st.Seq
				}
			case !errors.Is(err, ErrNoSnapshot):
				h.log.Warn("snapshot unavailable", zap.Error(err))
			}
		}

		pongs := make(chan struct{}, 1)
		done := make(chan struct{})
		go h.writeLoop(conn, sub, initial, floor, pongs, done)
		h.readLoop(conn, pongs)
		close(done)
		_ = conn.Close()
	}
}

// readLoop responde pings de aplicação e mantém o deadline via pong
func (h *Hub) readLoop(conn *websocket.Conn, pongs chan<- struct{}) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

// writeLoop é o único escritor da conexão
func (h *Hub) writeLoop(conn *websocket.Conn, sub *Subscription, initial []events.Envelope, floor uint64, pongs <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	for _, env := range initial {
		if err := write(env); err != nil {
			return
		}
	}
	for {
		select {
		case env, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "slow consumer"),
					time.Now().Add(writeWait))
				return
			}
			if covered(env, floor) {
				continue
			}
			if err := write(env); err != nil {
				return
			}
		case <-pongs:
			if err := write(map[string]string{"type": "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// covered diz se um evento do motor é anterior ou igual ao snapshot enviado.
// Eventos do gateway têm sequência própria e nunca são descartados.
func covered(env events.Envelope, floor uint64) bool {
	switch env.Type {
	case events.TypePhaseChanged, events.TypeMultiplierTick, events.TypeRoundSettled:
		return env.Seq <= floor
	}
	return false
}
