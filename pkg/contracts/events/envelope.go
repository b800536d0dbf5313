package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifica a variante de uma mensagem do canal de fan-out
type Type string

const (
	TypePhaseChanged   Type = "phase_changed"
	TypeMultiplierTick Type = "multiplier_tick"
	TypeRoundSettled   Type = "round_settled"
	TypeBetPlaced      Type = "bet_placed"
	TypeCashOutMade    Type = "cashout_made"
)

// Event é implementado pelo conjunto fechado de mensagens do jogo
type Event interface {
	EventType() Type
	Round() string
}

// Envelope é o formato no fio (Redis, Kafka, WebSocket).
// Seq é monotônico por produtor e permite ao cliente descartar duplicatas
// da entrega at-least-once.
type Envelope struct {
	Type     Type            `json:"type"`
	GameType string          `json:"gameType"`
	RoundID  string          `json:"roundId"`
	Seq      uint64          `json:"seq"`
	Ts       time.Time       `json:"ts"`
	Data     json.RawMessage `json:"data"`
}

var ErrUnknownType = errors.New("unknown event type")

// Wrap serializa um evento tipado em envelope
func Wrap(gameType string, seq uint64, ev Event) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	return Envelope{
		Type:     ev.EventType(),
		GameType: gameType,
		RoundID:  ev.Round(),
		Seq:      seq,
		Ts:       time.Now().UTC(),
		Data:     data,
	}, nil
}

// Decode converte o envelope de volta na variante tipada; tipos desconhecidos são erro
func Decode(env Envelope) (Event, error) {
	var ev Event
	switch env.Type {
	case TypePhaseChanged:
		ev = &PhaseChanged{}
	case TypeMultiplierTick:
		ev = &MultiplierTick{}
	case TypeRoundSettled:
		ev = &RoundSettled{}
	case TypeBetPlaced:
		ev = &BetPlaced{}
	case TypeCashOutMade:
		ev = &CashOutMade{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}

// Parse decodifica bytes crus (payload de Redis/Kafka/WS) em envelope + evento
func Parse(raw []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	ev, err := Decode(env)
	if err != nil {
		return env, nil, err
	}
	return env, ev, nil
}
