package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundState é o snapshot autoritativo da rodada corrente.
// Servido em /v1/rounds/current, guardado no Redis para gateways sem estado
// e enviado a cada cliente WebSocket na conexão.
type RoundState struct {
	GameType       string          `json:"gameType"`
	RoundID        string          `json:"roundId"`
	Phase          Phase           `json:"phase"`
	StartTime      time.Time       `json:"startTime"`
	BettingEndTime time.Time       `json:"bettingEndTime"`
	RoundEndTime   time.Time       `json:"roundEndTime"`
	SeedHash       string          `json:"seedHash"`
	TickIndex      int             `json:"tickIndex"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	PrevMultiplier decimal.Decimal `json:"prevMultiplier"`
	Seq            uint64          `json:"seq"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Live indica se existe uma rodada carregada no snapshot
func (s RoundState) Live() bool { return s.RoundID != "" }

// Envelopes traduz o snapshot nas mensagens do canal, para quem conecta no meio da rodada
func (s RoundState) Envelopes() ([]Envelope, error) {
	if !s.Live() {
		return nil, nil
	}
	pc := PhaseChanged{RoundID: s.RoundID, Phase: s.Phase, SeedHash: s.SeedHash}
	switch s.Phase {
	case PhaseBetting:
		t := s.BettingEndTime
		pc.BettingEndTime = &t
	case PhaseRunning:
		t := s.RoundEndTime
		pc.RoundEndTime = &t
	}
	first, err := Wrap(s.GameType, s.Seq, pc)
	if err != nil {
		return nil, err
	}
	out := []Envelope{first}
	if s.Phase == PhaseRunning {
		tick, err := Wrap(s.GameType, s.Seq, MultiplierTick{RoundID: s.RoundID, Index: s.TickIndex, Multiplier: s.Multiplier})
		if err != nil {
			return nil, err
		}
		out = append(out, tick)
	}
	return out, nil
}
