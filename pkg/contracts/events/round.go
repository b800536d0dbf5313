package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase é a fase do ciclo de vida da rodada
type Phase string

const (
	PhaseBetting Phase = "BETTING"
	PhaseRunning Phase = "RUNNING"
	PhaseEnded   Phase = "ENDED"
)

// Ordinal dá a ordem total BETTING < RUNNING < ENDED
func (p Phase) Ordinal() int {
	switch p {
	case PhaseBetting:
		return 0
	case PhaseRunning:
		return 1
	case PhaseEnded:
		return 2
	}
	return -1
}

// PhaseChanged é emitido a cada transição de fase.
// BettingEndTime vem preenchido em BETTING; RoundEndTime em RUNNING.
// SeedHash é o compromisso SHA-256 da seed, revelada só em RoundSettled.
type PhaseChanged struct {
	RoundID        string     `json:"roundId"`
	Phase          Phase      `json:"phase"`
	BettingEndTime *time.Time `json:"bettingEndTime,omitempty"`
	RoundEndTime   *time.Time `json:"roundEndTime,omitempty"`
	SeedHash       string     `json:"seedHash,omitempty"`
}

func (PhaseChanged) EventType() Type { return TypePhaseChanged }
func (e PhaseChanged) Round() string { return e.RoundID }

// MultiplierTick carrega o valor do cursor (2 casas decimais)
type MultiplierTick struct {
	RoundID    string          `json:"roundId"`
	Index      int             `json:"index"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

func (MultiplierTick) EventType() Type { return TypeMultiplierTick }
func (e MultiplierTick) Round() string { return e.RoundID }

// RoundSettled fecha a rodada e revela o material necessário para replay
type RoundSettled struct {
	RoundID         string          `json:"roundId"`
	FinalMultiplier decimal.Decimal `json:"finalMultiplier"`
	Seed            string          `json:"seed,omitempty"`
	SeedHash        string          `json:"seedHash,omitempty"`
	ProfitMargin    decimal.Decimal `json:"profitMargin"`
	Samples         int             `json:"samples,omitempty"`
	SettledBets     int             `json:"settledBets"`
	FailedBets      int             `json:"failedBets"`
}

func (RoundSettled) EventType() Type { return TypeRoundSettled }
func (e RoundSettled) Round() string { return e.RoundID }
