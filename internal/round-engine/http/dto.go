package httpapi

import (
	"time"

	"github.com/radieske/multiplier-bet-platform/internal/round-engine/ledger"
	"github.com/radieske/multiplier-bet-platform/internal/shared/money"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

type PlaceBetRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// CashOutRequest leva o multiplicador que o cliente estava vendo, ex: "1.50"
type CashOutRequest struct {
	Multiplier string `json:"multiplier" validate:"required,numeric"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Class     string `json:"class,omitempty"`
	Retryable bool   `json:"retryable"`
}

type WalletResponse struct {
	UserID       string `json:"userId"`
	BalanceCents int64  `json:"balanceCents"`
	Balance      string `json:"balance"`
}

type HouseResponse struct {
	GameType         string `json:"gameType"`
	BalanceCents     int64  `json:"balanceCents"`
	TotalBetCents    int64  `json:"totalBetCents"`
	TotalPayoutCents int64  `json:"totalPayoutCents"`
	ProfitMargin     string `json:"profitMargin"`
}

// RoundResponse nunca expõe a seed antes de ENDED
type RoundResponse struct {
	ID              string       `json:"id"`
	GameType        string       `json:"gameType"`
	Phase           events.Phase `json:"phase"`
	StartTime       time.Time    `json:"startTime"`
	BettingEndTime  time.Time    `json:"bettingEndTime"`
	RoundEndTime    time.Time    `json:"roundEndTime"`
	FinalMultiplier string       `json:"finalMultiplier,omitempty"`
	ProfitMargin    string       `json:"profitMargin"`
	SeedHash        string       `json:"seedHash"`
	Seed            string       `json:"seed,omitempty"`
	Samples         int          `json:"samples"`
}

type BetResponse struct {
	ID               string `json:"id"`
	RoundID          string `json:"roundId"`
	AmountCents      int64  `json:"amountCents"`
	Status           string `json:"status"`
	ResultMultiplier string `json:"resultMultiplier,omitempty"`
	WinCents         int64  `json:"winCents"`
	SettledBy        string `json:"settledBy,omitempty"`
}

func roundResponse(r ledger.Round) RoundResponse {
	out := RoundResponse{
		ID:             r.ID,
		GameType:       r.GameType,
		Phase:          r.Phase,
		StartTime:      r.StartTime,
		BettingEndTime: r.BettingEndTime,
		RoundEndTime:   r.RoundEndTime,
		ProfitMargin:   r.ProfitMargin.String(),
		SeedHash:       r.SeedHash,
		Samples:        r.Samples,
	}
	if r.FinalMultiplier.Valid {
		out.FinalMultiplier = r.FinalMultiplier.Decimal.StringFixed(money.Places)
	}
	if r.Phase == events.PhaseEnded {
		out.Seed = r.Seed
	}
	return out
}

func betResponse(b ledger.Bet) BetResponse {
	out := BetResponse{
		ID:          b.ID,
		RoundID:     b.RoundID,
		AmountCents: b.AmountCents,
		Status:      string(b.Status),
		WinCents:    b.WinCents,
		SettledBy:   b.SettledBy,
	}
	if b.ResultMultiplier.Valid {
		out.ResultMultiplier = b.ResultMultiplier.Decimal.StringFixed(money.Places)
	}
	return out
}
