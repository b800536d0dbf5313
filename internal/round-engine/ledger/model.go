package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

// Round é o registro append-only de uma rodada
type Round struct {
	ID              string
	GameType        string
	Phase           events.Phase
	StartTime       time.Time
	BettingEndTime  time.Time
	RoundEndTime    time.Time
	FinalMultiplier decimal.NullDecimal
	ProfitMargin    decimal.Decimal
	Seed            string // hex; só pode ser exposta depois de ENDED
	SeedHash        string
	Samples         int
	CreatedAt       time.Time
}

type NewRound struct {
	GameType       string
	Seed           string
	SeedHash       string
	ProfitMargin   decimal.Decimal
	Samples        int
	StartTime      time.Time
	BettingEndTime time.Time
	RoundEndTime   time.Time
}

type BetStatus string

const (
	BetPending   BetStatus = "PENDING"
	BetCompleted BetStatus = "COMPLETED"
)

// Caminho de liquidação que venceu a corrida pela aposta
const (
	SettledByCashOut = "CASHOUT"
	SettledByAuto    = "AUTO"
)

type Bet struct {
	ID               string
	UserID           string
	RoundID          string
	AmountCents      int64
	Status           BetStatus
	ResultMultiplier decimal.NullDecimal
	WinCents         int64
	SettledBy        string
	CreatedAt        time.Time
	SettledAt        *time.Time
}

type CashOut struct {
	ID          string
	BetID       string
	UserID      string
	RoundID     string
	Multiplier  decimal.Decimal
	AmountCents int64
	CreatedAt   time.Time
}

// HouseAccount acumula stake e payout por tipo de jogo
type HouseAccount struct {
	GameType         string
	BalanceCents     int64
	TotalBetCents    int64
	TotalPayoutCents int64
	ProfitMargin     decimal.Decimal
	UpdatedAt        time.Time
}

// Limits são os limites de aposta vigentes no momento do pedido
type Limits struct {
	MinBetCents   int64
	MaxBetCents   int64
	DailyCapCents int64
}

type PlaceBetParams struct {
	UserID      string
	RoundID     string
	AmountCents int64
	At          time.Time
	Limits      Limits
}

type PlaceBetResult struct {
	Bet             Bet
	NewBalanceCents int64
}

type CashOutParams struct {
	UserID     string
	RoundID    string
	Multiplier decimal.Decimal
	At         time.Time
	Grace      time.Duration
}

type CashOutResult struct {
	CashOut         CashOut
	Bet             Bet
	NewBalanceCents int64
}

type SettleResult struct {
	Bet             Bet
	NewBalanceCents int64
}
