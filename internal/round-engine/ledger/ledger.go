package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Janela do limite diário de stake por usuário
const DailyWindow = 24 * time.Hour

var (
	ErrRoundNotFound       = errors.New("round not found")
	ErrLiveRoundExists     = errors.New("live round already exists for game type")
	ErrPhaseConflict       = errors.New("round phase changed concurrently")
	ErrRoundClosed         = errors.New("round closed for this action")
	ErrAlreadyBet          = errors.New("bet already placed for round")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrLimitExceeded       = errors.New("daily stake limit exceeded")
	ErrAmountOutOfRange    = errors.New("amount out of range")
	ErrNoBet               = errors.New("no bet for round")
	ErrAlreadySettled      = errors.New("bet already settled")
	ErrHouseAccountMissing = errors.New("house account missing")
)

// BalanceStore é o saldo do jogador. Dentro do Ledger os mesmos ajustes rodam na
// transação da operação que os justifica.
type BalanceStore interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	AdjustBalance(ctx context.Context, userID string, deltaCents int64, ref string) (int64, error)
}

// Ledger é o registro persistente de rodadas, apostas e cash-outs.
// Toda operação que move saldo é atômica: saldo, aposta e conta da casa mudam
// juntos ou não mudam.
type Ledger interface {
	BalanceStore

	CreateRound(ctx context.Context, r NewRound) (Round, error)
	LiveRound(ctx context.Context, gameType string) (Round, error)
	GetRound(ctx context.Context, roundID string) (Round, error)
	// StartRunning faz o CAS BETTING -> RUNNING
	StartRunning(ctx context.Context, roundID string, roundEnd time.Time) error
	// EndRound faz o CAS RUNNING -> ENDED e fixa o multiplicador final uma única vez
	EndRound(ctx context.Context, roundID string, final decimal.Decimal) error

	PlaceBet(ctx context.Context, in PlaceBetParams) (PlaceBetResult, error)
	CashOut(ctx context.Context, in CashOutParams) (CashOutResult, error)
	PendingBets(ctx context.Context, roundID string) ([]Bet, error)
	// SettleBet é a liquidação automática; perde para um cash-out já registrado
	SettleBet(ctx context.Context, betID string, final decimal.Decimal, at time.Time) (SettleResult, error)
	UserBet(ctx context.Context, userID, roundID string) (Bet, error)
	// UnsettledRounds lista rodadas ENDED que ainda têm apostas PENDING (queda no meio da liquidação)
	UnsettledRounds(ctx context.Context, gameType string) ([]Round, error)

	EnsureHouseAccount(ctx context.Context, gameType string, margin decimal.Decimal) (HouseAccount, error)
	HouseAccount(ctx context.Context, gameType string) (HouseAccount, error)

	Ping(ctx context.Context) error
}

// checkAmount valida a faixa [min, max] configurada
func checkAmount(amount int64, l Limits) error {
	if amount <= 0 || amount < l.MinBetCents || (l.MaxBetCents > 0 && amount > l.MaxBetCents) {
		return ErrAmountOutOfRange
	}
	return nil
}
