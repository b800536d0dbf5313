package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/radieske/multiplier-bet-platform/internal/shared/money"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

// WalletEntry é uma linha do extrato da carteira em memória
type WalletEntry struct {
	UserID       string
	DeltaCents   int64
	BalanceAfter int64
	Description  string
	At           time.Time
}

// Memory implementa o Ledger em memória. Um único mutex faz o papel da transação:
// as mesmas checagens do Postgres rodam na mesma ordem.
type Memory struct {
	mu sync.Mutex

	rounds   map[string]Round
	bets     map[string]Bet
	byUser   map[string]map[string]string // user -> round -> bet
	cashouts map[string]CashOut           // bet -> cash-out
	wallets  map[string]int64
	entries  []WalletEntry
	house    map[string]HouseAccount

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		rounds:   map[string]Round{},
		bets:     map[string]Bet{},
		byUser:   map[string]map[string]string{},
		cashouts: map[string]CashOut{},
		wallets:  map[string]int64{},
		house:    map[string]HouseAccount{},
		now:      time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CreateRound(_ context.Context, nr NewRound) (Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.rounds {
		if r.GameType == nr.GameType && r.Phase != events.PhaseEnded {
			return Round{}, ErrLiveRoundExists
		}
	}
	r := Round{
		ID:             uuid.New().String(),
		GameType:       nr.GameType,
		Phase:          events.PhaseBetting,
		StartTime:      nr.StartTime,
		BettingEndTime: nr.BettingEndTime,
		RoundEndTime:   nr.RoundEndTime,
		ProfitMargin:   nr.ProfitMargin,
		Seed:           nr.Seed,
		SeedHash:       nr.SeedHash,
		Samples:        nr.Samples,
		CreatedAt:      m.now(),
	}
	m.rounds[r.ID] = r
	return r, nil
}

func (m *Memory) LiveRound(_ context.Context, gameType string) (Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rounds {
		if r.GameType == gameType && r.Phase != events.PhaseEnded {
			return r, nil
		}
	}
	return Round{}, ErrRoundNotFound
}

func (m *Memory) GetRound(_ context.Context, roundID string) (Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok {
		return Round{}, ErrRoundNotFound
	}
	return r, nil
}

func (m *Memory) StartRunning(_ context.Context, roundID string, roundEnd time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok || r.Phase != events.PhaseBetting {
		return ErrPhaseConflict
	}
	r.Phase = events.PhaseRunning
	r.RoundEndTime = roundEnd
	m.rounds[roundID] = r
	return nil
}

func (m *Memory) EndRound(_ context.Context, roundID string, final decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[roundID]
	if !ok || r.Phase != events.PhaseRunning || r.FinalMultiplier.Valid {
		return ErrPhaseConflict
	}
	r.Phase = events.PhaseEnded
	r.FinalMultiplier = decimal.NewNullDecimal(final.RoundBank(money.Places))
	m.rounds[roundID] = r
	return nil
}

func (m *Memory) PlaceBet(_ context.Context, in PlaceBetParams) (PlaceBetResult, error) {
	if err := checkAmount(in.AmountCents, in.Limits); err != nil {
		return PlaceBetResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.wallets[in.UserID]
	if !ok {
		return PlaceBetResult{}, ErrInsufficientBalance
	}
	r, ok := m.rounds[in.RoundID]
	if !ok {
		return PlaceBetResult{}, ErrRoundNotFound
	}
	if r.Phase != events.PhaseBetting || !in.At.Before(r.BettingEndTime) {
		return PlaceBetResult{}, ErrRoundClosed
	}
	if _, exists := m.byUser[in.UserID][in.RoundID]; exists {
		return PlaceBetResult{}, ErrAlreadyBet
	}
	if balance < in.AmountCents {
		return PlaceBetResult{}, ErrInsufficientBalance
	}
	if in.Limits.DailyCapCents > 0 {
		if m.stakedSince(in.UserID, in.At.Add(-DailyWindow))+in.AmountCents > in.Limits.DailyCapCents {
			return PlaceBetResult{}, ErrLimitExceeded
		}
	}
	h, ok := m.house[r.GameType]
	if !ok {
		return PlaceBetResult{}, ErrHouseAccountMissing
	}

	bet := Bet{
		ID:          uuid.New().String(),
		UserID:      in.UserID,
		RoundID:     in.RoundID,
		AmountCents: in.AmountCents,
		Status:      BetPending,
		CreatedAt:   in.At,
	}
	newBalance := m.adjust(in.UserID, -in.AmountCents, "bet:"+bet.ID)
	m.applyHouse(h, in.AmountCents, 0)

	m.bets[bet.ID] = bet
	if m.byUser[in.UserID] == nil {
		m.byUser[in.UserID] = map[string]string{}
	}
	m.byUser[in.UserID][in.RoundID] = bet.ID

	return PlaceBetResult{Bet: bet, NewBalanceCents: newBalance}, nil
}

func (m *Memory) stakedSince(userID string, since time.Time) int64 {
	var total int64
	for _, betID := range m.byUser[userID] {
		if b := m.bets[betID]; b.CreatedAt.After(since) {
			total += b.AmountCents
		}
	}
	return total
}

func (m *Memory) CashOut(_ context.Context, in CashOutParams) (CashOutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rounds[in.RoundID]
	if !ok {
		return CashOutResult{}, ErrRoundNotFound
	}
	betID, ok := m.byUser[in.UserID][in.RoundID]
	if !ok {
		return CashOutResult{}, ErrNoBet
	}
	bet := m.bets[betID]
	if _, done := m.cashouts[betID]; done || bet.Status != BetPending {
		return CashOutResult{}, ErrAlreadySettled
	}
	if r.Phase != events.PhaseRunning || !in.At.Before(r.RoundEndTime.Add(-in.Grace)) {
		return CashOutResult{}, ErrRoundClosed
	}
	h, ok := m.house[r.GameType]
	if !ok {
		return CashOutResult{}, ErrHouseAccountMissing
	}

	mult := in.Multiplier.RoundBank(money.Places)
	win := money.WinCents(bet.AmountCents, mult)
	co := CashOut{
		ID:          uuid.New().String(),
		BetID:       betID,
		UserID:      in.UserID,
		RoundID:     in.RoundID,
		Multiplier:  mult,
		AmountCents: win,
		CreatedAt:   in.At,
	}
	m.cashouts[betID] = co
	bet = m.complete(bet, mult, win, SettledByCashOut, in.At)
	newBalance := m.adjust(in.UserID, win, "cashout:"+betID)
	m.applyHouse(h, 0, win)

	return CashOutResult{CashOut: co, Bet: bet, NewBalanceCents: newBalance}, nil
}

func (m *Memory) PendingBets(_ context.Context, roundID string) ([]Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bet
	for _, b := range m.bets {
		if b.RoundID == roundID && b.Status == BetPending {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SettleBet(_ context.Context, betID string, final decimal.Decimal, at time.Time) (SettleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bet, ok := m.bets[betID]
	if !ok {
		return SettleResult{}, ErrNoBet
	}
	if bet.Status != BetPending {
		return SettleResult{}, ErrAlreadySettled
	}
	r := m.rounds[bet.RoundID]
	if r.Phase != events.PhaseEnded {
		return SettleResult{}, ErrPhaseConflict
	}
	h, ok := m.house[r.GameType]
	if !ok {
		return SettleResult{}, ErrHouseAccountMissing
	}

	mult := final.RoundBank(money.Places)
	win := money.WinCents(bet.AmountCents, mult)
	bet = m.complete(bet, mult, win, SettledByAuto, at)
	newBalance := m.adjust(bet.UserID, win, "settle:"+betID)
	m.applyHouse(h, 0, win)

	return SettleResult{Bet: bet, NewBalanceCents: newBalance}, nil
}

func (m *Memory) UserBet(_ context.Context, userID, roundID string) (Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	betID, ok := m.byUser[userID][roundID]
	if !ok {
		return Bet{}, ErrNoBet
	}
	return m.bets[betID], nil
}

func (m *Memory) UnsettledRounds(_ context.Context, gameType string) ([]Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []Round
	for _, b := range m.bets {
		r := m.rounds[b.RoundID]
		if b.Status != BetPending || r.GameType != gameType || r.Phase != events.PhaseEnded || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) complete(bet Bet, mult decimal.Decimal, win int64, by string, at time.Time) Bet {
	bet.Status = BetCompleted
	bet.ResultMultiplier = decimal.NewNullDecimal(mult)
	bet.WinCents = win
	bet.SettledBy = by
	bet.SettledAt = &at
	m.bets[bet.ID] = bet
	return bet
}

// adjust exige mu travado; o chamador já validou o saldo
func (m *Memory) adjust(userID string, delta int64, ref string) int64 {
	balance := m.wallets[userID] + delta
	m.wallets[userID] = balance
	m.entries = append(m.entries, WalletEntry{
		UserID:       userID,
		DeltaCents:   delta,
		BalanceAfter: balance,
		Description:  ref,
		At:           m.now(),
	})
	return balance
}

func (m *Memory) applyHouse(h HouseAccount, stake, payout int64) {
	h.BalanceCents += stake - payout
	h.TotalBetCents += stake
	h.TotalPayoutCents += payout
	h.UpdatedAt = m.now()
	m.house[h.GameType] = h
}

func (m *Memory) GetBalance(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[userID], nil
}

func (m *Memory) AdjustBalance(_ context.Context, userID string, deltaCents int64, ref string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wallets[userID]+deltaCents < 0 {
		return 0, ErrInsufficientBalance
	}
	return m.adjust(userID, deltaCents, ref), nil
}

// Entries devolve uma cópia do extrato de um usuário
func (m *Memory) Entries(userID string) []WalletEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WalletEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) EnsureHouseAccount(_ context.Context, gameType string, margin decimal.Decimal) (HouseAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.house[gameType]
	if !ok {
		h = HouseAccount{GameType: gameType, ProfitMargin: margin, UpdatedAt: m.now()}
		m.house[gameType] = h
	}
	return h, nil
}

func (m *Memory) HouseAccount(_ context.Context, gameType string) (HouseAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.house[gameType]
	if !ok {
		return HouseAccount{}, ErrHouseAccountMissing
	}
	return h, nil
}

var (
	_ Ledger = (*Memory)(nil)
	_ Ledger = (*Postgres)(nil)
)
