package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

var testLimits = Limits{MinBetCents: 100, MaxBetCents: 1_000_000, DailyCapCents: 5_000_000}

type fixture struct {
	l     Ledger
	game  string
	start time.Time
}

func newFixture(t *testing.T, l Ledger) *fixture {
	t.Helper()
	f := &fixture{l: l, game: "g-" + uuid.NewString()[:8], start: time.Now().UTC().Truncate(time.Millisecond)}
	_, err := l.EnsureHouseAccount(context.Background(), f.game, decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	return f
}

func (f *fixture) round(t *testing.T) Round {
	t.Helper()
	r, err := f.l.CreateRound(context.Background(), NewRound{
		GameType:       f.game,
		Seed:           "00",
		SeedHash:       "hash",
		ProfitMargin:   decimal.RequireFromString("0.05"),
		Samples:        101,
		StartTime:      f.start,
		BettingEndTime: f.start.Add(5 * time.Second),
		RoundEndTime:   f.start.Add(25 * time.Second),
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) user(t *testing.T, cents int64) string {
	t.Helper()
	u := "u-" + uuid.NewString()
	_, err := f.l.AdjustBalance(context.Background(), u, cents, "deposit:test")
	require.NoError(t, err)
	return u
}

func (f *fixture) bet(t *testing.T, user string, r Round, cents int64) Bet {
	t.Helper()
	res, err := f.l.PlaceBet(context.Background(), PlaceBetParams{
		UserID: user, RoundID: r.ID, AmountCents: cents, At: f.start.Add(time.Second), Limits: testLimits,
	})
	require.NoError(t, err)
	return res.Bet
}

func (f *fixture) run(t *testing.T, r Round) {
	t.Helper()
	require.NoError(t, f.l.StartRunning(context.Background(), r.ID, f.start.Add(25*time.Second)))
}

func (f *fixture) end(t *testing.T, r Round, final string) {
	t.Helper()
	require.NoError(t, f.l.EndRound(context.Background(), r.ID, decimal.RequireFromString(final)))
}

func (f *fixture) balance(t *testing.T, user string) int64 {
	t.Helper()
	b, err := f.l.GetBalance(context.Background(), user)
	require.NoError(t, err)
	return b
}

func (f *fixture) assertHouse(t *testing.T, stake, payout int64) {
	t.Helper()
	h, err := f.l.HouseAccount(context.Background(), f.game)
	require.NoError(t, err)
	assert.Equal(t, stake, h.TotalBetCents)
	assert.Equal(t, payout, h.TotalPayoutCents)
	assert.Equal(t, h.TotalBetCents-h.TotalPayoutCents, h.BalanceCents)
}

// runLedgerSuite roda o mesmo contrato contra qualquer implementação
func runLedgerSuite(t *testing.T, newLedger func(t *testing.T) Ledger) {
	ctx := context.Background()

	t.Run("place bet debits wallet and credits house", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)
		u := f.user(t, 50_000)

		res, err := f.l.PlaceBet(ctx, PlaceBetParams{UserID: u, RoundID: r.ID, AmountCents: 10_000, At: f.start, Limits: testLimits})
		require.NoError(t, err)
		assert.Equal(t, int64(40_000), res.NewBalanceCents)
		assert.Equal(t, BetPending, res.Bet.Status)
		assert.Equal(t, int64(40_000), f.balance(t, u))
		f.assertHouse(t, 10_000, 0)
	})

	t.Run("second bet in the same round is rejected", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)
		u := f.user(t, 50_000)
		f.bet(t, u, r, 1_000)

		_, err := f.l.PlaceBet(ctx, PlaceBetParams{UserID: u, RoundID: r.ID, AmountCents: 1_000, At: f.start, Limits: testLimits})
		assert.ErrorIs(t, err, ErrAlreadyBet)
		assert.Equal(t, int64(49_000), f.balance(t, u))
	})

	t.Run("concurrent bets from one user yield exactly one bet", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)
		u := f.user(t, 50_000)

		const n = 10
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.l.PlaceBet(ctx, PlaceBetParams{UserID: u, RoundID: r.ID, AmountCents: 1_000, At: f.start, Limits: testLimits})
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, ErrAlreadyBet)
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, int64(49_000), f.balance(t, u))
		f.assertHouse(t, 1_000, 0)
	})

	t.Run("bet rejections", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)
		rich := f.user(t, 10_000_000)
		poor := f.user(t, 500)

		tests := []struct {
			name   string
			user   string
			amount int64
			at     time.Time
			limits Limits
			want   error
		}{
			{"below minimum", rich, 99, f.start, testLimits, ErrAmountOutOfRange},
			{"above maximum", rich, 1_000_001, f.start, testLimits, ErrAmountOutOfRange},
			{"zero", rich, 0, f.start, testLimits, ErrAmountOutOfRange},
			{"insufficient balance", poor, 501, f.start, testLimits, ErrInsufficientBalance},
			{"unknown wallet", "nobody-" + uuid.NewString(), 100, f.start, testLimits, ErrInsufficientBalance},
			{"at betting end", rich, 100, r.BettingEndTime, testLimits, ErrRoundClosed},
			{"daily cap", rich, 1_000, f.start, Limits{MinBetCents: 100, MaxBetCents: 10_000, DailyCapCents: 500}, ErrLimitExceeded},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.l.PlaceBet(ctx, PlaceBetParams{UserID: tt.user, RoundID: r.ID, AmountCents: tt.amount, At: tt.at, Limits: tt.limits})
				assert.ErrorIs(t, err, tt.want)
			})
		}
		assert.Equal(t, int64(10_000_000), f.balance(t, rich))
		assert.Equal(t, int64(500), f.balance(t, poor))
		f.assertHouse(t, 0, 0)
	})

	t.Run("daily cap spans rounds", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		u := f.user(t, 100_000)
		limits := Limits{MinBetCents: 100, MaxBetCents: 10_000, DailyCapCents: 1_500}

		r1 := f.round(t)
		_, err := f.l.PlaceBet(ctx, PlaceBetParams{UserID: u, RoundID: r1.ID, AmountCents: 1_000, At: f.start, Limits: limits})
		require.NoError(t, err)
		f.run(t, r1)
		f.end(t, r1, "1.00")

		r2 := f.round(t)
		_, err = f.l.PlaceBet(ctx, PlaceBetParams{UserID: u, RoundID: r2.ID, AmountCents: 600, At: f.start.Add(time.Second), Limits: limits})
		assert.ErrorIs(t, err, ErrLimitExceeded)
		_, err = f.l.PlaceBet(ctx, PlaceBetParams{UserID: u, RoundID: r2.ID, AmountCents: 500, At: f.start.Add(time.Second), Limits: limits})
		assert.NoError(t, err)
	})

	t.Run("bet on running round is closed", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)
		f.run(t, r)
		u := f.user(t, 10_000)
		_, err := f.l.PlaceBet(ctx, PlaceBetParams{UserID: u, RoundID: r.ID, AmountCents: 1_000, At: f.start, Limits: testLimits})
		assert.ErrorIs(t, err, ErrRoundClosed)
	})

	t.Run("cash out 100.00 at 1.50 credits 150.00", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)
		u := f.user(t, 20_000)
		f.bet(t, u, r, 10_000)
		f.run(t, r)

		res, err := f.l.CashOut(ctx, CashOutParams{
			UserID: u, RoundID: r.ID, Multiplier: decimal.RequireFromString("1.50"),
			At: f.start.Add(10 * time.Second), Grace: 300 * time.Millisecond,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(15_000), res.CashOut.AmountCents)
		assert.Equal(t, int64(25_000), res.NewBalanceCents)
		assert.Equal(t, BetCompleted, res.Bet.Status)
		assert.Equal(t, SettledByCashOut, res.Bet.SettledBy)
		assert.True(t, res.Bet.ResultMultiplier.Decimal.Equal(decimal.RequireFromString("1.5")))
		f.assertHouse(t, 10_000, 15_000)

		_, err = f.l.CashOut(ctx, CashOutParams{
			UserID: u, RoundID: r.ID, Multiplier: decimal.RequireFromString("1.60"),
			At: f.start.Add(11 * time.Second), Grace: 300 * time.Millisecond,
		})
		assert.ErrorIs(t, err, ErrAlreadySettled)
		assert.Equal(t, int64(25_000), f.balance(t, u))

		f.end(t, r, "1.80")
		_, err = f.l.SettleBet(ctx, res.Bet.ID, decimal.RequireFromString("1.80"), f.start.Add(25*time.Second))
		assert.ErrorIs(t, err, ErrAlreadySettled)
		f.assertHouse(t, 10_000, 15_000)
	})

	t.Run("cash out rejections", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)
		u := f.user(t, 20_000)
		stranger := f.user(t, 20_000)
		f.bet(t, u, r, 1_000)
		grace := 300 * time.Millisecond
		mult := decimal.RequireFromString("1.10")

		_, err := f.l.CashOut(ctx, CashOutParams{UserID: u, RoundID: r.ID, Multiplier: mult, At: f.start.Add(time.Second), Grace: grace})
		assert.ErrorIs(t, err, ErrRoundClosed, "still betting")

		f.run(t, r)
		roundEnd := f.start.Add(25 * time.Second)

		_, err = f.l.CashOut(ctx, CashOutParams{UserID: stranger, RoundID: r.ID, Multiplier: mult, At: f.start.Add(6 * time.Second), Grace: grace})
		assert.ErrorIs(t, err, ErrNoBet)

		_, err = f.l.CashOut(ctx, CashOutParams{UserID: u, RoundID: r.ID, Multiplier: mult, At: roundEnd.Add(-grace), Grace: grace})
		assert.ErrorIs(t, err, ErrRoundClosed, "inside grace window")

		_, err = f.l.CashOut(ctx, CashOutParams{UserID: u, RoundID: uuid.NewString(), Multiplier: mult, At: f.start, Grace: grace})
		assert.ErrorIs(t, err, ErrRoundNotFound)

		_, err = f.l.CashOut(ctx, CashOutParams{UserID: u, RoundID: r.ID, Multiplier: mult, At: roundEnd.Add(-grace - time.Millisecond), Grace: grace})
		assert.NoError(t, err)
	})

	t.Run("auto settle 50.00 at 0.40 credits 20.00", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)
		u := f.user(t, 5_000)
		b := f.bet(t, u, r, 5_000)
		f.run(t, r)

		_, err := f.l.SettleBet(ctx, b.ID, decimal.RequireFromString("0.40"), f.start.Add(20*time.Second))
		assert.ErrorIs(t, err, ErrPhaseConflict, "round still running")

		f.end(t, r, "0.40")
		pending, err := f.l.PendingBets(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		unsettled, err := f.l.UnsettledRounds(ctx, f.game)
		require.NoError(t, err)
		require.Len(t, unsettled, 1)
		assert.Equal(t, r.ID, unsettled[0].ID)

		res, err := f.l.SettleBet(ctx, b.ID, decimal.RequireFromString("0.40"), f.start.Add(25*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(2_000), res.Bet.WinCents)
		assert.Equal(t, SettledByAuto, res.Bet.SettledBy)
		assert.Equal(t, int64(2_000), f.balance(t, u))
		f.assertHouse(t, 5_000, 2_000)

		_, err = f.l.SettleBet(ctx, b.ID, decimal.RequireFromString("0.40"), f.start.Add(25*time.Second))
		assert.ErrorIs(t, err, ErrAlreadySettled)

		pending, err = f.l.PendingBets(ctx, r.ID)
		require.NoError(t, err)
		assert.Empty(t, pending)
		unsettled, err = f.l.UnsettledRounds(ctx, f.game)
		require.NoError(t, err)
		assert.Empty(t, unsettled)
	})

	t.Run("cash out racing auto settle credits once", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)
		u := f.user(t, 10_000)
		b := f.bet(t, u, r, 10_000)
		f.run(t, r)

		var wg sync.WaitGroup
		var cashErr, settleErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cashErr = f.l.CashOut(ctx, CashOutParams{
				UserID: u, RoundID: r.ID, Multiplier: decimal.RequireFromString("1.20"),
				At: f.start.Add(10 * time.Second), Grace: 300 * time.Millisecond,
			})
		}()
		go func() {
			defer wg.Done()
			if err := f.l.EndRound(ctx, r.ID, decimal.RequireFromString("0.80")); err != nil {
				settleErr = err
				return
			}
			_, settleErr = f.l.SettleBet(ctx, b.ID, decimal.RequireFromString("0.80"), f.start.Add(25*time.Second))
		}()
		wg.Wait()

		switch {
		case cashErr == nil:
			assert.ErrorIs(t, settleErr, ErrAlreadySettled)
			assert.Equal(t, int64(12_000), f.balance(t, u))
		case settleErr == nil:
			assert.True(t, errors.Is(cashErr, ErrRoundClosed) || errors.Is(cashErr, ErrAlreadySettled), cashErr)
			assert.Equal(t, int64(8_000), f.balance(t, u))
		default:
			t.Fatalf("no settlement path won: cash=%v settle=%v", cashErr, settleErr)
		}
	})

	t.Run("phase transitions never regress", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)

		_, err := f.l.CreateRound(ctx, NewRound{GameType: f.game, Seed: "00", SeedHash: "h", ProfitMargin: decimal.Zero,
			Samples: 2, StartTime: f.start, BettingEndTime: f.start, RoundEndTime: f.start})
		assert.ErrorIs(t, err, ErrLiveRoundExists)

		assert.ErrorIs(t, f.l.EndRound(ctx, r.ID, decimal.RequireFromString("1.00")), ErrPhaseConflict)
		f.run(t, r)
		assert.ErrorIs(t, f.l.StartRunning(ctx, r.ID, f.start), ErrPhaseConflict)
		f.end(t, r, "1.23")
		assert.ErrorIs(t, f.l.EndRound(ctx, r.ID, decimal.RequireFromString("1.50")), ErrPhaseConflict)

		got, err := f.l.GetRound(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, events.PhaseEnded, got.Phase)
		assert.True(t, got.FinalMultiplier.Decimal.Equal(decimal.RequireFromString("1.23")))

		_, err = f.l.LiveRound(ctx, f.game)
		assert.ErrorIs(t, err, ErrRoundNotFound)
	})

	t.Run("live round is found for recovery", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		r := f.round(t)
		got, err := f.l.LiveRound(ctx, f.game)
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
		assert.Equal(t, events.PhaseBetting, got.Phase)
		assert.Equal(t, 101, got.Samples)
	})

	t.Run("adjust balance never goes negative", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		u := f.user(t, 1_000)
		_, err := f.l.AdjustBalance(ctx, u, -1_001, "withdraw:test")
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		bal, err := f.l.AdjustBalance(ctx, u, -1_000, "withdraw:test")
		require.NoError(t, err)
		assert.Zero(t, bal)
	})

	t.Run("house account keeps its margin", func(t *testing.T) {
		f := newFixture(t, newLedger(t))
		h, err := f.l.EnsureHouseAccount(ctx, f.game, decimal.RequireFromString("0.10"))
		require.NoError(t, err)
		assert.True(t, h.ProfitMargin.Equal(decimal.RequireFromString("0.05")))
	})
}
