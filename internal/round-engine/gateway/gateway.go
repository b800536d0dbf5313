// Package gateway valida e encaminha as ações do jogador (aposta e cash-out).
// Não guarda estado: a correção sob concorrência vem das transações do ledger.
package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/round-engine/fanout"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/ledger"
	"github.com/radieske/multiplier-bet-platform/internal/shared/config"
	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"
	"github.com/radieske/multiplier-bet-platform/internal/shared/money"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

// RoundSource fornece o snapshot autoritativo da rodada corrente
// (o Engine no mesmo processo ou o SnapshotStore no Redis)
type RoundSource interface {
	Current(ctx context.Context) (events.RoundState, error)
}

type Gateway struct {
	ledger  ledger.Ledger
	rounds  RoundSource
	pub     fanout.Publisher
	game    config.Game
	log     *zap.Logger
	metrics *metrics.Game
	seq     atomic.Uint64
	now     func() time.Time
}

func New(l ledger.Ledger, rounds RoundSource, pub fanout.Publisher, game config.Game, log *zap.Logger, m *metrics.Game) *Gateway {
	if pub == nil {
		pub = fanout.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{ledger: l, rounds: rounds, pub: pub, game: game, log: log, metrics: m, now: time.Now}
}

type BetReceipt struct {
	BetID        string `json:"betId"`
	RoundID      string `json:"roundId"`
	AmountCents  int64  `json:"amountCents"`
	BalanceCents int64  `json:"balanceCents"`
}

type CashOutReceipt struct {
	CashOutID    string          `json:"cashOutId"`
	BetID        string          `json:"betId"`
	RoundID      string          `json:"roundId"`
	Multiplier   decimal.Decimal `json:"multiplier"`
	WinCents     int64           `json:"winCents"`
	BalanceCents int64           `json:"balanceCents"`
}

func (g *Gateway) limits() ledger.Limits {
	return ledger.Limits{
		MinBetCents:   g.game.MinBetCents,
		MaxBetCents:   g.game.MaxBetCents,
		DailyCapCents: g.game.DailyCapCents,
	}
}

// PlaceBet aceita uma aposta durante BETTING. As checagens de fase e valor aqui
// são rápidas e sem efeito; a decisão final é da transação do ledger.
func (g *Gateway) PlaceBet(ctx context.Context, userID, roundID string, amountCents int64) (BetReceipt, error) {
	now := g.now()
	l := g.limits()

	if amountCents < l.MinBetCents || amountCents > l.MaxBetCents {
		return BetReceipt{}, g.reject("bet", newError(KindAmountOutOfRange, nil))
	}
	st, err := g.rounds.Current(ctx)
	if err != nil {
		return BetReceipt{}, g.reject("bet", newError(KindUnavailable, err))
	}
	if st.RoundID != roundID || st.Phase != events.PhaseBetting || !now.Before(st.BettingEndTime) {
		return BetReceipt{}, g.reject("bet", newError(KindRoundClosed, nil))
	}

	res, err := g.ledger.PlaceBet(ctx, ledger.PlaceBetParams{
		UserID:      userID,
		RoundID:     roundID,
		AmountCents: amountCents,
		At:          now,
		Limits:      l,
	})
	if err != nil {
		return BetReceipt{}, g.reject("bet", fromLedger(err))
	}

	g.metrics.BetPlaced(amountCents)
	g.publish(ctx, events.BetPlaced{
		RoundID:     roundID,
		BetID:       res.Bet.ID,
		UserID:      userID,
		AmountCents: amountCents,
	})
	g.log.Info("bet placed",
		zap.String("round_id", roundID),
		zap.String("bet_id", res.Bet.ID),
		zap.String("user_id", userID),
		zap.Int64("amount_cents", amountCents))

	return BetReceipt{
		BetID:        res.Bet.ID,
		RoundID:      roundID,
		AmountCents:  amountCents,
		BalanceCents: res.NewBalanceCents,
	}, nil
}

// CashOut liquida a aposta do usuário durante RUNNING.
func (g *Gateway) CashOut(ctx context.Context, userID, roundID string, observed decimal.Decimal) (CashOutReceipt, error) {
	now := g.now()

	st, err := g.rounds.Current(ctx)
	if err != nil {
		return CashOutReceipt{}, g.reject("cashout", newError(KindUnavailable, err))
	}
	if st.RoundID != roundID || st.Phase != events.PhaseRunning || !now.Before(st.RoundEndTime.Add(-g.game.CashOutGrace)) {
		return CashOutReceipt{}, g.reject("cashout", newError(KindRoundClosed, nil))
	}

	mult := SettlementMultiplier(st, observed)
	res, err := g.ledger.CashOut(ctx, ledger.CashOutParams{
		UserID:     userID,
		RoundID:    roundID,
		Multiplier: mult,
		At:         now,
		Grace:      g.game.CashOutGrace,
	})
	if err != nil {
		return CashOutReceipt{}, g.reject("cashout", fromLedger(err))
	}

	g.metrics.CashedOut(res.CashOut.AmountCents)
	g.publish(ctx, events.CashOutMade{
		RoundID:     roundID,
		BetID:       res.Bet.ID,
		CashOutID:   res.CashOut.ID,
		UserID:      userID,
		Multiplier:  res.CashOut.Multiplier,
		AmountCents: res.CashOut.AmountCents,
	})
	g.log.Info("cash-out made",
		zap.String("round_id", roundID),
		zap.String("bet_id", res.Bet.ID),
		zap.String("user_id", userID),
		zap.String("multiplier", res.CashOut.Multiplier.StringFixed(money.Places)),
		zap.Int64("win_cents", res.CashOut.AmountCents))

	return CashOutReceipt{
		CashOutID:    res.CashOut.ID,
		BetID:        res.Bet.ID,
		RoundID:      roundID,
		Multiplier:   res.CashOut.Multiplier,
		WinCents:     res.CashOut.AmountCents,
		BalanceCents: res.NewBalanceCents,
	}, nil
}

// SettlementMultiplier decide o multiplicador do cash-out. O valor visto pelo cliente
// vale se for a amostra corrente ou a imediatamente anterior (um tick de latência);
// qualquer outro valor liquida na amostra corrente do servidor.
func SettlementMultiplier(st events.RoundState, observed decimal.Decimal) decimal.Decimal {
	obs := observed.RoundBank(money.Places)
	if obs.Equal(st.Multiplier) || obs.Equal(st.PrevMultiplier) {
		return obs
	}
	return st.Multiplier.RoundBank(money.Places)
}

// Balance é o saldo do usuário
func (g *Gateway) Balance(ctx context.Context, userID string) (int64, error) {
	b, err := g.ledger.GetBalance(ctx, userID)
	if err != nil {
		return 0, newError(KindUnavailable, err)
	}
	return b, nil
}

func (g *Gateway) House(ctx context.Context) (ledger.HouseAccount, error) {
	h, err := g.ledger.HouseAccount(ctx, g.game.Type)
	if err != nil {
		return ledger.HouseAccount{}, fromLedger(err)
	}
	return h, nil
}

func (g *Gateway) Round(ctx context.Context, roundID string) (ledger.Round, error) {
	r, err := g.ledger.GetRound(ctx, roundID)
	if err != nil {
		return ledger.Round{}, fromLedger(err)
	}
	return r, nil
}

func (g *Gateway) Current(ctx context.Context) (events.RoundState, error) {
	st, err := g.rounds.Current(ctx)
	if errors.Is(err, fanout.ErrNoSnapshot) || (err == nil && !st.Live()) {
		return events.RoundState{}, newError(KindRoundNotFound, err)
	}
	if err != nil {
		return events.RoundState{}, newError(KindUnavailable, err)
	}
	return st, nil
}

// UserBet é a aposta do usuário na rodada, se houver
func (g *Gateway) UserBet(ctx context.Context, userID, roundID string) (ledger.Bet, error) {
	b, err := g.ledger.UserBet(ctx, userID, roundID)
	if err != nil {
		return ledger.Bet{}, fromLedger(err)
	}
	return b, nil
}

func (g *Gateway) reject(action string, err *Error) error {
	g.metrics.Rejected(action, string(err.Kind))
	if err.Class == ClassResource {
		g.log.Error(action+" failed", zap.Error(err))
	}
	return err
}

func (g *Gateway) publish(ctx context.Context, ev events.Event) {
	env, err := events.Wrap(g.game.Type, g.seq.Add(1), ev)
	if err != nil {
		g.log.Error("event encode failed", zap.Error(err))
		return
	}
	// o ledger já confirmou; falha de publicação não desfaz a ação
	if err := g.pub.Publish(context.WithoutCancel(ctx), g.game.Type, env); err != nil {
		g.log.Warn("publish failed", zap.String("type", string(env.Type)), zap.Error(err))
	}
}
