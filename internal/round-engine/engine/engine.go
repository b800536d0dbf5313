// Package engine é o loop autoritativo de rodadas de um tipo de jogo:
// BETTING -> RUNNING -> ENDED, ticks do multiplicador e liquidação automática.
// Deve existir um único Engine ativo por tipo de jogo (ver package lease).
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/round-engine/curve"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/fanout"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/ledger"
	"github.com/radieske/multiplier-bet-platform/internal/shared/config"
	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"
	"github.com/radieske/multiplier-bet-platform/internal/shared/retry"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

const (
	outboxSize     = 1024
	publishTimeout = 2 * time.Second
	settleWorkers  = 8
	settleAttempts = 3

	roundBackoffInitial = 100 * time.Millisecond
	roundBackoffMax     = 5 * time.Second
)

// errCurve marca uma rodada viva cuja curva não pode ser regenerada
var errCurve = errors.New("curve unavailable")

// SnapshotSaver persiste o estado para leitores em outros processos
type SnapshotSaver interface {
	Save(ctx context.Context, st events.RoundState) error
}

type Deps struct {
	Ledger    ledger.Ledger
	Publisher fanout.Publisher
	Snapshots SnapshotSaver // opcional
	Metrics   *metrics.Game
	Log       *zap.Logger
}

type outboxItem struct {
	env   events.Envelope
	state events.RoundState
}

type Engine struct {
	cfg       config.Game
	ledger    ledger.Ledger
	pub       fanout.Publisher
	snapshots SnapshotSaver
	metrics   *metrics.Game
	log       *zap.Logger

	mu    sync.RWMutex
	state events.RoundState

	seq    atomic.Uint64
	outbox chan outboxItem
}

func New(cfg config.Game, d Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid game config: %w", err)
	}
	if err := Params(cfg, decimal.NewFromFloat(cfg.ProfitMargin), cfg.Ticks()).Validate(); err != nil {
		return nil, fmt.Errorf("invalid game config: %w", err)
	}
	if d.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if d.Publisher == nil {
		d.Publisher = fanout.Discard
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	e := &Engine{
		cfg:       cfg,
		ledger:    d.Ledger,
		pub:       d.Publisher,
		snapshots: d.Snapshots,
		metrics:   d.Metrics,
		log:       d.Log.With(zap.String("game_type", cfg.Type)),
		state:     events.RoundState{GameType: cfg.Type},
	}
	// seq parte do relógio para seguir crescente entre mandatos de líderes diferentes
	e.seq.Store(uint64(time.Now().UnixMicro()))
	return e, nil
}

// Snapshot devolve uma cópia do estado corrente
func (e *Engine) Snapshot() events.RoundState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Current satisfaz a fonte de rodada do gateway e o snapshot do Hub
func (e *Engine) Current(context.Context) (events.RoundState, error) {
	return e.Snapshot(), nil
}

// Run executa rodadas em sequência até o contexto terminar.
// Rodadas deixadas por uma execução anterior são retomadas antes da primeira nova.
func (e *Engine) Run(ctx context.Context) error {
	e.outbox = make(chan outboxItem, outboxSize)
	drained := make(chan struct{})
	go e.drain(drained)
	defer func() {
		close(e.outbox)
		<-drained
	}()

	margin := decimal.NewFromFloat(e.cfg.ProfitMargin)
	if err := e.retry(ctx, "ensure house account", func() error {
		_, err := e.ledger.EnsureHouseAccount(ctx, e.cfg.Type, margin)
		return err
	}); err != nil {
		return nilOnCancel(ctx, err)
	}

	e.settleLeftovers(ctx)

	e.loop(ctx, e.runRound)
	return nil
}

// loop chama round até o contexto terminar. Falhas seguidas esperam um
// backoff exponencial; uma rodada completa zera o backoff.
func (e *Engine) loop(ctx context.Context, round func(context.Context) error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = roundBackoffInitial
	bo.MaxInterval = roundBackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	for ctx.Err() == nil {
		err := round(ctx)
		if err == nil || ctx.Err() != nil {
			bo.Reset()
			continue
		}
		wait := bo.NextBackOff()
		e.log.Error("round aborted", zap.Error(err), zap.Duration("next", wait))
		_ = sleepUntil(ctx, time.Now().Add(wait))
	}
}

func (e *Engine) runRound(ctx context.Context) error {
	r, cv, err := e.loadOrCreate(ctx)
	if errors.Is(err, errCurve) {
		return e.void(ctx, r, err)
	}
	if err != nil {
		return err
	}

	resumed := r.Phase == events.PhaseRunning
	if r.Phase == events.PhaseBetting {
		if r, err = e.betting(ctx, r, cv); err != nil {
			return err
		}
	}
	if r.Phase == events.PhaseRunning {
		if err = e.running(ctx, r, cv, resumed); err != nil {
			return err
		}
		if r, err = e.end(ctx, r, cv.Final()); err != nil {
			return err
		}
	}
	e.settle(ctx, r)
	return nil
}

// loadOrCreate retoma a rodada viva do ledger ou cria uma nova.
// A curva é sempre regenerada da seed persistida.
func (e *Engine) loadOrCreate(ctx context.Context) (ledger.Round, curve.Curve, error) {
	var r ledger.Round
	err := e.retry(ctx, "load or create round", func() error {
		live, err := e.ledger.LiveRound(ctx, e.cfg.Type)
		if err == nil {
			e.log.Info("resuming live round", zap.String("round_id", live.ID), zap.String("phase", string(live.Phase)))
			r = live
			return nil
		}
		if !errors.Is(err, ledger.ErrRoundNotFound) {
			return err
		}
		r, err = e.create(ctx)
		return err
	})
	if err != nil {
		return ledger.Round{}, curve.Curve{}, err
	}

	cv, err := e.curveFor(r)
	if err != nil {
		return r, curve.Curve{}, fmt.Errorf("%w: %w", errCurve, err)
	}
	return r, cv, nil
}

// void encerra uma rodada viva sem curva com multiplicador 1.00, devolvendo a
// aposta de cada jogador. A rodada fica registrada no log para conciliação.
func (e *Engine) void(ctx context.Context, r ledger.Round, cause error) error {
	e.metrics.RoundVoided()
	e.log.Error("voiding round, stakes refunded",
		zap.String("round_id", r.ID),
		zap.String("phase", string(r.Phase)),
		zap.Error(cause))

	var err error
	if r.Phase == events.PhaseBetting {
		if r, err = e.startRunning(ctx, r, time.Now().UTC()); err != nil {
			return err
		}
	}
	if r.Phase == events.PhaseRunning {
		if r, err = e.end(ctx, r, decimal.NewFromInt(1)); err != nil {
			return err
		}
	}
	e.settle(ctx, r)
	return nil
}

func (e *Engine) create(ctx context.Context) (ledger.Round, error) {
	house, err := e.ledger.HouseAccount(ctx, e.cfg.Type)
	if err != nil {
		return ledger.Round{}, err
	}
	margin := house.ProfitMargin
	if err := Params(e.cfg, margin, e.cfg.Ticks()).Validate(); err != nil {
		fallback := decimal.NewFromFloat(e.cfg.ProfitMargin)
		if ferr := Params(e.cfg, fallback, e.cfg.Ticks()).Validate(); ferr != nil {
			return ledger.Round{}, retry.Permanent(ferr)
		}
		e.log.Warn("house margin rejected, using configured margin",
			zap.String("house_margin", margin.String()),
			zap.String("margin", fallback.String()),
			zap.Error(err))
		margin = fallback
	}
	seed, err := curve.NewSeed()
	if err != nil {
		return ledger.Round{}, retry.Permanent(err)
	}
	now := time.Now().UTC()
	bettingEnd := now.Add(e.cfg.BettingDuration)
	r, err := e.ledger.CreateRound(ctx, ledger.NewRound{
		GameType:       e.cfg.Type,
		Seed:           seed.Hex(),
		SeedHash:       seed.Hash(),
		ProfitMargin:   margin,
		Samples:        e.cfg.Ticks(),
		StartTime:      now,
		BettingEndTime: bettingEnd,
		RoundEndTime:   bettingEnd.Add(e.cfg.RunningDuration),
	})
	if err != nil {
		return ledger.Round{}, err
	}
	e.metrics.RoundStarted()
	e.log.Info("round created", zap.String("round_id", r.ID), zap.Time("betting_end", r.BettingEndTime))
	return r, nil
}

func (e *Engine) curveFor(r ledger.Round) (curve.Curve, error) {
	seed, err := curve.ParseSeed(r.Seed)
	if err != nil {
		return curve.Curve{}, fmt.Errorf("round %s seed: %w", r.ID, err)
	}
	return curve.Generate(seed, e.params(r))
}

// Params monta os parâmetros da curva de uma rodada persistida
func Params(cfg config.Game, margin decimal.Decimal, samples int) curve.Params {
	return curve.Params{
		Min:          cfg.MinMultiplier,
		Max:          cfg.MaxMultiplier,
		Fair:         cfg.FairMultiplier,
		ProfitMargin: margin.InexactFloat64(),
		Volatility:   cfg.CurveVolatility,
		Samples:      samples,
	}
}

func (e *Engine) params(r ledger.Round) curve.Params {
	return Params(e.cfg, r.ProfitMargin, r.Samples)
}

func (e *Engine) betting(ctx context.Context, r ledger.Round, cv curve.Curve) (ledger.Round, error) {
	bettingEnd := r.BettingEndTime
	e.metrics.SetPhase(events.PhaseBetting.Ordinal())
	e.emit(ctx, events.PhaseChanged{
		RoundID:        r.ID,
		Phase:          events.PhaseBetting,
		BettingEndTime: &bettingEnd,
		SeedHash:       r.SeedHash,
	}, func(s *events.RoundState) {
		*s = events.RoundState{
			GameType:       e.cfg.Type,
			RoundID:        r.ID,
			Phase:          events.PhaseBetting,
			StartTime:      r.StartTime,
			BettingEndTime: r.BettingEndTime,
			RoundEndTime:   r.RoundEndTime,
			SeedHash:       r.SeedHash,
			Multiplier:     cv.At(0),
			PrevMultiplier: cv.At(0),
		}
	})

	if err := sleepUntil(ctx, bettingEnd); err != nil {
		return r, err
	}

	return e.startRunning(ctx, r, time.Now().UTC().Add(e.cfg.RunningDuration))
}

// startRunning fecha as apostas no ledger. Se outro líder já avançou a rodada,
// vale o fim registrado por ele.
func (e *Engine) startRunning(ctx context.Context, r ledger.Round, roundEnd time.Time) (ledger.Round, error) {
	err := e.retry(ctx, "start running", func() error {
		err := e.ledger.StartRunning(ctx, r.ID, roundEnd)
		if !errors.Is(err, ledger.ErrPhaseConflict) {
			return err
		}
		cur, gerr := e.ledger.GetRound(ctx, r.ID)
		if gerr != nil {
			return gerr
		}
		if cur.Phase.Ordinal() < events.PhaseRunning.Ordinal() {
			return err
		}
		roundEnd = cur.RoundEndTime
		return nil
	})
	if err != nil {
		return r, err
	}
	r.Phase = events.PhaseRunning
	r.RoundEndTime = roundEnd
	return r, nil
}

// running emite um tick por amostra. Numa rodada retomada o primeiro índice vem
// do relógio, para continuar do ponto certo da curva.
func (e *Engine) running(ctx context.Context, r ledger.Round, cv curve.Curve, resumed bool) error {
	roundEnd := r.RoundEndTime
	start := roundEnd.Add(-e.cfg.RunningDuration)
	interval := e.cfg.RunningDuration / time.Duration(max(cv.Len()-1, 1))

	e.metrics.SetPhase(events.PhaseRunning.Ordinal())
	e.emit(ctx, events.PhaseChanged{RoundID: r.ID, Phase: events.PhaseRunning, RoundEndTime: &roundEnd},
		func(s *events.RoundState) {
			s.Phase = events.PhaseRunning
			s.RoundEndTime = roundEnd
			s.TickIndex = 0
			s.Multiplier = cv.At(0)
			s.PrevMultiplier = cv.At(0)
		})

	first := 0
	if elapsed := time.Since(start); resumed && elapsed > 0 {
		first = int(elapsed / interval)
	}
	for i := first; i < cv.Len(); i++ {
		if err := sleepUntil(ctx, start.Add(time.Duration(i)*interval)); err != nil {
			return err
		}
		idx := i
		e.emit(ctx, events.MultiplierTick{RoundID: r.ID, Index: idx, Multiplier: cv.At(idx)},
			func(s *events.RoundState) {
				s.TickIndex = idx
				s.PrevMultiplier = cv.At(idx - 1)
				s.Multiplier = cv.At(idx)
			})
		e.metrics.Tick()
	}
	return sleepUntil(ctx, roundEnd)
}

func (e *Engine) end(ctx context.Context, r ledger.Round, final decimal.Decimal) (ledger.Round, error) {
	err := e.retry(ctx, "end round", func() error {
		err := e.ledger.EndRound(ctx, r.ID, final)
		if !errors.Is(err, ledger.ErrPhaseConflict) {
			return err
		}
		cur, gerr := e.ledger.GetRound(ctx, r.ID)
		if gerr != nil {
			return gerr
		}
		if cur.Phase != events.PhaseEnded {
			return err
		}
		final = cur.FinalMultiplier.Decimal
		return nil
	})
	if err != nil {
		return r, err
	}
	r.Phase = events.PhaseEnded
	r.FinalMultiplier = decimal.NewNullDecimal(final)
	return r, nil
}

// settle anuncia ENDED, liquida as apostas pendentes e revela a seed.
// Cada aposta é isolada: a falha de uma não impede as demais.
func (e *Engine) settle(ctx context.Context, r ledger.Round) {
	final := r.FinalMultiplier.Decimal
	e.metrics.SetPhase(events.PhaseEnded.Ordinal())
	e.emit(ctx, events.PhaseChanged{RoundID: r.ID, Phase: events.PhaseEnded}, func(s *events.RoundState) {
		if s.RoundID != r.ID {
			*s = events.RoundState{GameType: e.cfg.Type, RoundID: r.ID, StartTime: r.StartTime,
				BettingEndTime: r.BettingEndTime, RoundEndTime: r.RoundEndTime, SeedHash: r.SeedHash}
		}
		s.Phase = events.PhaseEnded
		s.PrevMultiplier = s.Multiplier
		s.Multiplier = final
	})

	var pending []ledger.Bet
	if err := e.retry(ctx, "load pending bets", func() error {
		var err error
		pending, err = e.ledger.PendingBets(ctx, r.ID)
		return err
	}); err != nil {
		e.log.Error("pending bets unavailable, round left for recovery", zap.String("round_id", r.ID), zap.Error(err))
		return
	}

	settled, failed := e.settleBets(ctx, r.ID, final, pending)

	e.emit(ctx, events.RoundSettled{
		RoundID:         r.ID,
		FinalMultiplier: final,
		Seed:            r.Seed,
		SeedHash:        r.SeedHash,
		ProfitMargin:    r.ProfitMargin,
		Samples:         r.Samples,
		SettledBets:     settled,
		FailedBets:      failed,
	}, nil)
	e.log.Info("round settled",
		zap.String("round_id", r.ID),
		zap.String("final_multiplier", final.StringFixed(2)),
		zap.Int("settled", settled),
		zap.Int("failed", failed))
}

func (e *Engine) settleBets(ctx context.Context, roundID string, final decimal.Decimal, bets []ledger.Bet) (settled, failed int) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, settleWorkers)

	for _, b := range bets {
		wg.Add(1)
		sem <- struct{}{}
		go func(b ledger.Bet) {
			defer wg.Done()
			defer func() { <-sem }()

			ok, err := e.settleOne(ctx, b, final)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed++
				e.metrics.SettleFailed()
				e.log.Error("bet settlement failed",
					zap.String("round_id", roundID),
					zap.String("bet_id", b.ID),
					zap.String("user_id", b.UserID),
					zap.Error(err))
			case ok:
				settled++
			}
		}(b)
	}
	wg.Wait()
	return settled, failed
}

// settleOne devolve ok=false quando um cash-out venceu a corrida
func (e *Engine) settleOne(ctx context.Context, b ledger.Bet, final decimal.Decimal) (bool, error) {
	var res ledger.SettleResult
	err := retry.Exponential(ctx, func() error {
		sctx, cancel := context.WithTimeout(ctx, e.cfg.SettleTimeout)
		defer cancel()
		var err error
		res, err = e.ledger.SettleBet(sctx, b.ID, final, time.Now().UTC())
		if errors.Is(err, ledger.ErrAlreadySettled) || errors.Is(err, ledger.ErrNoBet) || errors.Is(err, ledger.ErrPhaseConflict) {
			return retry.Permanent(err)
		}
		return err
	}, retry.ExponentialConfig{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxAttempts:     settleAttempts,
	})
	if errors.Is(err, ledger.ErrAlreadySettled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.metrics.AutoSettled(res.Bet.WinCents)
	return true, nil
}

// settleLeftovers termina liquidações interrompidas por uma queda anterior
func (e *Engine) settleLeftovers(ctx context.Context) {
	rounds, err := e.ledger.UnsettledRounds(ctx, e.cfg.Type)
	if err != nil {
		e.log.Warn("unsettled rounds lookup failed", zap.Error(err))
		return
	}
	for _, r := range rounds {
		e.log.Info("settling leftover round", zap.String("round_id", r.ID))
		e.settle(ctx, r)
	}
}

// emit atualiza o estado e enfileira o envelope com o snapshot correspondente.
// A fila é drenada por uma única goroutine, o que preserva a ordem de publicação
// sem prender o loop de ticks a um sink lento.
func (e *Engine) emit(ctx context.Context, ev events.Event, mutate func(*events.RoundState)) {
	seq := e.seq.Add(1)
	e.mu.Lock()
	if mutate != nil {
		mutate(&e.state)
	}
	e.state.Seq = seq
	e.state.UpdatedAt = time.Now().UTC()
	st := e.state
	e.mu.Unlock()

	env, err := events.Wrap(e.cfg.Type, seq, ev)
	if err != nil {
		e.log.Error("event encode failed", zap.String("type", string(ev.EventType())), zap.Error(err))
		return
	}
	select {
	case e.outbox <- outboxItem{env: env, state: st}:
	case <-ctx.Done():
	}
}

func (e *Engine) drain(done chan<- struct{}) {
	defer close(done)
	for item := range e.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if e.snapshots != nil {
			if err := e.snapshots.Save(ctx, item.state); err != nil {
				e.metrics.PublishFailed("snapshot")
				e.log.Warn("snapshot save failed", zap.Error(err))
			}
		}
		if err := e.pub.Publish(ctx, e.cfg.Type, item.env); err != nil {
			e.log.Debug("publish failed", zap.String("type", string(item.env.Type)), zap.Error(err))
		}
		cancel()
	}
}

// retry repete escritas no ledger com backoff até sucesso ou fim do contexto
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	return retry.Exponential(ctx, fn, retry.ExponentialConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		OnRetry: func(err error, next time.Duration) {
			e.log.Warn(op+" failed, retrying", zap.Error(err), zap.Duration("next", next))
		},
	})
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nilOnCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
