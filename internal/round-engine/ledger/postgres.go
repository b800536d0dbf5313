package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/radieske/multiplier-bet-platform/internal/shared/db"
	"github.com/radieske/multiplier-bet-platform/internal/shared/money"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implementa o Ledger em banco; cada operação monetária é uma transação
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// EnsureSchema aplica o esquema embutido (CREATE ... IF NOT EXISTS)
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

const roundColumns = `id, game_type, phase, start_time, betting_end_time, round_end_time,
	final_multiplier, profit_margin, seed, seed_hash, samples, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (Round, error) {
	var r Round
	var phase string
	err := row.Scan(&r.ID, &r.GameType, &phase, &r.StartTime, &r.BettingEndTime, &r.RoundEndTime,
		&r.FinalMultiplier, &r.ProfitMargin, &r.Seed, &r.SeedHash, &r.Samples, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Round{}, ErrRoundNotFound
	}
	if err != nil {
		return Round{}, err
	}
	r.Phase = events.Phase(phase)
	return r, nil
}

const betColumns = `id, user_id, round_id, amount_cents, status, result_multiplier,
	win_cents, settled_by, created_at, settled_at`

func scanBet(row rowScanner) (Bet, error) {
	var b Bet
	var status string
	var settledAt sql.NullTime
	if err := row.Scan(&b.ID, &b.UserID, &b.RoundID, &b.AmountCents, &status, &b.ResultMultiplier,
		&b.WinCents, &b.SettledBy, &b.CreatedAt, &settledAt); err != nil {
		return Bet{}, err
	}
	b.Status = BetStatus(status)
	if settledAt.Valid {
		t := settledAt.Time
		b.SettledAt = &t
	}
	return b, nil
}

// CreateRound registra uma nova rodada em BETTING.
// O índice parcial rounds_live_per_game_key garante uma rodada viva por jogo.
func (p *Postgres) CreateRound(ctx context.Context, nr NewRound) (Round, error) {
	id := uuid.New().String()
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO rounds (id, game_type, phase, start_time, betting_end_time, round_end_time,
			profit_margin, seed, seed_hash, samples)
		VALUES ($1,$2,'BETTING',$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+roundColumns,
		id, nr.GameType, nr.StartTime, nr.BettingEndTime, nr.RoundEndTime,
		nr.ProfitMargin, nr.Seed, nr.SeedHash, nr.Samples)
	r, err := scanRound(row)
	if db.IsUniqueViolation(err, "rounds_live_per_game_key") {
		return Round{}, ErrLiveRoundExists
	}
	return r, err
}

func (p *Postgres) LiveRound(ctx context.Context, gameType string) (Round, error) {
	return scanRound(p.db.QueryRowContext(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE game_type=$1 AND phase <> 'ENDED'
		ORDER BY created_at DESC LIMIT 1`, gameType))
}

func (p *Postgres) GetRound(ctx context.Context, roundID string) (Round, error) {
	if _, err := uuid.Parse(roundID); err != nil {
		return Round{}, ErrRoundNotFound
	}
	return scanRound(p.db.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id=$1`, roundID))
}

// StartRunning faz o CAS BETTING -> RUNNING; fase nunca regride
func (p *Postgres) StartRunning(ctx context.Context, roundID string, roundEnd time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rounds SET phase='RUNNING', round_end_time=$2, updated_at=NOW()
		WHERE id=$1 AND phase='BETTING'`, roundID, roundEnd)
	if err != nil {
		return err
	}
	return casResult(res)
}

// EndRound faz o CAS RUNNING -> ENDED; o multiplicador final só é gravado uma vez
func (p *Postgres) EndRound(ctx context.Context, roundID string, final decimal.Decimal) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rounds SET phase='ENDED', final_multiplier=$2, updated_at=NOW()
		WHERE id=$1 AND phase='RUNNING' AND final_multiplier IS NULL`,
		roundID, final.RoundBank(money.Places))
	if err != nil {
		return err
	}
	return casResult(res)
}

func casResult(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPhaseConflict
	}
	return nil
}

// PlaceBet debita a carteira, credita a casa e grava a aposta na mesma transação.
// O lock da carteira serializa pedidos concorrentes do mesmo usuário; a constraint
// bets_user_round_key é a última barreira contra aposta dupla.
func (p *Postgres) PlaceBet(ctx context.Context, in PlaceBetParams) (PlaceBetResult, error) {
	if err := checkAmount(in.AmountCents, in.Limits); err != nil {
		return PlaceBetResult{}, err
	}
	if _, err := uuid.Parse(in.RoundID); err != nil {
		return PlaceBetResult{}, ErrRoundNotFound
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return PlaceBetResult{}, err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `SELECT balance_cents FROM wallets WHERE user_id=$1 FOR UPDATE`, in.UserID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return PlaceBetResult{}, ErrInsufficientBalance
	} else if err != nil {
		return PlaceBetResult{}, err
	}

	var gameType, phase string
	var bettingEnd time.Time
	err = tx.QueryRowContext(ctx, `SELECT game_type, phase, betting_end_time FROM rounds WHERE id=$1 FOR SHARE`,
		in.RoundID).Scan(&gameType, &phase, &bettingEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return PlaceBetResult{}, ErrRoundNotFound
	} else if err != nil {
		return PlaceBetResult{}, err
	}
	if events.Phase(phase) != events.PhaseBetting || !in.At.Before(bettingEnd) {
		return PlaceBetResult{}, ErrRoundClosed
	}

	var exists bool
	if err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bets WHERE user_id=$1 AND round_id=$2)`,
		in.UserID, in.RoundID).Scan(&exists); err != nil {
		return PlaceBetResult{}, err
	}
	if exists {
		return PlaceBetResult{}, ErrAlreadyBet
	}

	if balance < in.AmountCents {
		return PlaceBetResult{}, ErrInsufficientBalance
	}

	if in.Limits.DailyCapCents > 0 {
		var staked int64
		if err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount_cents), 0) FROM bets
			WHERE user_id=$1 AND created_at > $2`,
			in.UserID, in.At.Add(-DailyWindow)).Scan(&staked); err != nil {
			return PlaceBetResult{}, err
		}
		if staked+in.AmountCents > in.Limits.DailyCapCents {
			return PlaceBetResult{}, ErrLimitExceeded
		}
	}

	betID := uuid.New().String()
	newBalance, err := adjustTx(ctx, tx, in.UserID, -in.AmountCents, "bet:"+betID)
	if err != nil {
		return PlaceBetResult{}, err
	}
	if err = houseTx(ctx, tx, gameType, in.AmountCents, 0); err != nil {
		return PlaceBetResult{}, err
	}

	bet, err := scanBet(tx.QueryRowContext(ctx, `
		INSERT INTO bets (id, user_id, round_id, amount_cents, status, created_at)
		VALUES ($1,$2,$3,$4,'PENDING',$5)
		RETURNING `+betColumns,
		betID, in.UserID, in.RoundID, in.AmountCents, in.At))
	if db.IsUniqueViolation(err, "bets_user_round_key") {
		return PlaceBetResult{}, ErrAlreadyBet
	} else if err != nil {
		return PlaceBetResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return PlaceBetResult{}, err
	}
	return PlaceBetResult{Bet: bet, NewBalanceCents: newBalance}, nil
}

// CashOut liquida a aposta ao multiplicador informado.
// Concorre com a liquidação automática: quem completar o CAS PENDING -> COMPLETED vence.
func (p *Postgres) CashOut(ctx context.Context, in CashOutParams) (CashOutResult, error) {
	if _, err := uuid.Parse(in.RoundID); err != nil {
		return CashOutResult{}, ErrRoundNotFound
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return CashOutResult{}, err
	}
	defer tx.Rollback()

	var gameType, phase string
	var roundEnd time.Time
	err = tx.QueryRowContext(ctx, `SELECT game_type, phase, round_end_time FROM rounds WHERE id=$1 FOR SHARE`,
		in.RoundID).Scan(&gameType, &phase, &roundEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return CashOutResult{}, ErrRoundNotFound
	} else if err != nil {
		return CashOutResult{}, err
	}

	bet, err := scanBet(tx.QueryRowContext(ctx, `
		SELECT `+betColumns+` FROM bets WHERE user_id=$1 AND round_id=$2 FOR UPDATE`,
		in.UserID, in.RoundID))
	if errors.Is(err, sql.ErrNoRows) {
		return CashOutResult{}, ErrNoBet
	} else if err != nil {
		return CashOutResult{}, err
	}
	if bet.Status != BetPending {
		return CashOutResult{}, ErrAlreadySettled
	}
	if events.Phase(phase) != events.PhaseRunning || !in.At.Before(roundEnd.Add(-in.Grace)) {
		return CashOutResult{}, ErrRoundClosed
	}

	mult := in.Multiplier.RoundBank(money.Places)
	win := money.WinCents(bet.AmountCents, mult)

	co := CashOut{
		ID:          uuid.New().String(),
		BetID:       bet.ID,
		UserID:      in.UserID,
		RoundID:     in.RoundID,
		Multiplier:  mult,
		AmountCents: win,
		CreatedAt:   in.At,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cashouts (id, bet_id, user_id, round_id, multiplier, amount_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		co.ID, co.BetID, co.UserID, co.RoundID, co.Multiplier, co.AmountCents, co.CreatedAt)
	if db.IsUniqueViolation(err, "cashouts_bet_id_key") {
		return CashOutResult{}, ErrAlreadySettled
	} else if err != nil {
		return CashOutResult{}, err
	}

	bet, err = completeTx(ctx, tx, bet.ID, mult, win, SettledByCashOut, in.At)
	if err != nil {
		return CashOutResult{}, err
	}
	newBalance, err := adjustTx(ctx, tx, in.UserID, win, "cashout:"+bet.ID)
	if err != nil {
		return CashOutResult{}, err
	}
	if err = houseTx(ctx, tx, gameType, 0, win); err != nil {
		return CashOutResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return CashOutResult{}, err
	}
	return CashOutResult{CashOut: co, Bet: bet, NewBalanceCents: newBalance}, nil
}

func (p *Postgres) PendingBets(ctx context.Context, roundID string) ([]Bet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE round_id=$1 AND status='PENDING'
		ORDER BY created_at`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SettleBet credita amount × final mesmo quando final < 1 (o jogador recupera parte do stake)
func (p *Postgres) SettleBet(ctx context.Context, betID string, final decimal.Decimal, at time.Time) (SettleResult, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return SettleResult{}, err
	}
	defer tx.Rollback()

	var userID, status, gameType, phase string
	var amount int64
	err = tx.QueryRowContext(ctx, `
		SELECT b.user_id, b.amount_cents, b.status, r.game_type, r.phase
		FROM bets b JOIN rounds r ON r.id = b.round_id
		WHERE b.id=$1
		FOR UPDATE OF b`, betID).Scan(&userID, &amount, &status, &gameType, &phase)
	if errors.Is(err, sql.ErrNoRows) {
		return SettleResult{}, ErrNoBet
	} else if err != nil {
		return SettleResult{}, err
	}
	if BetStatus(status) != BetPending {
		return SettleResult{}, ErrAlreadySettled
	}
	if events.Phase(phase) != events.PhaseEnded {
		return SettleResult{}, ErrPhaseConflict
	}

	mult := final.RoundBank(money.Places)
	win := money.WinCents(amount, mult)

	bet, err := completeTx(ctx, tx, betID, mult, win, SettledByAuto, at)
	if err != nil {
		return SettleResult{}, err
	}
	newBalance, err := adjustTx(ctx, tx, userID, win, "settle:"+betID)
	if err != nil {
		return SettleResult{}, err
	}
	if err = houseTx(ctx, tx, gameType, 0, win); err != nil {
		return SettleResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return SettleResult{}, err
	}
	return SettleResult{Bet: bet, NewBalanceCents: newBalance}, nil
}

func (p *Postgres) UserBet(ctx context.Context, userID, roundID string) (Bet, error) {
	if _, err := uuid.Parse(roundID); err != nil {
		return Bet{}, ErrNoBet
	}
	b, err := scanBet(p.db.QueryRowContext(ctx, `
		SELECT `+betColumns+` FROM bets WHERE user_id=$1 AND round_id=$2`, userID, roundID))
	if errors.Is(err, sql.ErrNoRows) {
		return Bet{}, ErrNoBet
	}
	return b, err
}

func (p *Postgres) UnsettledRounds(ctx context.Context, gameType string) ([]Round, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+roundColumns+` FROM rounds r
		WHERE game_type=$1 AND phase='ENDED'
		  AND EXISTS (SELECT 1 FROM bets b WHERE b.round_id = r.id AND b.status='PENDING')
		ORDER BY created_at`, gameType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// completeTx é o CAS PENDING -> COMPLETED da aposta
func completeTx(ctx context.Context, tx *sql.Tx, betID string, mult decimal.Decimal, win int64, by string, at time.Time) (Bet, error) {
	bet, err := scanBet(tx.QueryRowContext(ctx, `
		UPDATE bets SET status='COMPLETED', result_multiplier=$2, win_cents=$3, settled_by=$4, settled_at=$5
		WHERE id=$1 AND status='PENDING'
		RETURNING `+betColumns,
		betID, mult, win, by, at))
	if errors.Is(err, sql.ErrNoRows) {
		return Bet{}, ErrAlreadySettled
	}
	return bet, err
}

// adjustTx move o saldo dentro da transação do chamador e registra no wallet_ledger
func adjustTx(ctx context.Context, tx *sql.Tx, userID string, delta int64, ref string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		UPDATE wallets SET balance_cents = balance_cents + $2, version = version + 1, updated_at = NOW()
		WHERE user_id=$1 AND balance_cents + $2 >= 0
		RETURNING balance_cents`, userID, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInsufficientBalance
	} else if err != nil {
		return 0, err
	}

	op, amount := "CREDIT", delta
	if delta < 0 {
		op, amount = "DEBIT", -delta
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_ledger (user_id, operation_type, amount_cents, balance_after_cents, description)
		VALUES ($1,$2,$3,$4,$5)`, userID, op, amount, balance, ref); err != nil {
		return 0, err
	}
	return balance, nil
}

// houseTx aplica stake e payout na conta da casa do jogo
func houseTx(ctx context.Context, tx *sql.Tx, gameType string, stake, payout int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE house_accounts
		SET balance_cents = balance_cents + $2 - $3,
		    total_bet_cents = total_bet_cents + $2,
		    total_payout_cents = total_payout_cents + $3,
		    updated_at = NOW()
		WHERE game_type=$1`, gameType, stake, payout)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrHouseAccountMissing
	}
	return nil
}

// GetBalance retorna 0 para usuários sem carteira
func (p *Postgres) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx, `SELECT balance_cents FROM wallets WHERE user_id=$1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// AdjustBalance cria a carteira se preciso e aplica o delta com registro no ledger
func (p *Postgres) AdjustBalance(ctx context.Context, userID string, deltaCents int64, ref string) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance_cents) VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return 0, err
	}
	balance, err := adjustTx(ctx, tx, userID, deltaCents, ref)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

const houseColumns = `game_type, balance_cents, total_bet_cents, total_payout_cents, profit_margin, updated_at`

func scanHouse(row rowScanner) (HouseAccount, error) {
	var h HouseAccount
	err := row.Scan(&h.GameType, &h.BalanceCents, &h.TotalBetCents, &h.TotalPayoutCents, &h.ProfitMargin, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return HouseAccount{}, ErrHouseAccountMissing
	}
	return h, err
}

// EnsureHouseAccount cria a conta da casa com a margem informada; conta existente mantém a sua
func (p *Postgres) EnsureHouseAccount(ctx context.Context, gameType string, margin decimal.Decimal) (HouseAccount, error) {
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO house_accounts (game_type, profit_margin) VALUES ($1, $2)
		ON CONFLICT (game_type) DO NOTHING`, gameType, margin); err != nil {
		return HouseAccount{}, err
	}
	return p.HouseAccount(ctx, gameType)
}

func (p *Postgres) HouseAccount(ctx context.Context, gameType string) (HouseAccount, error) {
	return scanHouse(p.db.QueryRowContext(ctx, `SELECT `+houseColumns+` FROM house_accounts WHERE game_type=$1`, gameType))
}
