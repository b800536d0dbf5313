package verifier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/round-engine/curve"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/engine"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/ledger"
	"github.com/radieske/multiplier-bet-platform/internal/shared/config"
	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"
	"github.com/radieske/multiplier-bet-platform/internal/shared/money"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

// Nomes das verificações, usados como label de métrica
const (
	CheckSeed     = "seed"
	CheckSeedHash = "seed_hash"
	CheckReplay   = "replay_final"
	CheckLedger   = "ledger_final"
)

// RoundReader é a parte do ledger usada para conferir o resultado persistido
type RoundReader interface {
	GetRound(ctx context.Context, roundID string) (ledger.Round, error)
}

type Mismatch struct {
	Check  string
	Detail string
}

type Result struct {
	RoundID    string
	Mismatches []Mismatch
}

func (r Result) OK() bool { return len(r.Mismatches) == 0 }

// Verifier reproduz uma rodada encerrada a partir da seed revelada
type Verifier struct {
	game    config.Game
	rounds  RoundReader
	log     *zap.Logger
	metrics *metrics.Game
}

// New cria o verificador; rounds é opcional
func New(game config.Game, rounds RoundReader, log *zap.Logger, m *metrics.Game) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{game: game, rounds: rounds, log: log, metrics: m}
}

// Verify confere o compromisso da seed, o replay da curva e, se houver ledger, o valor gravado.
// Erro só em falha de infraestrutura; divergências voltam no Result.
func (v *Verifier) Verify(ctx context.Context, ev events.RoundSettled) (Result, error) {
	res := Result{RoundID: ev.RoundID}
	announced := ev.FinalMultiplier.Round(money.Places)

	seed, err := curve.ParseSeed(ev.Seed)
	if err != nil {
		res.add(CheckSeed, err.Error())
	} else {
		if got := seed.Hash(); got != ev.SeedHash {
			res.add(CheckSeedHash, fmt.Sprintf("hash(seed)=%s commitment=%s", got, ev.SeedHash))
		}
		cv, err := curve.Generate(seed, engine.Params(v.game, ev.ProfitMargin, ev.Samples))
		if err != nil {
			res.add(CheckReplay, err.Error())
		} else if !cv.Final().Equal(announced) {
			res.add(CheckReplay, fmt.Sprintf("replayed=%s announced=%s", cv.Final().StringFixed(money.Places), announced.StringFixed(money.Places)))
		}
	}

	if v.rounds != nil {
		r, err := v.rounds.GetRound(ctx, ev.RoundID)
		switch {
		case errors.Is(err, ledger.ErrRoundNotFound):
			res.add(CheckLedger, "round not in ledger")
		case err != nil:
			return res, fmt.Errorf("load round %s: %w", ev.RoundID, err)
		case !r.FinalMultiplier.Valid || !r.FinalMultiplier.Decimal.Equal(announced):
			res.add(CheckLedger, fmt.Sprintf("ledger=%s announced=%s", r.FinalMultiplier.Decimal.StringFixed(money.Places), announced.StringFixed(money.Places)))
		case r.SeedHash != ev.SeedHash:
			res.add(CheckLedger, "seed hash differs from ledger")
		}
	}

	v.metrics.Audited()
	for _, mm := range res.Mismatches {
		v.metrics.AuditMismatch(mm.Check)
		v.log.Error("round audit mismatch",
			zap.String("round_id", ev.RoundID),
			zap.String("check", mm.Check),
			zap.String("detail", mm.Detail))
	}
	if res.OK() {
		v.log.Info("round audit ok", zap.String("round_id", ev.RoundID), zap.String("final_multiplier", announced.StringFixed(money.Places)))
	}
	return res, nil
}

func (r *Result) add(check, detail string) {
	r.Mismatches = append(r.Mismatches, Mismatch{Check: check, Detail: detail})
}
