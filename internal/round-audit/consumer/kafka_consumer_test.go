package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/multiplier-bet-platform/internal/round-audit/verifier"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/curve"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/engine"
	"github.com/radieske/multiplier-bet-platform/internal/shared/config"
	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

// sliceReader entrega as mensagens e depois bloqueia até o contexto terminar
type sliceReader struct {
	msgs []kafka.Message
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

type dlq struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (d *dlq) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msgs...)
	return nil
}

func message(t *testing.T, ev events.Event) kafka.Message {
	t.Helper()
	env, err := events.Wrap("multiplier", 1, ev)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Topic: "round_events", Key: []byte(ev.Round()), Value: b}
}

func TestProcessorAuditsSettledRoundsAndDeadLetters(t *testing.T) {
	game := config.Game{Type: "multiplier", MaxMultiplier: 2, FairMultiplier: 1, ProfitMargin: 0.05, CurveVolatility: 0.04}
	seed, err := curve.NewSeed()
	require.NoError(t, err)
	margin := decimal.RequireFromString("0.05")
	cv, err := curve.Generate(seed, engine.Params(game, margin, 21))
	require.NoError(t, err)

	honest := events.RoundSettled{RoundID: "r1", FinalMultiplier: cv.Final(), Seed: seed.Hex(), SeedHash: seed.Hash(), ProfitMargin: margin, Samples: 21}
	forged := honest
	forged.RoundID = "r2"
	forged.FinalMultiplier = cv.Final().Add(decimal.RequireFromString("0.50"))

	reader := &sliceReader{msgs: []kafka.Message{
		message(t, events.PhaseChanged{RoundID: "r1", Phase: events.PhaseEnded}),
		message(t, honest),
		{Topic: "round_events", Key: []byte("bad"), Value: []byte("{not json")},
		message(t, forged),
	}}
	m := metrics.NewGame(prometheus.NewRegistry())
	dead := &dlq{}
	var consumed int
	errs := map[string]int{}

	p := &Processor{
		Log:        zap.NewNop(),
		Reader:     reader,
		DLQ:        dead,
		Verifier:   verifier.New(game, nil, nil, m),
		OnConsumed: func() { consumed++ },
		OnError:    func(stage string) { errs[stage]++ },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return testutil.ToFloat64(m.AuditRounds) == 2 }, defaultWait, tick)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 4, consumed)
	assert.Equal(t, 1, errs["decode"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditMismatches.WithLabelValues(verifier.CheckReplay)))

	require.Len(t, dead.msgs, 1)
	assert.Equal(t, []byte("bad"), dead.msgs[0].Key)
}

const (
	defaultWait = 2 * time.Second
	tick        = 10 * time.Millisecond
)
