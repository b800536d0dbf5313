package verifier

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/multiplier-bet-platform/internal/round-engine/curve"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/engine"
	"github.com/radieske/multiplier-bet-platform/internal/round-engine/ledger"
	"github.com/radieske/multiplier-bet-platform/internal/shared/config"
	"github.com/radieske/multiplier-bet-platform/internal/shared/metrics"
	"github.com/radieske/multiplier-bet-platform/pkg/contracts/events"
)

func game() config.Game {
	return config.Game{Type: "multiplier", MinMultiplier: 0, MaxMultiplier: 2, FairMultiplier: 1, ProfitMargin: 0.05, CurveVolatility: 0.04}
}

// settledRound grava uma rodada encerrada no ledger e devolve o evento honesto
func settledRound(t *testing.T, l *ledger.Memory) events.RoundSettled {
	t.Helper()
	ctx := context.Background()
	seed, err := curve.NewSeed()
	require.NoError(t, err)
	margin := decimal.RequireFromString("0.05")
	cv, err := curve.Generate(seed, engine.Params(game(), margin, 51))
	require.NoError(t, err)

	now := time.Now().UTC()
	r, err := l.CreateRound(ctx, ledger.NewRound{
		GameType: "multiplier", Seed: seed.Hex(), SeedHash: seed.Hash(), ProfitMargin: margin, Samples: 51,
		StartTime: now, BettingEndTime: now, RoundEndTime: now,
	})
	require.NoError(t, err)
	require.NoError(t, l.StartRunning(ctx, r.ID, now))
	require.NoError(t, l.EndRound(ctx, r.ID, cv.Final()))

	return events.RoundSettled{
		RoundID: r.ID, FinalMultiplier: cv.Final(), Seed: seed.Hex(), SeedHash: seed.Hash(),
		ProfitMargin: margin, Samples: 51,
	}
}

func TestVerifyAcceptsHonestRound(t *testing.T) {
	l := ledger.NewMemory()
	m := metrics.NewGame(prometheus.NewRegistry())
	v := New(game(), l, nil, m)

	res, err := v.Verify(context.Background(), settledRound(t, l))
	require.NoError(t, err)
	assert.True(t, res.OK(), "%+v", res.Mismatches)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditRounds))
}

func TestVerifyFlagsTampering(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*events.RoundSettled)
		checks []string
	}{
		{"final changed", func(ev *events.RoundSettled) {
			ev.FinalMultiplier = ev.FinalMultiplier.Add(decimal.RequireFromString("0.01"))
		}, []string{CheckReplay, CheckLedger}},
		{"commitment changed", func(ev *events.RoundSettled) {
			ev.SeedHash = "00"
		}, []string{CheckSeedHash, CheckLedger}},
		{"seed withheld", func(ev *events.RoundSettled) {
			ev.Seed = ""
		}, []string{CheckSeed}},
		{"unknown round", func(ev *events.RoundSettled) {
			ev.RoundID = "missing"
		}, []string{CheckLedger}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := ledger.NewMemory()
			m := metrics.NewGame(prometheus.NewRegistry())
			v := New(game(), l, nil, m)

			ev := settledRound(t, l)
			tc.mutate(&ev)
			res, err := v.Verify(context.Background(), ev)
			require.NoError(t, err)

			var got []string
			for _, mm := range res.Mismatches {
				got = append(got, mm.Check)
			}
			assert.ElementsMatch(t, tc.checks, got)
			for _, c := range tc.checks {
				assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditMismatches.WithLabelValues(c)))
			}
		})
	}
}

func TestVerifyWithoutLedger(t *testing.T) {
	ev := settledRound(t, ledger.NewMemory())
	res, err := New(game(), nil, nil, nil).Verify(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, res.OK())
}
