package events

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundStateEnvelopes(t *testing.T) {
	end := time.Date(2026, 10, 16, 12, 0, 25, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		envs, err := RoundState{}.Envelopes()
		require.NoError(t, err)
		assert.Empty(t, envs)
	})

	t.Run("betting", func(t *testing.T) {
		envs, err := RoundState{GameType: "multiplier", RoundID: "r1", Phase: PhaseBetting, BettingEndTime: end, SeedHash: "h"}.Envelopes()
		require.NoError(t, err)
		require.Len(t, envs, 1)
		ev, err := Decode(envs[0])
		require.NoError(t, err)
		pc := ev.(*PhaseChanged)
		assert.Equal(t, PhaseBetting, pc.Phase)
		require.NotNil(t, pc.BettingEndTime)
		assert.True(t, end.Equal(*pc.BettingEndTime))
		assert.Equal(t, "h", pc.SeedHash)
	})

	t.Run("running carries the cursor", func(t *testing.T) {
		st := RoundState{GameType: "multiplier", RoundID: "r1", Phase: PhaseRunning, RoundEndTime: end,
			TickIndex: 12, Multiplier: decimal.RequireFromString("1.07")}
		envs, err := st.Envelopes()
		require.NoError(t, err)
		require.Len(t, envs, 2)
		assert.Equal(t, TypePhaseChanged, envs[0].Type)
		ev, err := Decode(envs[1])
		require.NoError(t, err)
		tick := ev.(*MultiplierTick)
		assert.Equal(t, 12, tick.Index)
		assert.True(t, tick.Multiplier.Equal(decimal.RequireFromString("1.07")))
	})
}
