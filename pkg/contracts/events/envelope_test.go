package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapDecodeKeepsVariant(t *testing.T) {
	end := time.Date(2026, 10, 16, 12, 0, 5, 0, time.UTC)

	cases := []struct {
		name string
		ev   Event
	}{
		{name: "phase", ev: &PhaseChanged{RoundID: "r1", Phase: PhaseBetting, BettingEndTime: &end, SeedHash: "abc"}},
		{name: "tick", ev: &MultiplierTick{RoundID: "r1", Index: 7, Multiplier: decimal.RequireFromString("1.35")}},
		{name: "settled", ev: &RoundSettled{RoundID: "r1", FinalMultiplier: decimal.RequireFromString("0.40"), SettledBets: 3}},
		{name: "bet", ev: &BetPlaced{RoundID: "r1", BetID: "b1", UserID: "u1", AmountCents: 10000}},
		{name: "cashout", ev: &CashOutMade{RoundID: "r1", BetID: "b1", UserID: "u1", Multiplier: decimal.RequireFromString("1.50"), AmountCents: 15000}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Wrap("multiplier", 42, tc.ev)
			require.NoError(t, err)
			assert.Equal(t, tc.ev.EventType(), env.Type)
			assert.Equal(t, "r1", env.RoundID)
			assert.Equal(t, uint64(42), env.Seq)

			raw, err := json.Marshal(env)
			require.NoError(t, err)

			got, ev, err := Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, env.Type, got.Type)
			assert.Equal(t, tc.ev.EventType(), ev.EventType())
			assert.Equal(t, "r1", ev.Round())
		})
	}
}

func TestDecodeTickMultiplier(t *testing.T) {
	env, err := Wrap("multiplier", 1, &MultiplierTick{RoundID: "r1", Multiplier: decimal.RequireFromString("1.50")})
	require.NoError(t, err)

	ev, err := Decode(env)
	require.NoError(t, err)
	tick, ok := ev.(*MultiplierTick)
	require.True(t, ok)
	assert.True(t, tick.Multiplier.Equal(decimal.RequireFromString("1.5")))
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode(Envelope{Type: "chat_message", Data: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	_, err := Decode(Envelope{Type: TypeBetPlaced, Data: json.RawMessage(`{"amountCents":"ten"}`)})
	assert.Error(t, err)
}

func TestPhaseOrdinal(t *testing.T) {
	assert.Less(t, PhaseBetting.Ordinal(), PhaseRunning.Ordinal())
	assert.Less(t, PhaseRunning.Ordinal(), PhaseEnded.Ordinal())
	assert.Equal(t, -1, Phase("CRASHED").Ordinal())
}
