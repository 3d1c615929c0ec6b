package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

func policy(maxPositions int) *Policy {
	cfg := config.Default().Strategy.Decision
	cfg.MaxPositions = maxPositions
	return NewPolicy(cfg)
}

func byAsset(out []Outcome) map[string]Outcome {
	m := make(map[string]Outcome, len(out))
	for _, o := range out {
		m[o.Asset] = o
	}
	return m
}

func TestSellFreesSlotForBuyInSameCycle(t *testing.T) {
	out := byAsset(policy(1).Decide([]Candidate{
		{Asset: "A", FusedScore: -0.20, BuyThreshold: 0.28, SellThreshold: -0.15, Held: true, HeldFor: 5 * time.Hour},
		{Asset: "B", FusedScore: 0.30, BuyThreshold: 0.28, SellThreshold: -0.15},
	}))

	assert.Equal(t, models.DecisionSell, out["A"].Decision)
	assert.Equal(t, models.DecisionBuy, out["B"].Decision)
}

func TestMinHoldSuppressesOrdinarySell(t *testing.T) {
	out := byAsset(policy(3).Decide([]Candidate{
		{Asset: "A", FusedScore: -0.40, SellThreshold: -0.15, Held: true, HeldFor: time.Hour},
		{Asset: "B", FusedScore: -0.40, SellThreshold: -0.15, Held: true, HeldFor: time.Hour, RiskExit: true},
		{Asset: "C", FusedScore: 0.10, SellThreshold: -0.15, Held: true, HeldFor: 10 * time.Hour},
	}))

	assert.Equal(t, models.DecisionHold, out["A"].Decision)
	assert.Equal(t, models.ReasonMinHold, out["A"].Reason)
	assert.Equal(t, models.DecisionSell, out["B"].Decision)
	assert.Equal(t, models.ReasonRiskExit, out["B"].Reason)
	assert.Equal(t, models.ReasonAboveSellThreshold, out["C"].Reason)
}

func TestDecelerationRelaxesSellAfterMinHold(t *testing.T) {
	base := Candidate{Asset: "A", FusedScore: -0.10, SellThreshold: -0.15, Held: true, HeldFor: 5 * time.Hour, Profitable: true, Decelerating: true}

	out := policy(3).Decide([]Candidate{base})
	require.Len(t, out, 1)
	assert.Equal(t, models.DecisionSell, out[0].Decision)
	assert.InDelta(t, -0.075, out[0].EffectiveSell, 1e-12)

	young := base
	young.HeldFor = time.Hour
	out = policy(3).Decide([]Candidate{young})
	assert.Equal(t, models.DecisionHold, out[0].Decision)
	assert.Equal(t, -0.15, out[0].EffectiveSell)

	losing := base
	losing.Profitable = false
	out = policy(3).Decide([]Candidate{losing})
	assert.Equal(t, models.DecisionHold, out[0].Decision)
}

func TestBuysRespectRankAndSlots(t *testing.T) {
	out := policy(2).Decide([]Candidate{
		{Asset: "C", FusedScore: 0.31, BuyThreshold: 0.28},
		{Asset: "A", FusedScore: 0.50, BuyThreshold: 0.28},
		{Asset: "B", FusedScore: 0.50, BuyThreshold: 0.28},
		{Asset: "D", FusedScore: 0.40, BuyThreshold: 0.28, Held: true, HeldFor: time.Hour, SellThreshold: -0.15},
		{Asset: "E", FusedScore: 0.10, BuyThreshold: 0.28},
	})

	require.Len(t, out, 5)
	assert.Equal(t, []string{"A", "B", "D", "C", "E"}, []string{out[0].Asset, out[1].Asset, out[2].Asset, out[3].Asset, out[4].Asset})
	m := byAsset(out)
	assert.Equal(t, models.DecisionBuy, m["A"].Decision)
	assert.Equal(t, models.DecisionHold, m["B"].Decision)
	assert.Equal(t, models.ReasonMaxPositions, m["B"].Reason)
	assert.Equal(t, models.ReasonMaxPositions, m["C"].Reason)
	assert.Equal(t, models.ReasonBelowBuyThreshold, m["E"].Reason)
}

func TestNeverBuyAndSellSameAsset(t *testing.T) {
	out := policy(5).Decide([]Candidate{
		{Asset: "A", FusedScore: -0.9, BuyThreshold: -1, SellThreshold: -0.15, Held: true, HeldFor: 10 * time.Hour},
	})
	require.Len(t, out, 1)
	assert.Equal(t, models.DecisionSell, out[0].Decision)
}
