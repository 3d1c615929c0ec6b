package decision

import (
	"sort"
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

// Candidate is one asset's evaluated state entering the cycle decision.
type Candidate struct {
	Asset         string
	FusedScore    float64
	BuyThreshold  float64
	SellThreshold float64
	Held          bool
	HeldFor       time.Duration
	Profitable    bool
	Decelerating  bool
	// RiskExit is set when a stop-loss or take-profit condition fires independently.
	RiskExit bool
}

// Outcome is the decision for one candidate. Outcomes are returned in rank order.
type Outcome struct {
	Asset         string
	Rank          int
	FusedScore    float64
	Decision      models.Decision
	Reason        string
	EffectiveSell float64
}

// Policy decides SELL for held assets first, then BUY for unheld assets by rank.
type Policy struct {
	maxPositions int
	minHold      time.Duration
	relax        float64
}

func NewPolicy(cfg config.DecisionConfig) *Policy {
	return &Policy{maxPositions: cfg.MaxPositions, minHold: cfg.MinHold, relax: cfg.DecelerationRelax}
}

// Rank orders candidates by fused score descending, asset name ascending on ties.
func Rank(cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// Decide runs one cycle. Each asset receives exactly one decision.
func (p *Policy) Decide(cands []Candidate) []Outcome {
	ranked := Rank(cands)
	out := make([]Outcome, len(ranked))

	held, sells := 0, 0
	for i, c := range ranked {
		out[i] = Outcome{Asset: c.Asset, Rank: i + 1, FusedScore: c.FusedScore, Decision: models.DecisionHold, EffectiveSell: c.SellThreshold}
		if !c.Held {
			continue
		}
		held++
		out[i].EffectiveSell, out[i].Decision, out[i].Reason = p.decideHeld(c)
		if out[i].Decision == models.DecisionSell {
			sells++
		}
	}

	slots := p.maxPositions - (held - sells)
	for i, c := range ranked {
		if c.Held {
			continue
		}
		switch {
		case c.FusedScore < c.BuyThreshold:
			out[i].Reason = models.ReasonBelowBuyThreshold
		case slots <= 0:
			out[i].Reason = models.ReasonMaxPositions
		default:
			out[i].Decision = models.DecisionBuy
			out[i].Reason = models.ReasonBuySignal
			slots--
		}
	}
	return out
}

func (p *Policy) decideHeld(c Candidate) (float64, models.Decision, string) {
	matured := c.HeldFor >= p.minHold

	sell := c.SellThreshold
	if matured && c.Profitable && c.Decelerating {
		sell *= p.relax
	}

	if c.FusedScore > sell {
		return sell, models.DecisionHold, models.ReasonAboveSellThreshold
	}
	switch {
	case matured:
		return sell, models.DecisionSell, models.ReasonSellSignal
	case c.RiskExit:
		return sell, models.DecisionSell, models.ReasonRiskExit
	}
	return sell, models.DecisionHold, models.ReasonMinHold
}
