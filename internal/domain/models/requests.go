package models

// Requests for engine HTTP endpoints. Defined in domain for consistency and reuse.

type RunAnalysisRequest struct {
	Assets []string `json:"assets" validate:"omitempty,dive,required"`
	DryRun bool     `json:"dry_run"`
}

type RunRiskRequest struct {
	DryRun bool `json:"dry_run"`
}

type SignalsRequest struct {
	Asset string `query:"asset" json:"asset"`
	From  string `query:"from" json:"from"`
	To    string `query:"to" json:"to"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type AuditRequest struct {
	Asset string `query:"asset" json:"asset"`
	Stage string `query:"stage" json:"stage" validate:"omitempty,oneof=analysis risk dispatch"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type OutcomesRequest struct {
	Asset string `query:"asset" json:"asset"`
	Since string `query:"since" json:"since"`
}

type DailyReportQuery struct {
	Date string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type BreakerResetRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// MarketContextRequest is pushed by the external context collector.
type MarketContextRequest struct {
	FearGreed      *int     `json:"fear_greed" validate:"omitempty,gte=0,lte=100"`
	FundingRateAvg *float64 `json:"funding_rate_avg"`
	BTCDominance   *float64 `json:"btc_dominance" validate:"omitempty,gte=0,lte=100"`
	FundingScore   *float64 `json:"funding_score" validate:"omitempty,gte=-1,lte=1"`
	DominanceScore *float64 `json:"dominance_score" validate:"omitempty,gte=-1,lte=1"`
	Score          *float64 `json:"score" validate:"omitempty,gte=-1,lte=1"`
	ObservedAt     string   `json:"observed_at"`
}
