package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/queue"
)

// TypeDailyReport is the queue message type that requests the daily report.
const TypeDailyReport = "daily_report"

// DailyReportRequest is the payload of a TypeDailyReport message.
type DailyReportRequest struct {
	Date string    `json:"date"`
	At   time.Time `json:"at"`
}

// ReportBuilder assembles the daily report.
type ReportBuilder interface {
	DailyReport(ctx context.Context, at time.Time, date string) (*models.DailyReport, error)
}

// DailyReportJob builds the report when requested and posts it through the webhook.
type DailyReportJob struct {
	builder ReportBuilder
	webhook *WebhookJob
}

var _ queue.Job = (*DailyReportJob)(nil)

func NewDailyReportJob(builder ReportBuilder, webhook *WebhookJob) *DailyReportJob {
	return &DailyReportJob{builder: builder, webhook: webhook}
}

func (j *DailyReportJob) Name() string { return "daily-report" }
func (j *DailyReportJob) Type() string { return TypeDailyReport }

func (j *DailyReportJob) Handle(ctx context.Context, payload interface{}) error {
	req, err := queue.ParsePayload[DailyReportRequest](payload)
	if err != nil {
		return fmt.Errorf("parse report request: %w", err)
	}
	report, err := j.builder.DailyReport(ctx, req.At, req.Date)
	if err != nil {
		return fmt.Errorf("build daily report: %w", err)
	}
	text := RenderReport(report)
	if j.webhook.url == "" {
		j.webhook.log.Info("daily report", logger.String("date", report.Date), logger.String("text", text))
		return nil
	}
	return j.webhook.post(ctx, text)
}

// RenderReport formats the report as webhook markdown.
func RenderReport(r *models.DailyReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ":bar_chart: *Daily report %s*", r.Date)

	if len(r.Trades) > 0 {
		sb.WriteString("\n*Trades*")
		for _, w := range r.Trades {
			if w.Trades == 0 {
				fmt.Fprintf(&sb, "\n• %s: no closed trades", w.Window)
				continue
			}
			fmt.Fprintf(&sb, "\n• %s: %d trades, win rate %.0f%% (95%% CI %.0f-%.0f%%), pnl %+.2f, best %+.2f, worst %+.2f",
				w.Window, w.Trades, w.WinRate*100, w.WinRateLow*100, w.WinRateHigh*100, w.TotalPnL, w.BestPnL, w.WorstPnL)
		}
	}

	s := r.Signals
	fmt.Fprintf(&sb, "\n*Signals (24h)*\n• %d total: %d buy, %d sell, %d hold, %d degraded, avg score %+.3f",
		s.Total, s.Buy, s.Sell, s.Hold, s.Degraded, s.AvgScore)

	if len(r.Outcomes) > 0 {
		sb.WriteString("\n*Signal outcomes (7d)*")
		for _, o := range r.Outcomes {
			if o.Graded == 0 {
				continue
			}
			fmt.Fprintf(&sb, "\n• %s: %d graded, %dW/%dL/%dD, hit rate %.0f%%", o.Horizon, o.Graded, o.Wins, o.Losses, o.Draws, o.HitRate*100)
		}
	}

	if len(r.Positions) == 0 {
		sb.WriteString("\n*Open positions*: none")
	} else {
		sb.WriteString("\n*Open positions*")
		for _, p := range r.Positions {
			fmt.Fprintf(&sb, "\n• %s %.6g @ %.2f, stop %.2f, target %.2f, held %.1fh", p.Asset, p.Quantity, p.EntryPrice, p.StopLoss, p.TakeProfit, p.HeldHours)
		}
	}

	if mc := r.MarketContext; mc != nil {
		var parts []string
		if mc.FearGreed != nil {
			parts = append(parts, fmt.Sprintf("fear&greed %d", *mc.FearGreed))
		}
		if mc.BTCDominance != nil {
			parts = append(parts, fmt.Sprintf("btc dominance %.1f%%", *mc.BTCDominance))
		}
		if mc.Score != nil {
			parts = append(parts, fmt.Sprintf("score %+.2f", *mc.Score))
		}
		if len(parts) > 0 {
			fmt.Fprintf(&sb, "\n*Market*: %s", strings.Join(parts, ", "))
		}
	}

	if b := r.Breaker; b != nil && b.Tripped {
		fmt.Fprintf(&sb, "\n:rotating_light: circuit breaker tripped: %s", b.Reason)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&sb, "\n:warning: %s", e)
	}
	return sb.String()
}
