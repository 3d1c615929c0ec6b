package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"TradeFusion/internal/domain/service"
	"TradeFusion/pkg/logger"
	pkghttp "TradeFusion/pkg/http"
	"TradeFusion/pkg/queue"
)

var severityIcon = map[service.Severity]string{
	service.SeverityInfo:     ":information_source:",
	service.SeverityWarning:  ":warning:",
	service.SeverityCritical: ":rotating_light:",
}

type webhookPayload struct {
	Text string `json:"text"`
}

// WebhookJob delivers notifications to a Slack-compatible incoming webhook.
// Errors are returned so the queue retries and finally dead-letters.
type WebhookJob struct {
	url    string
	client *pkghttp.Client
	log    *logger.Logger
}

var _ queue.Job = (*WebhookJob)(nil)

func NewWebhookJob(url string, client *pkghttp.Client, log *logger.Logger) *WebhookJob {
	if client == nil {
		client = pkghttp.NewClient()
	}
	return &WebhookJob{url: url, client: client, log: log.Component("notify.webhook")}
}

func (j *WebhookJob) Name() string { return "notification-webhook" }
func (j *WebhookJob) Type() string { return TypeNotification }

func (j *WebhookJob) Handle(ctx context.Context, payload interface{}) error {
	n, err := queue.ParsePayload[Notification](payload)
	if err != nil {
		return fmt.Errorf("parse notification: %w", err)
	}
	text := fmt.Sprintf("%s [%s] %s", severityIcon[n.Severity], strings.ToUpper(string(n.Severity)), n.Message)
	if j.url == "" {
		j.log.Info("notification", logger.String("text", text))
		return nil
	}
	return j.post(ctx, text)
}

func (j *WebhookJob) post(ctx context.Context, text string) error {
	err := j.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodPost,
		URL:    j.url,
		Body:   webhookPayload{Text: text},
	}, nil)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	return nil
}

// ErrorDigestJob turns the log collector's aggregated error batches into one webhook message.
type ErrorDigestJob struct {
	topic   string
	webhook *WebhookJob
}

var _ queue.Job = (*ErrorDigestJob)(nil)

func NewErrorDigestJob(topic string, webhook *WebhookJob) *ErrorDigestJob {
	return &ErrorDigestJob{topic: topic, webhook: webhook}
}

func (j *ErrorDigestJob) Name() string { return "error-digest" }
func (j *ErrorDigestJob) Type() string { return j.topic }

func (j *ErrorDigestJob) Handle(ctx context.Context, payload interface{}) error {
	entries, err := queue.ParsePayload[[]logger.AggregatedLogEntry](payload)
	if err != nil {
		return fmt.Errorf("parse error digest: %w", err)
	}
	if len(*entries) == 0 {
		return nil
	}
	text := Digest(*entries, 10)
	if j.webhook.url == "" {
		j.webhook.log.Warn("error digest", logger.String("text", text))
		return nil
	}
	return j.webhook.post(ctx, text)
}

// Digest renders the most frequent entries first.
func Digest(entries []logger.AggregatedLogEntry, max int) string {
	sorted := append([]logger.AggregatedLogEntry(nil), entries...)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Count > sorted[b].Count })
	var sb strings.Builder
	fmt.Fprintf(&sb, ":rotating_light: %d distinct errors", len(sorted))
	for i, e := range sorted {
		if i == max {
			fmt.Fprintf(&sb, "\n… and %d more", len(sorted)-max)
			break
		}
		fmt.Fprintf(&sb, "\n• %s (x%d)", e.Message, e.Count)
	}
	return sb.String()
}
