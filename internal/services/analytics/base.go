package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	svcmetrics "TradeFusion/internal/service/metrics"
	xhttp "TradeFusion/pkg/http"
)

// HTTPServiceBase is the shared foundation of the analytics HTTP clients.
// It centralizes client construction, JSON calls and retry with jittered backoff.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
	retries int
	backOff func() backoff.BackOff
}

// NewHTTPServiceBase builds a client for one service. retries counts extra attempts.
func NewHTTPServiceBase(baseURL string, timeout time.Duration, retries int) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &HTTPServiceBase{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		retries: retries,
		backOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	return b
}

// Configured reports whether a base URL was provided.
func (b *HTTPServiceBase) Configured() bool { return b != nil && b.baseURL != "" }

// PostJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	return b.call(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.baseURL + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, dest)
}

// GetJSON fetches path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) GetJSON(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	return b.call(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         b.baseURL + path,
		QueryParams: query,
	}, dest)
}

// call retries transport errors, 429 and 5xx. Other statuses fail at once.
func (b *HTTPServiceBase) call(ctx context.Context, opts *xhttp.RequestOptions, dest interface{}) error {
	if !b.Configured() {
		return fmt.Errorf("analytics http client not configured")
	}
	op := func() error {
		err := b.client.SendAndParse(ctx, opts, dest)
		if err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b.backOff(), uint64(b.retries)), ctx)
	started := time.Now()
	err := backoff.Retry(op, policy)
	svcmetrics.ObserveUpstream(endpoint(opts.URL, b.baseURL), started, err)
	if err != nil {
		return fmt.Errorf("%s %s: %w", opts.Method, opts.URL, err)
	}
	return nil
}

// endpoint is the first path segment, so per-asset paths share one label.
func endpoint(url, base string) string {
	p := strings.TrimPrefix(url, base)
	if i := strings.IndexByte(p[min(1, len(p)):], '/'); i >= 0 {
		p = p[:i+1]
	}
	return p
}
