package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	models "TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	"TradeFusion/internal/service/ratelimit"
	"TradeFusion/internal/usecase"
	"TradeFusion/pkg/cache"
	xhttp "TradeFusion/pkg/http"
	xlogger "TradeFusion/pkg/logger"
)

const (
	triggerLockTTL = 5 * time.Minute
	healthTimeout  = 2 * time.Second
)

// QueryService is the read side the handler serves.
type QueryService interface {
	Signals(ctx context.Context, p usecase.SignalsParams) ([]models.Signal, error)
	Audit(ctx context.Context, asset string, stage models.Stage, limit int) ([]models.AuditRecord, error)
	Positions(ctx context.Context) ([]usecase.PositionView, error)
	Breaker(ctx context.Context) (*models.CircuitBreakerState, error)
	ResetBreaker(ctx context.Context, reason string) (*models.CircuitBreakerState, error)
	Outcomes(ctx context.Context, asset string, since time.Time) ([]models.SignalOutcome, error)
	DailyReport(ctx context.Context, at time.Time, date string) (*models.DailyReport, error)
}

// ContextWriter stores the market context snapshot read by the analysis cycle.
type ContextWriter interface {
	Put(ctx context.Context, mc *models.MarketContext, ttl time.Duration) error
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// EngineHandler exposes manual triggers and the read side of the engine over Echo.
type EngineHandler struct {
	logger   *xlogger.Logger
	analysis usecase.Analyzer
	risk     usecase.RiskRunner
	queries  QueryService
	locker   cache.Service
	limiter  *ratelimit.Limiter
	ctxStore ContextWriter
	ctxTTL   time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	health map[string]HealthCheck
}

type Option func(*EngineHandler)

// WithContextWriter enables PUT /api/market-context. Snapshots expire after ttl.
func WithContextWriter(w ContextWriter, ttl time.Duration) Option {
	return func(h *EngineHandler) { h.ctxStore, h.ctxTTL = w, ttl }
}

// WithLocker shares the scheduler's job locks, so a manual run never overlaps a scheduled one.
func WithLocker(c cache.Service) Option {
	return func(h *EngineHandler) { h.locker = c }
}

// WithTriggerLimit throttles the POST triggers per client address.
func WithTriggerLimit(rps float64, burst int) Option {
	return func(h *EngineHandler) { h.limiter = ratelimit.New(rps, burst) }
}

func NewEngineHandler(logger *xlogger.Logger, analysis usecase.Analyzer, risk usecase.RiskRunner, queries QueryService, opts ...Option) *EngineHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &EngineHandler{
		logger:   logger.Component("api"),
		analysis: analysis,
		risk:     risk,
		queries:  queries,
		health:   make(map[string]HealthCheck),
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// AddHealthCheck registers a dependency probe under name.
func (h *EngineHandler) AddHealthCheck(name string, fn HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.health[name] = fn
}

func (h *EngineHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.POST("/analysis/run", h.RunAnalysis)
	g.POST("/risk/run", h.RunRisk)
	g.GET("/signals", h.Signals)
	g.GET("/audit", h.Audit)
	g.GET("/positions", h.Positions)
	g.GET("/breaker", h.Breaker)
	g.GET("/outcomes", h.Outcomes)
	g.GET("/reports/daily", h.DailyReport)
	g.POST("/breaker/reset", h.ResetBreaker)
	if h.ctxStore != nil {
		g.PUT("/market-context", h.PutMarketContext)
	}
}

func (h *EngineHandler) RunAnalysis(c echo.Context) error {
	req := &models.RunAnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(c, "analysis") {
		return xhttp.AppErrorResponse(c, tooManyRequests())
	}
	ctx := c.Request().Context()

	if !req.DryRun {
		release, err := h.lock(ctx, "analysis")
		if err != nil {
			return xhttp.AppErrorResponse(c, err)
		}
		defer release()
	}

	report, err := h.analysis.Run(ctx, req.Assets, req.DryRun)
	if err != nil {
		h.logger.Error("manual analysis failed", xlogger.Error(err))
		return partialResponse(c, report, err)
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *EngineHandler) RunRisk(c echo.Context) error {
	req := &models.RunRiskRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.allow(c, "risk") {
		return xhttp.AppErrorResponse(c, tooManyRequests())
	}
	ctx := c.Request().Context()

	if !req.DryRun {
		release, err := h.lock(ctx, "risk")
		if err != nil {
			return xhttp.AppErrorResponse(c, err)
		}
		defer release()
	}

	report, err := h.risk.Run(ctx, req.DryRun)
	if err != nil {
		h.logger.Error("manual risk check failed", xlogger.Error(err))
		return partialResponse(c, report, err)
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *EngineHandler) Signals(c echo.Context) error {
	req := &models.SignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p := usecase.SignalsParams{Asset: req.Asset, Limit: req.Limit}
	var ok bool
	if req.From != "" {
		if p.From, ok = xhttp.ParseTime(req.From); !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid from %q", req.From))
		}
	}
	if req.To != "" {
		if p.To, ok = xhttp.ParseTime(req.To); !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid to %q", req.To))
		}
	}

	rows, err := h.queries.Signals(c.Request().Context(), p)
	if err != nil {
		return h.fail(c, "signals", err)
	}
	return xhttp.ListResponse(c, rows, len(rows), req.Limit)
}

func (h *EngineHandler) Audit(c echo.Context) error {
	req := &models.AuditRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.queries.Audit(c.Request().Context(), req.Asset, models.Stage(req.Stage), req.Limit)
	if err != nil {
		return h.fail(c, "audit", err)
	}
	return xhttp.ListResponse(c, rows, len(rows), req.Limit)
}

func (h *EngineHandler) Positions(c echo.Context) error {
	rows, err := h.queries.Positions(c.Request().Context())
	if err != nil {
		return h.fail(c, "positions", err)
	}
	return xhttp.ListResponse(c, rows, len(rows), 0)
}

func (h *EngineHandler) Outcomes(c echo.Context) error {
	req := &models.OutcomesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	var since time.Time
	if req.Since != "" {
		var ok bool
		if since, ok = xhttp.ParseTime(req.Since); !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid since %q", req.Since))
		}
	}
	rows, err := h.queries.Outcomes(c.Request().Context(), req.Asset, since)
	if err != nil {
		return h.fail(c, "outcomes", err)
	}
	return xhttp.ListResponse(c, rows, len(rows), 0)
}

// DailyReport builds the report on demand without sending it.
func (h *EngineHandler) DailyReport(c echo.Context) error {
	req := &models.DailyReportQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	r, err := h.queries.DailyReport(c.Request().Context(), h.now(), req.Date)
	if err != nil {
		return h.fail(c, "daily report", err)
	}
	return xhttp.SuccessResponse(c, r)
}

func (h *EngineHandler) Breaker(c echo.Context) error {
	st, err := h.queries.Breaker(c.Request().Context())
	if err != nil {
		return h.fail(c, "breaker", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *EngineHandler) ResetBreaker(c echo.Context) error {
	req := &models.BreakerResetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.queries.ResetBreaker(c.Request().Context(), req.Reason)
	if err != nil {
		return h.fail(c, "breaker reset", err)
	}
	h.logger.Warn("circuit breaker reset", xlogger.String("reason", req.Reason), xlogger.String("remote", c.RealIP()))
	return xhttp.SuccessResponse(c, st)
}

func (h *EngineHandler) PutMarketContext(c echo.Context) error {
	req := &models.MarketContextRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	mc := &models.MarketContext{
		FearGreed:      req.FearGreed,
		FundingScore:   req.FundingScore,
		DominanceScore: req.DominanceScore,
		FundingRateAvg: req.FundingRateAvg,
		BTCDominance:   req.BTCDominance,
		Score:          req.Score,
		ObservedAt:     h.now().UTC(),
	}
	if req.ObservedAt != "" {
		at, ok := xhttp.ParseTime(req.ObservedAt)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid observed_at %q", req.ObservedAt))
		}
		mc.ObservedAt = at.UTC()
	}
	if err := h.ctxStore.Put(c.Request().Context(), mc, h.ctxTTL); err != nil {
		return h.fail(c, "market context", err)
	}
	return xhttp.SuccessResponse(c, mc)
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health answers with a real 503 when any dependency fails, for load balancer probes.
func (h *EngineHandler) Health(c echo.Context) error {
	h.mu.RLock()
	names := make([]string, 0, len(h.health))
	for n := range h.health {
		names = append(names, n)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	out := healthReport{Status: "ok", Checks: make(map[string]string, len(names))}
	for _, n := range names {
		h.mu.RLock()
		fn := h.health[n]
		h.mu.RUnlock()

		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		err := fn(ctx)
		cancel()
		if err != nil {
			out.Status = "degraded"
			out.Checks[n] = err.Error()
			continue
		}
		out.Checks[n] = "ok"
	}
	if out.Status != "ok" {
		return c.JSON(http.StatusServiceUnavailable, out)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *EngineHandler) allow(c echo.Context, route string) bool {
	if h.limiter == nil {
		return true
	}
	return h.limiter.Allow(c.RealIP() + ":" + route)
}

// lock takes the job lock shared with the scheduler. Without a locker it is a no-op.
func (h *EngineHandler) lock(ctx context.Context, job string) (func(), error) {
	if h.locker == nil {
		return func() {}, nil
	}
	key := cache.Key("scheduler", job)
	ok, err := h.locker.TryLock(ctx, key, triggerLockTTL)
	if err != nil {
		return nil, xhttp.UnavailableError("job lock unavailable").WithError(err)
	}
	if !ok {
		return nil, xhttp.ConflictError(job+" already running").WithParam("job", job)
	}
	return func() {
		if err := h.locker.Unlock(context.Background(), key); err != nil {
			h.logger.Warn("job unlock failed", xlogger.String("job", job), xlogger.Error(err))
		}
	}, nil
}

func (h *EngineHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, domrepo.ErrInvalidInput):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(strings.TrimPrefix(err.Error(), domrepo.ErrInvalidInput.Error()+": ")).WithError(err))
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(op+" not found").WithError(err))
	}
	h.logger.Error(op+" query failed", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("%s failed", op).WithError(err))
}

// partialResponse returns whatever the run produced together with the failure.
func partialResponse(c echo.Context, report interface{}, err error) error {
	return xhttp.DataResponse(c, http.StatusBadGateway, map[string]interface{}{
		"error":  err.Error(),
		"report": report,
	})
}

func tooManyRequests() *xhttp.AppError {
	return xhttp.RateLimitedError("too many requests")
}
