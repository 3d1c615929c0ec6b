package usecase

import (
	"context"
	"sync"
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/service/notify"
	"TradeFusion/pkg/cache"
	"TradeFusion/pkg/config"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/queue"
)

// Analyzer runs one analysis cycle.
type Analyzer interface {
	Run(ctx context.Context, assets []string, dryRun bool) (*CycleReport, error)
}

// RiskRunner runs one risk check.
type RiskRunner interface {
	Run(ctx context.Context, dryRun bool) (*RiskReport, error)
}

// Reconciler settles orders left submitted by an earlier failure.
type Reconciler interface {
	Reconcile(ctx context.Context) models.BatchReport
}

// OutcomeGrader grades past signals once their horizons elapse.
type OutcomeGrader interface {
	Run(ctx context.Context) (*OutcomeReport, error)
}

// a day's report is claimed once across replicas and restarts
const dailyReportClaimTTL = 48 * time.Hour

type scheduledJob struct {
	name      string
	interval  func() time.Duration
	run       func(ctx context.Context) error
	immediate bool
}

// Scheduler triggers analysis and risk checks on the configured intervals. Intervals are
// re-read from the config store after every run, so a reload takes effect on the next tick.
// With a locker, only one replica runs a job at a time.
type Scheduler struct {
	cfg      *config.Store
	analysis Analyzer
	risk     RiskRunner
	locker   cache.Service
	log      *logger.Logger

	reconciler Reconciler
	outcomes   OutcomeGrader
	reports    queue.QueueService
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

// WithReconciler adds a job that retries settlement of submitted orders.
func WithReconciler(r Reconciler) SchedulerOption {
	return func(s *Scheduler) { s.reconciler = r }
}

// WithResultChecker adds a job that grades signal outcomes.
func WithResultChecker(g OutcomeGrader) SchedulerOption {
	return func(s *Scheduler) { s.outcomes = g }
}

// WithDailyReport publishes a notify.TypeDailyReport message at the configured time of day.
func WithDailyReport(q queue.QueueService) SchedulerOption {
	return func(s *Scheduler) { s.reports = q }
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(cfg *config.Store, analysis Analyzer, risk RiskRunner, locker cache.Service, log *logger.Logger, opts ...SchedulerOption) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	s := &Scheduler{cfg: cfg, analysis: analysis, risk: risk, locker: locker, log: log.Component("scheduler"), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the job loops. Risk checks and reconciliation run immediately, the
// rest after one interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	jobs := []scheduledJob{
		{
			name:     "analysis",
			interval: func() time.Duration { return s.cfg.Strategy().Analysis.Interval },
			run: func(ctx context.Context) error {
				_, err := s.analysis.Run(ctx, nil, false)
				return err
			},
		},
		{
			name:      "risk",
			interval:  func() time.Duration { return s.cfg.Strategy().Analysis.RiskInterval },
			immediate: true,
			run: func(ctx context.Context) error {
				_, err := s.risk.Run(ctx, false)
				return err
			},
		},
	}
	jobs = append(jobs, s.optionalJobs()...)
	for _, j := range jobs {
		if j.interval() <= 0 {
			s.log.Info("job disabled", logger.String("job", j.name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

func (s *Scheduler) optionalJobs() []scheduledJob {
	var jobs []scheduledJob
	if s.reconciler != nil {
		jobs = append(jobs, scheduledJob{
			name:      "reconcile",
			interval:  func() time.Duration { return s.cfg.Strategy().Dispatch.ReconcileInterval },
			immediate: true,
			run: func(ctx context.Context) error {
				rep := s.reconciler.Reconcile(ctx)
				if rep.Failed > 0 {
					s.log.Warn("orders still unsettled", logger.Int("failed", rep.Failed))
				}
				return nil
			},
		})
	}
	if s.outcomes != nil {
		jobs = append(jobs, scheduledJob{
			name:     "outcomes",
			interval: func() time.Duration { return s.cfg.Strategy().Outcomes.Interval },
			run: func(ctx context.Context) error {
				_, err := s.outcomes.Run(ctx)
				return err
			},
		})
	}
	if s.reports != nil {
		jobs = append(jobs, scheduledJob{
			name: "daily_report",
			interval: func() time.Duration {
				wait, _ := s.cfg.Current().UntilDailyReport(s.now())
				return wait
			},
			run: s.publishDailyReport,
		})
	}
	return jobs
}

// publishDailyReport requests the report for the local date that just reached the
// report time. The date is claimed first so a day is reported once.
func (s *Scheduler) publishDailyReport(ctx context.Context) error {
	now := s.now()
	date := s.cfg.Current().ReportDate(now)
	if s.locker != nil {
		ok, err := s.locker.SetNX(ctx, cache.Key("report", "daily", date), now.UTC().Format(time.RFC3339), dailyReportClaimTTL)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("daily report already requested", logger.String("date", date))
			return nil
		}
	}
	s.log.Info("requesting daily report", logger.String("date", date))
	return s.reports.PublishMessage(ctx, notify.TypeDailyReport, notify.DailyReportRequest{Date: date, At: now.UTC()})
}

func (s *Scheduler) loop(ctx context.Context, j scheduledJob) {
	defer s.wg.Done()
	wait := j.interval()
	if j.immediate {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runOnce(ctx, j)
			next := j.interval()
			if next <= 0 {
				next = time.Minute
			}
			timer.Reset(next)
		}
	}
}

// runOnce runs the job under the distributed lock when a locker is set.
func (s *Scheduler) runOnce(ctx context.Context, j scheduledJob) {
	if s.locker != nil {
		key := cache.Key("scheduler", j.name)
		ok, err := s.locker.TryLock(ctx, key, j.interval())
		if err != nil {
			s.log.Warn("scheduler lock failed", logger.String("job", j.name), logger.Error(err))
			return
		}
		if !ok {
			s.log.Debug("job held by another replica", logger.String("job", j.name))
			return
		}
		defer func() {
			if err := s.locker.Unlock(context.Background(), key); err != nil {
				s.log.Warn("scheduler unlock failed", logger.String("job", j.name), logger.Error(err))
			}
		}()
	}

	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.log.Error("scheduled job failed", logger.String("job", j.name), logger.Error(err))
		return
	}
	s.log.Debug("scheduled job done", logger.String("job", j.name), logger.Duration("took", time.Since(start)))
}

// Stop cancels the loops and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
