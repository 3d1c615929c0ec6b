package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TradeFusion/internal/usecase"
	"TradeFusion/pkg/config"
	xhttp "TradeFusion/pkg/http"
	pkgkafka "TradeFusion/pkg/kafka"
	applogger "TradeFusion/pkg/logger"
)

// Collector is the live quote feed.
type Collector interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Recorder flushes buffered ticks in the background.
type Recorder interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

type Scheduler interface {
	Start(ctx context.Context)
	Stop()
}

// Consumer delivers instruction batches from Kafka.
type Consumer interface {
	RegisterHandler(h pkgkafka.BatchMessageHandler)
	Start() error
	Stop(ctx context.Context) error
}

// Notifier forwards notifications in the background.
type Notifier interface {
	Start(ctx context.Context)
	Stop()
}

// Worker runs queued notification jobs.
type Worker interface {
	Start() error
	Stop(ctx context.Context) error
}

// Deps are the long-running parts of the engine. Nil parts are not configured.
type Deps struct {
	Config     *config.Store
	ConfigPath string
	Logger     *applogger.Logger
	Handler    xhttp.Handler
	Collector  Collector
	Recorder   Recorder
	Scheduler  Scheduler
	Analysis   usecase.Analyzer
	Risk       usecase.RiskRunner
	Consumer   Consumer
	Dispatch   pkgkafka.BatchMessageHandler
	Notifier   Notifier
	Worker     Worker
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	d          Deps
	log        *applogger.Logger
	httpServer *xhttp.Server
}

func New(cfg *config.Config, d Deps) *App {
	if d.Logger == nil {
		d.Logger = applogger.Nop()
	}
	if d.Config == nil {
		d.Config = config.NewStore(cfg)
	}
	return &App{cfg: cfg, d: d, log: d.Logger.Component("app")}
}

// Run starts every configured component and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve runs until ctx is done, then shuts down.
func (a *App) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(runCtx); err != nil {
		a.shutdown()
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	cancel()
	a.shutdown()
	return nil
}

func (a *App) start(ctx context.Context) error {
	if a.d.ConfigPath != "" {
		err := a.d.Config.Watch(ctx, a.d.ConfigPath, func(c *config.Config, err error) {
			if err != nil {
				a.log.Error("config reload rejected", applogger.String("path", a.d.ConfigPath), applogger.Error(err))
				return
			}
			if err := applogger.SetLevel(c.Logging.Level); err != nil {
				a.log.Warn("log level unchanged", applogger.Error(err))
			}
			a.log.Info("config reloaded", applogger.Strings("assets", c.Strategy.Assets), applogger.String("log_level", c.Logging.Level))
		})
		if err != nil {
			a.log.Warn("config watch unavailable", applogger.Error(err))
		}
	}

	if a.d.Worker != nil {
		if err := a.d.Worker.Start(); err != nil {
			return err
		}
	}
	if a.d.Notifier != nil {
		a.d.Notifier.Start(ctx)
	}
	if a.d.Recorder != nil {
		a.d.Recorder.Start(ctx)
	}

	if a.d.Collector != nil {
		if err := a.d.Collector.Start(ctx); err != nil {
			// quotes fall back to REST while the feed is down
			a.log.Error("quote collector start failed", applogger.Error(err))
		} else {
			a.log.Info("quote collector started")
		}
	}

	if a.d.Consumer != nil && a.d.Dispatch != nil {
		a.d.Consumer.RegisterHandler(a.d.Dispatch)
		go func() {
			if err := a.d.Consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.d.Dispatch.Topic()))
	}

	if a.d.Scheduler != nil {
		a.d.Scheduler.Start(ctx)
	}

	a.httpServer = xhttp.NewServer(a.d.Handler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithSlowRequest(a.cfg.Server.SlowRequest),
		xhttp.WithMetricsPath(a.metricsPath()),
		xhttp.WithCORSOrigins(a.cfg.Server.CORSOrigins),
		xhttp.WithLogger(a.d.Logger),
	)
	return a.httpServer.Start()
}

func (a *App) metricsPath() string {
	if !a.cfg.Metrics.Enabled {
		return ""
	}
	return a.cfg.Metrics.Path
}

// shutdown stops intake first, then drains what is buffered.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.log.Info("shutting down")

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.d.Scheduler != nil {
		a.d.Scheduler.Stop()
	}
	if a.d.Collector != nil {
		if err := a.d.Collector.Shutdown(ctx); err != nil {
			a.log.Warn("quote collector stop error", applogger.Error(err))
		}
	}
	if a.d.Consumer != nil {
		if err := a.d.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.d.Recorder != nil {
		if err := a.d.Recorder.Stop(ctx); err != nil {
			a.log.Warn("tick recorder flush error", applogger.Error(err))
		}
	}
	if a.d.Notifier != nil {
		a.d.Notifier.Stop()
	}
	if a.d.Worker != nil {
		if err := a.d.Worker.Stop(ctx); err != nil {
			a.log.Warn("notification worker stop error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}

// RunAnalysis executes one analysis cycle outside the scheduler.
func (a *App) RunAnalysis(ctx context.Context, assets []string, dryRun bool) (*usecase.CycleReport, error) {
	if a.d.Analysis == nil {
		return nil, errors.New("analysis is not configured")
	}
	stop := a.startDispatch(ctx)
	defer stop()
	return a.d.Analysis.Run(ctx, assets, dryRun)
}

// RunRisk executes one risk check outside the scheduler.
func (a *App) RunRisk(ctx context.Context, dryRun bool) (*usecase.RiskReport, error) {
	if a.d.Risk == nil {
		return nil, errors.New("risk check is not configured")
	}
	stop := a.startDispatch(ctx)
	defer stop()
	return a.d.Risk.Run(ctx, dryRun)
}

// startDispatch runs the notifier for the duration of a one-shot command, so
// notifications raised during inline dispatch are delivered before exit.
func (a *App) startDispatch(ctx context.Context) func() {
	if a.d.Notifier == nil {
		return func() {}
	}
	a.d.Notifier.Start(ctx)
	return func() {
		done := make(chan struct{})
		go func() {
			a.d.Notifier.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			a.log.Warn("notifier did not drain in time")
		}
	}
}
