// Package scheduler содержит процесс, который по расписанию снимает VIP
// с истёкших подписок и публикует уведомления об этом.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pomogator/relay/internal/app/core"
	"github.com/pomogator/relay/internal/config"
	"github.com/pomogator/relay/internal/lib/metrics"
	"github.com/pomogator/relay/internal/lib/sl"
	schedulerservice "github.com/pomogator/relay/internal/services/scheduler"
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.Service
	core             *core.Core
	metricsServer    *http.Server
	schedule         string
	logger           *slog.Logger
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	c, err := core.New(ctx, cfg, logger, false)
	if err != nil {
		return nil, fmt.Errorf("failed to init scheduler dependencies: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var (
		locker   schedulerservice.Locker
		notifier schedulerservice.Notifier
	)
	if c.Cache != nil {
		locker = c.Cache
	}
	if c.Publisher != nil {
		notifier = c.Publisher
	}

	a := &App{
		schedulerService: schedulerservice.New(c.Subscriptions, locker, notifier, m, logger, cfg.Scheduler.LockTTL),
		core:             c,
		schedule:         cfg.Scheduler.SweepSchedule,
		logger:           logger,
	}
	if cfg.Scheduler.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		a.metricsServer = &http.Server{
			Addr:              cfg.Scheduler.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

// Run запускает планировщик и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.core.Close()

	if a.metricsServer != nil {
		go func() {
			a.logger.Info("metrics server starting on", slog.String("address", a.metricsServer.Addr))
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", sl.Err(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.metricsServer.Shutdown(shutdownCtx)
		}()
	}

	err := a.schedulerService.Start(ctx, a.schedule)
	a.logger.Info("shutting down scheduler service")
	return err
}
