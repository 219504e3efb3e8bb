// Package backend собирает HTTP-сервис relay: хранилище, леджер, оркестратор
// сообщений, подписки и платежи за одним chi-роутером.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pomogator/relay/internal/aiprovider"
	"github.com/pomogator/relay/internal/app/core"
	"github.com/pomogator/relay/internal/config"
	"github.com/pomogator/relay/internal/lib/jwt"
	"github.com/pomogator/relay/internal/lib/metrics"
	"github.com/pomogator/relay/internal/services/fulfillment"
	"github.com/pomogator/relay/internal/services/payment"
)

const shutdownTimeout = 15 * time.Second

// App HTTP-сервис relay.
type App struct {
	server *http.Server
	logger *slog.Logger
	core   *core.Core
}

// New создаёт приложение по конфигу.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "backend.New"

	if cfg.JWTToken.JWTSecretKey == "" {
		return nil, fmt.Errorf("%s: jwt secret is not set", op)
	}
	provider, err := aiprovider.New(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c, err := core.New(ctx, cfg, logger, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	fulfillmentService := fulfillment.New(c.Ledger, c.Store, provider, m, logger, fulfillment.Options{
		RequestTimeout: cfg.AI.RequestTimeout,
		RefundTimeout:  cfg.AI.RefundTimeout,
	})
	paymentService := payment.New(c.Store, c.Ledger, cfg.Payment.Provider, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, Deps{
		Messages:      fulfillmentService,
		Accounts:      c.Subscriptions,
		History:       c.Store,
		Payments:      paymentService,
		Confirmations: c.Subscriptions,
		Storage:       c.Store,
		Tokens:        jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL),
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		WebhookSecret: cfg.Payment.WebhookSecret,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		core:   c,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем плавно останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	defer a.core.Close()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	}
}
