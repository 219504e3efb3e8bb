package backend

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/pomogator/relay/internal/http/handlers/account/credits"
	"github.com/pomogator/relay/internal/http/handlers/account/history"
	"github.com/pomogator/relay/internal/http/handlers/account/trial"
	"github.com/pomogator/relay/internal/http/handlers/health"
	"github.com/pomogator/relay/internal/http/handlers/message/process"
	"github.com/pomogator/relay/internal/http/handlers/payment/paymentcreate"
	"github.com/pomogator/relay/internal/http/handlers/payment/paymentlist"
	"github.com/pomogator/relay/internal/http/handlers/payment/paymentwebhook"
	"github.com/pomogator/relay/internal/http/middlewarectx"
)

// Accounts операции с аккаунтом, доступные боту.
type Accounts interface {
	credits.Service
	trial.Service
}

// Payments создание и просмотр платежей.
type Payments interface {
	paymentcreate.Service
	paymentlist.Service
}

// Deps сервисы и настройки, из которых собираются маршруты.
type Deps struct {
	Messages      process.Service
	Accounts      Accounts
	History       history.Repository
	Payments      Payments
	Confirmations paymentwebhook.Service
	Storage       health.Pinger
	Tokens        middlewarectx.TokenParser
	Metrics       http.Handler

	WebhookSecret string
	RateLimit     float64
	RateBurst     int
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Get("/health", health.New(logger, d.Storage).ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// Вызовы бота, подписанные сервисным токеном
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Tokens, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, d.RateLimit, d.RateBurst))
			r.Post("/process_message", process.New(logger, d.Messages).ServeHTTP)
			r.Get("/get_credits", credits.New(logger, d.Accounts).ServeHTTP)
			r.Post("/start_trial", trial.New(logger, d.Accounts).ServeHTTP)
			r.Get("/history", history.New(logger, d.History).ServeHTTP)
			r.Post("/payments", paymentcreate.New(logger, d.Payments).ServeHTTP)
			r.Get("/payments", paymentlist.New(logger, d.Payments).ServeHTTP)
		})

		// Webhook платёжного провайдера, проверяется подписью
		r.Post("/payments/webhook", paymentwebhook.New(logger, d.Confirmations, d.WebhookSecret).ServeHTTP)
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
