// Package notifier содержит процесс, который читает очереди уведомлений
// и доставляет их пользователям в Telegram.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/pomogator/relay/internal/config"
	"github.com/pomogator/relay/internal/lib/rabbitmq"
	"github.com/pomogator/relay/internal/lib/sl"
	notifierservice "github.com/pomogator/relay/internal/services/notifier"
	"github.com/pomogator/relay/internal/telegram"
)

// App представляет приложение нотификатора.
type App struct {
	conn            *amqp.Connection
	ch              *amqp.Channel
	notifierService *notifierservice.Service
	logger          *slog.Logger
}

// New подключается к RabbitMQ и Telegram.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("rabbitmq url is not set")
	}
	api, err := telegram.NewAPI(cfg.Telegram)
	if err != nil {
		return nil, err
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.NotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	return &App{
		conn:            conn,
		ch:              ch,
		notifierService: notifierservice.New(telegram.NewSender(api), logger),
		logger:          logger,
	}, nil
}

// Run читает все очереди уведомлений до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	handlers := map[string]rabbitmq.Handler{
		rabbitmq.RoutingVIPExpired:   a.notifierService.VIPExpired,
		rabbitmq.RoutingVIPActivated: a.notifierService.VIPActivated,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))
	for _, q := range rabbitmq.NotificationQueues() {
		handler := handlers[q.RoutingKey]
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("consuming queue", slog.String("queue", q.QueueName))
			if err := rabbitmq.Consume(ctx, a.ch, q.QueueName, a.logger, handler); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errCh)

	a.logger.Info("notifier service shutting down gracefully")
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	return <-errCh
}
