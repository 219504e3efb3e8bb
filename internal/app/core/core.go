// Package core собирает общие для процессов зависимости: хранилище,
// необязательные Redis и RabbitMQ, леджер и сервис подписок.
package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/pomogator/relay/internal/cache"
	"github.com/pomogator/relay/internal/config"
	"github.com/pomogator/relay/internal/lib/rabbitmq"
	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/notifications"
	"github.com/pomogator/relay/internal/services/ledger"
	"github.com/pomogator/relay/internal/services/subscription"
	"github.com/pomogator/relay/internal/storage"
)

// Core зависимости, общие для backend и планировщика.
type Core struct {
	Store         storage.Store
	Cache         *cache.Cache
	Publisher     *notifications.Publisher
	Ledger        *ledger.Service
	Subscriptions *subscription.Service

	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// New открывает хранилище и подключается к Redis и RabbitMQ, если они
// заданы в конфиге. migrate=true накатывает миграции PostgreSQL.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (*Core, error) {
	const op = "core.New"

	store, err := storage.Open(ctx, cfg.Storage, migrate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c := &Core{Store: store, logger: logger}

	if cfg.Redis.Addr != "" {
		c.Cache, err = cache.InitServer(ctx, cfg.Redis)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	} else {
		logger.Warn("redis is not configured, profile cache and sweep lock are disabled")
	}

	if cfg.RabbitMQ.URL != "" {
		c.conn, err = rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.ch, err = rabbitmq.SetupChannel(c.conn, rabbitmq.NotificationQueues())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.Publisher = notifications.NewPublisher(c.ch)
	} else {
		logger.Warn("rabbitmq is not configured, notifications are disabled")
	}

	// Интерфейсные переменные остаются nil, если зависимость не настроена.
	var (
		ledgerCache ledger.Cache
		subCache    subscription.Cache
		events      subscription.Events
	)
	if c.Cache != nil {
		ledgerCache, subCache = c.Cache, c.Cache
	}
	if c.Publisher != nil {
		events = c.Publisher
	}

	c.Ledger = ledger.New(store, ledgerCache, logger, cfg.Ledger.DefaultTrialMessages)
	c.Subscriptions = subscription.New(store, c.Ledger, subCache, events, logger, subscription.Options{
		PremiumPeriodDays: cfg.Subscription.PremiumPeriodDays,
		ProfileTTL:        cfg.Redis.ProfileTTL,
	})
	return c, nil
}

// Close освобождает все открытые ресурсы.
func (c *Core) Close() {
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.logger.Error("failed to close redis", sl.Err(err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.logger.Error("failed to close storage", sl.Err(err))
		}
	}
}
