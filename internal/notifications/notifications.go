// Package notifications описывает сообщения об изменении доступа пользователя
// и публикует их в обменник уведомлений RabbitMQ.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/pomogator/relay/internal/lib/rabbitmq"
)

// VIPExpired у пользователя закончилась PREMIUM-подписка.
type VIPExpired struct {
	TelegramID int64 `json:"telegram_id"`
}

// VIPActivated пользователю выдан или продлён PREMIUM.
type VIPActivated struct {
	TelegramID int64     `json:"telegram_id"`
	Until      time.Time `json:"until"`
}

// Publisher публикует уведомления в обменник rabbitmq.NotificationsExchange.
type Publisher struct {
	ch rabbitmq.Channel
}

// NewPublisher создаёт Publisher поверх открытого канала.
func NewPublisher(ch rabbitmq.Channel) *Publisher {
	return &Publisher{ch: ch}
}

// VIPExpired публикует событие истечения VIP.
func (p *Publisher) VIPExpired(_ context.Context, telegramID int64) error {
	const op = "notifications.VIPExpired"
	if err := rabbitmq.PublishMessage(p.ch, rabbitmq.NotificationsExchange, rabbitmq.RoutingVIPExpired, VIPExpired{TelegramID: telegramID}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// VIPActivated публикует событие выдачи VIP до until включительно.
func (p *Publisher) VIPActivated(_ context.Context, telegramID int64, until time.Time) error {
	const op = "notifications.VIPActivated"
	msg := VIPActivated{TelegramID: telegramID, Until: until}
	if err := rabbitmq.PublishMessage(p.ch, rabbitmq.NotificationsExchange, rabbitmq.RoutingVIPActivated, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
