package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pomogator/relay/internal/config"
	"github.com/pomogator/relay/internal/migrations"
	"github.com/pomogator/relay/internal/models"
	"github.com/pomogator/relay/internal/storage/memory"
)

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Store полный набор операций хранилища, общий для PostgreSQL и памяти.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	GetAccount(ctx context.Context, telegramID int64) (*models.Account, error)
	CreateAccount(ctx context.Context, telegramID int64, trialBalance int) (*models.Account, error)
	DebitTrial(ctx context.Context, telegramID int64) (bool, int, error)
	CreditTrial(ctx context.Context, telegramID int64) (int, error)
	SetVIP(ctx context.Context, telegramID int64, vip bool) error
	TouchActivity(ctx context.Context, telegramID int64) error
	ClearExpiredVIP(ctx context.Context, telegramID int64, today time.Time) (bool, error)

	AppendHistory(ctx context.Context, rec *models.MessageHistory) error
	ListHistory(ctx context.Context, telegramID int64, limit int) ([]*models.MessageHistory, error)

	FindActiveSubscription(ctx context.Context, telegramID int64, plan models.Plan, today time.Time) (*models.Subscription, error)
	ExtendPremium(ctx context.Context, telegramID int64, today time.Time, days int) (*models.Subscription, error)
	ListExpiredVIP(ctx context.Context, today time.Time) ([]int64, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	ListPayments(ctx context.Context, telegramID int64) ([]*models.Payment, error)
	ConfirmPayment(ctx context.Context, externalPaymentID string, succeeded bool, today time.Time, days int) (*models.PaymentConfirmation, error)
}

var (
	_ Store = (*Storage)(nil)
	_ Store = (*memory.Storage)(nil)
)

// Сколько раз и с какой паузой ждать, пока другой процесс накатит миграции.
var (
	readyRetries = 10
	readyDelay   = 3 * time.Second
)

// Open открывает хранилище по настройкам. Для PostgreSQL при migrate=true
// накатывает миграции, иначе ждёт, пока схема появится.
func Open(ctx context.Context, cfg config.Storage, migrate bool) (Store, error) {
	const op = "storage.Open"

	switch cfg.Driver {
	case DriverMemory:
		return memory.New(), nil
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", op, cfg.Driver)
	}

	db, err := New(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if migrate {
		err = migrations.Run(db.DB, cfg.MigrationsPath)
	} else {
		err = waitForDB(ctx, db)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return db, nil
}

func waitForDB(ctx context.Context, db *Storage) error {
	var err error
	for range readyRetries {
		if err = CheckDatabaseReady(db); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyDelay):
		}
	}
	return fmt.Errorf("database not ready after %d retries: %w", readyRetries, err)
}
