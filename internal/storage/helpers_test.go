package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pomogator/relay/internal/migrations"
	"github.com/pomogator/relay/internal/models"
)

// setupTestDatabase поднимает PostgreSQL в контейнере и накатывает миграции.
func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Пробуем подключиться несколько раз с ретраями
	var storage *Storage
	for range 10 {
		storage, err = New(connStr)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "Failed to create storage after retries")

	root, err := filepath.Abs("../..")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, filepath.Join(root, "migrations")))
	require.NoError(t, CheckDatabaseReady(storage))

	t.Cleanup(func() {
		_ = storage.Close()
		_ = pgContainer.Terminate(ctx)
	})
	return storage
}

// TestDataFactory содержит методы для создания тестовых данных
type TestDataFactory struct {
	storage *Storage
}

// NewTestDataFactory создает новую фабрику тестовых данных
func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateAccount создает аккаунт с заданным балансом и флагом VIP
func (f *TestDataFactory) CreateAccount(t *testing.T, telegramID int64, balance int, vip bool) {
	t.Helper()
	_, err := f.storage.DB.Exec(`INSERT INTO accounts (telegram_id, trial_balance, is_vip)
		VALUES ($1, $2, $3)`, telegramID, balance, vip)
	require.NoError(t, err)
}

// CreateSubscription создает подписку с заданными датами
func (f *TestDataFactory) CreateSubscription(t *testing.T, telegramID int64, plan models.Plan, start, end time.Time) {
	t.Helper()
	_, err := f.storage.DB.Exec(`INSERT INTO subscriptions (telegram_id, plan, start_date, end_date)
		VALUES ($1, $2, $3, $4)`, telegramID, plan, start, end)
	require.NoError(t, err)
}

// CreatePendingPayment создает ожидающий платёж
func (f *TestDataFactory) CreatePendingPayment(t *testing.T, telegramID int64, externalID string) {
	t.Helper()
	err := f.storage.CreatePayment(context.Background(), &models.Payment{
		TelegramID:        telegramID,
		Amount:            decimal.RequireFromString("299.00"),
		Currency:          models.CurrencyRUB,
		ExternalPaymentID: externalID,
	})
	require.NoError(t, err)
}

func trialBalance(t *testing.T, s *Storage, telegramID int64) int {
	t.Helper()
	var balance int
	require.NoError(t, s.DB.QueryRow(`SELECT trial_balance FROM accounts WHERE telegram_id = $1`, telegramID).Scan(&balance))
	return balance
}

func isVIP(t *testing.T, s *Storage, telegramID int64) bool {
	t.Helper()
	var vip bool
	require.NoError(t, s.DB.QueryRow(`SELECT is_vip FROM accounts WHERE telegram_id = $1`, telegramID).Scan(&vip))
	return vip
}
