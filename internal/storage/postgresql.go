// Package storage реализует хранилище relay на основе PostgreSQL:
// аккаунты с балансом бесплатных сообщений, подписки, историю
// обращений к AI и платежи. Все изменения баланса и VIP-статуса
// выполняются одним условным запросом или в одной транзакции.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pomogator/relay/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL и проверяет его.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// CheckDatabaseReady проверяет, что миграции применены.
func CheckDatabaseReady(storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'accounts'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table accounts missing or query error: %w", err)
	}
	return nil
}

// Ping проверяет доступность базы.
func (s *Storage) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ===== ACCOUNT METHODS =====

const accountColumns = `id, telegram_id, trial_balance, is_vip, last_active, created_at, updated_at`

func scanAccount(row rowScanner) (*models.Account, error) {
	var acc models.Account
	if err := row.Scan(&acc.ID, &acc.TelegramID, &acc.TrialBalance, &acc.IsVIP,
		&acc.LastActive, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetAccount возвращает аккаунт по telegram_id.
func (s *Storage) GetAccount(ctx context.Context, telegramID int64) (*models.Account, error) {
	const op = "storage.GetAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE telegram_id = $1`
	acc, err := scanAccount(s.DB.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// CreateAccount создаёт аккаунт с заданным количеством бесплатных сообщений.
// Если аккаунт уже создан конкурентным запросом, возвращает models.ErrAccountExists.
func (s *Storage) CreateAccount(ctx context.Context, telegramID int64, trialBalance int) (*models.Account, error) {
	const op = "storage.CreateAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO accounts (telegram_id, trial_balance)
			  VALUES ($1, $2)
			  RETURNING ` + accountColumns
	acc, err := scanAccount(s.DB.QueryRowContext(ctx, query, telegramID, trialBalance))
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, fmt.Errorf("%s: %w", op, models.ErrAccountExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

func (s *Storage) accountExists(ctx context.Context, telegramID int64) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE telegram_id = $1)`, telegramID).Scan(&exists)
	return exists, err
}

// DebitTrial списывает одно бесплатное сообщение, если баланс положителен.
// Проверка и списание выполняются одним запросом, поэтому конкурентные
// списания не уводят баланс ниже нуля.
func (s *Storage) DebitTrial(ctx context.Context, telegramID int64) (bool, int, error) {
	const op = "storage.DebitTrial"
	select {
	case <-ctx.Done():
		return false, 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE accounts
			  SET trial_balance = trial_balance - 1, updated_at = NOW()
			  WHERE telegram_id = $1 AND trial_balance > 0
			  RETURNING trial_balance`
	var remaining int
	err := s.DB.QueryRowContext(ctx, query, telegramID).Scan(&remaining)
	if err == nil {
		return true, remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := s.accountExists(ctx, telegramID)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return false, 0, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	return false, 0, nil
}

// CreditTrial безусловно возвращает одно бесплатное сообщение и отдаёт новый баланс.
func (s *Storage) CreditTrial(ctx context.Context, telegramID int64) (int, error) {
	const op = "storage.CreditTrial"

	query := `UPDATE accounts
			  SET trial_balance = trial_balance + 1, updated_at = NOW()
			  WHERE telegram_id = $1
			  RETURNING trial_balance`
	var balance int
	if err := s.DB.QueryRowContext(ctx, query, telegramID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return balance, nil
}

// SetVIP выставляет флаг VIP. Повторный вызов с тем же значением ничего не меняет.
func (s *Storage) SetVIP(ctx context.Context, telegramID int64, vip bool) error {
	const op = "storage.SetVIP"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result, err := s.DB.ExecContext(ctx,
		`UPDATE accounts SET is_vip = $2, updated_at = NOW() WHERE telegram_id = $1`,
		telegramID, vip)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	return nil
}

// TouchActivity обновляет время последней активности.
func (s *Storage) TouchActivity(ctx context.Context, telegramID int64) error {
	const op = "storage.TouchActivity"

	_, err := s.DB.ExecContext(ctx,
		`UPDATE accounts SET last_active = NOW() WHERE telegram_id = $1`, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ===== HISTORY METHODS =====

// AppendHistory сохраняет запись обмена с AI и заполняет её ID и CreatedAt.
func (s *Storage) AppendHistory(ctx context.Context, rec *models.MessageHistory) error {
	const op = "storage.AppendHistory"

	query := `INSERT INTO message_history (telegram_id, provider, model, user_text, ai_text)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id, created_at`
	err := s.DB.QueryRowContext(ctx, query,
		rec.TelegramID, rec.Provider, rec.Model, rec.UserText, rec.AIText).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListHistory возвращает последние limit записей, новые первыми.
func (s *Storage) ListHistory(ctx context.Context, telegramID int64, limit int) ([]*models.MessageHistory, error) {
	const op = "storage.ListHistory"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, telegram_id, provider, model, user_text, ai_text, created_at
			  FROM message_history
			  WHERE telegram_id = $1
			  ORDER BY created_at DESC, id DESC
			  LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, query, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var res []*models.MessageHistory
	for rows.Next() {
		var rec models.MessageHistory
		if err := rows.Scan(&rec.ID, &rec.TelegramID, &rec.Provider, &rec.Model,
			&rec.UserText, &rec.AIText, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res = append(res, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// ===== SUBSCRIPTION METHODS =====

const subscriptionColumns = `id, telegram_id, plan, start_date, end_date, created_at, updated_at`

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	if err := row.Scan(&sub.ID, &sub.TelegramID, &sub.Plan, &sub.StartDate, &sub.EndDate,
		&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func findActive(ctx context.Context, q querier, telegramID int64, plan models.Plan, today time.Time) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE telegram_id = $1 AND plan = $2 AND end_date >= $3
			  ORDER BY end_date DESC
			  LIMIT 1`
	sub, err := scanSubscription(q.QueryRowContext(ctx, query, telegramID, plan, models.Day(today)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// FindActiveSubscription возвращает действующую на дату today подписку плана plan
// с самой поздней датой окончания или nil, если такой нет.
func (s *Storage) FindActiveSubscription(ctx context.Context, telegramID int64, plan models.Plan, today time.Time) (*models.Subscription, error) {
	const op = "storage.FindActiveSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	sub, err := findActive(ctx, s.DB, telegramID, plan, today)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// extendPremium продлевает PREMIUM внутри транзакции tx и выставляет VIP.
// Строка аккаунта блокируется, поэтому конкурентные продления выполняются по очереди.
func extendPremium(ctx context.Context, tx *sql.Tx, telegramID int64, today time.Time, days int) (*models.Subscription, error) {
	var locked int64
	err := tx.QueryRowContext(ctx,
		`SELECT telegram_id FROM accounts WHERE telegram_id = $1 FOR UPDATE`, telegramID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, err
	}

	active, err := findActive(ctx, tx, telegramID, models.PlanPremium, today)
	if err != nil {
		return nil, err
	}

	var sub *models.Subscription
	if active != nil {
		end := models.ExtendEnd(&active.EndDate, today, days)
		sub, err = scanSubscription(tx.QueryRowContext(ctx,
			`UPDATE subscriptions SET end_date = $2, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+subscriptionColumns, active.ID, end))
	} else {
		start := models.Day(today)
		end := models.ExtendEnd(nil, today, days)
		sub, err = scanSubscription(tx.QueryRowContext(ctx,
			`INSERT INTO subscriptions (telegram_id, plan, start_date, end_date)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+subscriptionColumns, telegramID, models.PlanPremium, start, end))
	}
	if err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE accounts SET is_vip = TRUE, updated_at = NOW() WHERE telegram_id = $1`, telegramID); err != nil {
		return nil, err
	}
	return sub, nil
}

// ExtendPremium создаёт или продлевает PREMIUM-подписку на days дней
// (end_date = max(текущий end_date, today) + days) и выставляет VIP в одной транзакции.
func (s *Storage) ExtendPremium(ctx context.Context, telegramID int64, today time.Time, days int) (*models.Subscription, error) {
	const op = "storage.ExtendPremium"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	sub, err := extendPremium(ctx, tx, telegramID, today, days)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListExpiredVIP возвращает telegram_id VIP-аккаунтов без действующей на today PREMIUM-подписки.
func (s *Storage) ListExpiredVIP(ctx context.Context, today time.Time) ([]int64, error) {
	const op = "storage.ListExpiredVIP"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT a.telegram_id FROM accounts a
			  WHERE a.is_vip AND NOT EXISTS (
				  SELECT 1 FROM subscriptions s
				  WHERE s.telegram_id = a.telegram_id AND s.plan = $1 AND s.end_date >= $2
			  )
			  ORDER BY a.telegram_id`
	rows, err := s.DB.QueryContext(ctx, query, models.PlanPremium, models.Day(today))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

// ClearExpiredVIP снимает VIP, только если у аккаунта всё ещё нет действующей
// PREMIUM-подписки. Возвращает true, если флаг был снят этим вызовом.
// Строка аккаунта блокируется так же, как в extendPremium: условный UPDATE
// выполняется после блокировки и видит подписку, закоммиченную продлением.
func (s *Storage) ClearExpiredVIP(ctx context.Context, telegramID int64, today time.Time) (bool, error) {
	const op = "storage.ClearExpiredVIP"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked int64
	err = tx.QueryRowContext(ctx,
		`SELECT telegram_id FROM accounts WHERE telegram_id = $1 FOR UPDATE`, telegramID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE accounts a SET is_vip = FALSE, updated_at = NOW()
			  WHERE a.telegram_id = $1 AND a.is_vip AND NOT EXISTS (
				  SELECT 1 FROM subscriptions s
				  WHERE s.telegram_id = a.telegram_id AND s.plan = $2 AND s.end_date >= $3
			  )`
	result, err := tx.ExecContext(ctx, query, telegramID, models.PlanPremium, models.Day(today))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// ===== PAYMENT METHODS =====

const paymentColumns = `id, telegram_id, amount, currency, external_payment_id, success, payment_date, created_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p       models.Payment
		success sql.NullBool
	)
	if err := row.Scan(&p.ID, &p.TelegramID, &p.Amount, &p.Currency, &p.ExternalPaymentID,
		&success, &p.PaymentDate, &p.CreatedAt); err != nil {
		return nil, err
	}
	if success.Valid {
		v := success.Bool
		p.Success = &v
	}
	return &p, nil
}

// CreatePayment сохраняет ожидающий подтверждения платёж и заполняет его ID и даты.
func (s *Storage) CreatePayment(ctx context.Context, p *models.Payment) error {
	const op = "storage.CreatePayment"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (telegram_id, amount, currency, external_payment_id)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id, payment_date, created_at`
	err := s.DB.QueryRowContext(ctx, query, p.TelegramID, p.Amount, p.Currency, p.ExternalPaymentID).
		Scan(&p.ID, &p.PaymentDate, &p.CreatedAt)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, models.ErrPaymentExists)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	p.Success = nil
	return nil
}

// ListPayments возвращает платежи аккаунта, новые первыми.
func (s *Storage) ListPayments(ctx context.Context, telegramID int64) ([]*models.Payment, error) {
	const op = "storage.ListPayments"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + ` FROM payments
			  WHERE telegram_id = $1
			  ORDER BY created_at DESC, id DESC`
	rows, err := s.DB.QueryContext(ctx, query, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var res []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// ConfirmPayment переводит ожидающий платёж в итоговое состояние ровно один раз.
// При успехе в той же транзакции продлевает PREMIUM на days дней и выставляет VIP.
func (s *Storage) ConfirmPayment(ctx context.Context, externalPaymentID string, succeeded bool, today time.Time, days int) (*models.PaymentConfirmation, error) {
	const op = "storage.ConfirmPayment"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_payment_id = $1 FOR UPDATE`,
		externalPaymentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !p.Pending() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrPaymentAlreadyResolved)
	}

	p, err = scanPayment(tx.QueryRowContext(ctx,
		`UPDATE payments SET success = $2, payment_date = NOW()
		 WHERE id = $1
		 RETURNING `+paymentColumns, p.ID, succeeded))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &models.PaymentConfirmation{Payment: p}
	if succeeded {
		res.Subscription, err = extendPremium(ctx, tx, p.TelegramID, today, days)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}
