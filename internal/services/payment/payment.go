// Package payment создаёт счета на оплату PREMIUM и разбирает статусы
// от платёжного провайдера.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/models"
)

// Repository операции хранилища над платежами.
type Repository interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	ListPayments(ctx context.Context, telegramID int64) ([]*models.Payment, error)
}

// Accounts гарантирует существование аккаунта плательщика.
type Accounts interface {
	GetOrCreate(ctx context.Context, telegramID int64) (*models.Account, error)
}

// Service реализует операции с платежами.
type Service struct {
	repo     Repository
	accounts Accounts
	provider string
	log      *slog.Logger
}

// New создаёт сервис платежей. provider - префикс внешнего идентификатора платежа.
func New(repo Repository, accounts Accounts, provider string, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		provider: provider,
		log:      log,
	}
}

// CreateInvoice создаёт ожидающий платёж с идентификатором вида <provider>_<uuid>.
func (s *Service) CreateInvoice(ctx context.Context, telegramID int64, amount decimal.Decimal, currency models.Currency) (*models.Payment, error) {
	const op = "payment.CreateInvoice"

	if !amount.IsPositive() {
		return nil, fmt.Errorf("%s: amount must be positive", op)
	}
	if !currency.Valid() {
		return nil, fmt.Errorf("%s: unsupported currency %q", op, currency)
	}
	if _, err := s.accounts.GetOrCreate(ctx, telegramID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p := &models.Payment{
		TelegramID:        telegramID,
		Amount:            amount.Round(2),
		Currency:          currency,
		ExternalPaymentID: s.provider + "_" + uuid.NewString(),
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("invoice created",
		sl.TelegramID(telegramID),
		slog.String("external_payment_id", p.ExternalPaymentID),
		slog.String("amount", p.Amount.StringFixed(2)),
	)
	return p, nil
}

// List возвращает платежи пользователя.
func (s *Service) List(ctx context.Context, telegramID int64) ([]*models.Payment, error) {
	const op = "payment.List"
	res, err := s.repo.ListPayments(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Succeeded сообщает, означает ли статус провайдера успешную оплату.
// Любой другой статус считается отказом.
func Succeeded(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "successful", "succeeded":
		return true
	}
	return false
}
