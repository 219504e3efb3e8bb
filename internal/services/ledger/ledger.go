// Package ledger единственный владелец баланса бесплатных сообщений и флага VIP.
// Все изменения выполняются одним атомарным запросом к хранилищу, без
// чтения-изменения-записи в памяти процесса.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pomogator/relay/internal/cache"
	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/models"
)

// Repository операции хранилища над аккаунтами.
type Repository interface {
	GetAccount(ctx context.Context, telegramID int64) (*models.Account, error)
	CreateAccount(ctx context.Context, telegramID int64, trialBalance int) (*models.Account, error)
	DebitTrial(ctx context.Context, telegramID int64) (bool, int, error)
	CreditTrial(ctx context.Context, telegramID int64) (int, error)
	SetVIP(ctx context.Context, telegramID int64, vip bool) error
	TouchActivity(ctx context.Context, telegramID int64) error
	ClearExpiredVIP(ctx context.Context, telegramID int64, today time.Time) (bool, error)
}

// Cache кэш представлений, который нужно сбрасывать после изменений.
type Cache interface {
	Invalidate(ctx context.Context, key string) error
}

// Service реализует операции леджера.
type Service struct {
	repo         Repository
	cache        Cache
	log          *slog.Logger
	defaultTrial int
}

// New создаёт леджер. cache может быть nil.
func New(repo Repository, cache Cache, log *slog.Logger, defaultTrial int) *Service {
	return &Service{
		repo:         repo,
		cache:        cache,
		log:          log,
		defaultTrial: defaultTrial,
	}
}

// Ensure возвращает аккаунт, создавая его с бесплатным лимитом по умолчанию.
// created=true только у того вызова, который действительно создал запись.
// При гонке проигравший перечитывает аккаунт, созданный победителем.
func (s *Service) Ensure(ctx context.Context, telegramID int64) (*models.Account, bool, error) {
	const op = "ledger.Ensure"

	acc, err := s.repo.GetAccount(ctx, telegramID)
	if err == nil {
		return acc, false, nil
	}
	if !errors.Is(err, models.ErrAccountNotFound) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	acc, err = s.repo.CreateAccount(ctx, telegramID, s.defaultTrial)
	if err == nil {
		s.log.Info("account created", sl.TelegramID(telegramID), slog.Int("trial_balance", acc.TrialBalance))
		return acc, true, nil
	}
	if !errors.Is(err, models.ErrAccountExists) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	acc, err = s.repo.GetAccount(ctx, telegramID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return acc, false, nil
}

// GetOrCreate возвращает аккаунт, создавая его при первом обращении.
func (s *Service) GetOrCreate(ctx context.Context, telegramID int64) (*models.Account, error) {
	acc, _, err := s.Ensure(ctx, telegramID)
	return acc, err
}

// Get возвращает существующий аккаунт.
func (s *Service) Get(ctx context.Context, telegramID int64) (*models.Account, error) {
	const op = "ledger.Get"
	acc, err := s.repo.GetAccount(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// TryDebitTrial списывает одно бесплатное сообщение.
// granted=false без ошибки означает нулевой баланс.
func (s *Service) TryDebitTrial(ctx context.Context, telegramID int64) (bool, int, error) {
	const op = "ledger.TryDebitTrial"

	granted, remaining, err := s.repo.DebitTrial(ctx, telegramID)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	if granted {
		s.invalidate(ctx, telegramID)
	}
	return granted, remaining, nil
}

// RefundTrial возвращает одно сообщение. Вызывается только как компенсация
// ранее успешного списания.
func (s *Service) RefundTrial(ctx context.Context, telegramID int64) error {
	const op = "ledger.RefundTrial"

	balance, err := s.repo.CreditTrial(ctx, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Debug("trial refunded", sl.TelegramID(telegramID), slog.Int("trial_balance", balance))
	s.invalidate(ctx, telegramID)
	return nil
}

// SetVIP выставляет флаг VIP. Идемпотентна.
func (s *Service) SetVIP(ctx context.Context, telegramID int64, vip bool) error {
	const op = "ledger.SetVIP"

	if err := s.repo.SetVIP(ctx, telegramID, vip); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, telegramID)
	return nil
}

// ClearExpiredVIP снимает VIP, если у аккаунта нет действующей PREMIUM-подписки на today.
func (s *Service) ClearExpiredVIP(ctx context.Context, telegramID int64, today time.Time) (bool, error) {
	const op = "ledger.ClearExpiredVIP"

	cleared, err := s.repo.ClearExpiredVIP(ctx, telegramID, today)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if cleared {
		s.invalidate(ctx, telegramID)
	}
	return cleared, nil
}

// TouchActivity обновляет время последней активности. Ошибки только логируются.
func (s *Service) TouchActivity(ctx context.Context, telegramID int64) {
	if err := s.repo.TouchActivity(ctx, telegramID); err != nil {
		s.log.Warn("failed to touch activity", sl.TelegramID(telegramID), sl.Err(err))
	}
}

// Invalidate сбрасывает кэшированный профиль аккаунта.
func (s *Service) Invalidate(ctx context.Context, telegramID int64) {
	s.invalidate(ctx, telegramID)
}

func (s *Service) invalidate(ctx context.Context, telegramID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.ProfileKey(telegramID)); err != nil {
		s.log.Warn("failed to invalidate profile cache", sl.TelegramID(telegramID), sl.Err(err))
	}
}
