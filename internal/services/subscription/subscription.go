// Package subscription управляет жизненным циклом доступа: пробный лимит,
// PREMIUM-подписки, подтверждение оплаты и снятие VIP по истечении срока.
package subscription

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

// Repository операции хранилища над подписками и платежами.
type Repository interface {
	FindActiveSubscription(ctx context.Context, telegramID int64, plan models.Plan, today time.Time) (*models.Subscription, error)
	ExtendPremium(ctx context.Context, telegramID int64, today time.Time, days int) (*models.Subscription, error)
	ListExpiredVIP(ctx context.Context, today time.Time) ([]int64, error)
	ConfirmPayment(ctx context.Context, externalPaymentID string, succeeded bool, today time.Time, days int) (*models.PaymentConfirmation, error)
}

// Ledger операции леджера над аккаунтом.
type Ledger interface {
	Ensure(ctx context.Context, telegramID int64) (*models.Account, bool, error)
	Get(ctx context.Context, telegramID int64) (*models.Account, error)
	ClearExpiredVIP(ctx context.Context, telegramID int64, today time.Time) (bool, error)
	Invalidate(ctx context.Context, telegramID int64)
}

// Cache кэш профиля пользователя.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Events получает уведомление о выдаче VIP.
type Events interface {
	VIPActivated(ctx context.Context, telegramID int64, until time.Time) error
}

// Options параметры сервиса.
type Options struct {
	PremiumPeriodDays int
	ProfileTTL        time.Duration
}

// Service реализует операции жизненного цикла подписок.
type Service struct {
	repo   Repository
	ledger Ledger
	cache  Cache
	events Events
	log    *slog.Logger
	opts   Options
	now    func() time.Time
}

// New создаёт сервис. cache и events могут быть nil.
func New(repo Repository, ledger Ledger, cache Cache, events Events, log *slog.Logger, opts Options) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		cache:  cache,
		events: events,
		log:    log,
		opts:   opts,
		now:    time.Now,
	}
}

// ActivateTrial выдаёт пробный лимит сообщений. Пробный доступ - это только
// счётчик сообщений, он начисляется при создании аккаунта. Для существующего
// аккаунта возвращает его вместе с models.ErrTrialAlreadyActivated.
func (s *Service) ActivateTrial(ctx context.Context, telegramID int64) (*models.Account, error) {
	const op = "subscription.ActivateTrial"

	acc, created, err := s.ledger.Ensure(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !created {
		return acc, fmt.Errorf("%s: %w", op, models.ErrTrialAlreadyActivated)
	}
	s.log.Info("trial activated", sl.TelegramID(telegramID), slog.Int("trial_balance", acc.TrialBalance))
	return acc, nil
}

// ActivatePremium создаёт или продлевает PREMIUM на periodDays дней
// (end_date = max(текущий end_date, сегодня) + periodDays) и выдаёт VIP.
func (s *Service) ActivatePremium(ctx context.Context, telegramID int64, periodDays int) (*models.Subscription, error) {
	const op = "subscription.ActivatePremium"
	if periodDays <= 0 {
		return nil, fmt.Errorf("%s: period must be positive, got %d", op, periodDays)
	}

	sub, err := s.repo.ExtendPremium(ctx, telegramID, s.now(), periodDays)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.ledger.Invalidate(ctx, telegramID)
	s.log.Info("premium activated", sl.TelegramID(telegramID), slog.Time("end_date", sub.EndDate))
	s.notifyActivated(ctx, telegramID, sub.EndDate)
	return sub, nil
}

// SweepExpiredAccounts снимает VIP у аккаунтов без действующей PREMIUM-подписки
// и возвращает их идентификаторы. Повторный запуск ничего не меняет.
// Ошибка по одному аккаунту не прерывает проход, ошибки возвращаются вместе.
func (s *Service) SweepExpiredAccounts(ctx context.Context) ([]int64, error) {
	const op = "subscription.SweepExpired"
	today := models.Day(s.now())

	ids, err := s.repo.ListExpiredVIP(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		expired []int64
		errs    []error
	)
	for _, id := range ids {
		cleared, err := s.ledger.ClearExpiredVIP(ctx, id, today)
		if err != nil {
			s.log.Error("failed to clear vip", sl.TelegramID(id), sl.Err(err))
			errs = append(errs, fmt.Errorf("account %d: %w", id, err))
			continue
		}
		if cleared {
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		s.log.Info("vip expired", slog.Int("count", len(expired)))
	}
	if err := errors.Join(errs...); err != nil {
		return expired, fmt.Errorf("%s: %w", op, err)
	}
	return expired, nil
}

// SweepExpired то же, что SweepExpiredAccounts, но возвращает только количество.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.SweepExpiredAccounts(ctx)
	return len(ids), err
}

// ConfirmPayment применяет результат оплаты. Платёж разрешается ровно один раз;
// успешная оплата продлевает PREMIUM и выдаёт VIP в той же транзакции.
func (s *Service) ConfirmPayment(ctx context.Context, externalPaymentID string, succeeded bool) (*models.PaymentConfirmation, error) {
	const op = "subscription.ConfirmPayment"

	res, err := s.repo.ConfirmPayment(ctx, externalPaymentID, succeeded, s.now(), s.opts.PremiumPeriodDays)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	telegramID := res.Payment.TelegramID
	s.log.Info("payment resolved",
		sl.TelegramID(telegramID),
		slog.String("external_payment_id", externalPaymentID),
		slog.Bool("success", succeeded),
	)
	if res.Subscription != nil {
		s.ledger.Invalidate(ctx, telegramID)
		s.notifyActivated(ctx, telegramID, res.Subscription.EndDate)
	}
	return res, nil
}

// Status возвращает профиль пользователя: баланс, VIP и действующую подписку.
// Профиль кэшируется, леджер сбрасывает кэш при каждом изменении.
func (s *Service) Status(ctx context.Context, telegramID int64) (*models.AccountStatus, error) {
	const op = "subscription.Status"
	key := cache.ProfileKey(telegramID)

	if s.cache != nil {
		var cached models.AccountStatus
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("failed to read profile cache", sl.TelegramID(telegramID), sl.Err(err))
		} else if found {
			return &cached, nil
		}
	}

	acc, err := s.ledger.Get(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	active, err := s.repo.FindActiveSubscription(ctx, telegramID, models.PlanPremium, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st := models.NewAccountStatus(acc, active)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, st, s.opts.ProfileTTL); err != nil {
			s.log.Warn("failed to cache profile", sl.TelegramID(telegramID), sl.Err(err))
		}
	}
	return st, nil
}

func (s *Service) notifyActivated(ctx context.Context, telegramID int64, until time.Time) {
	if s.events == nil {
		return
	}
	if err := s.events.VIPActivated(ctx, telegramID, until); err != nil {
		s.log.Warn("failed to publish vip activation", sl.TelegramID(telegramID), sl.Err(err))
	}
}
