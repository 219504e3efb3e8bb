// Package scheduler периодически снимает VIP у аккаунтов с истёкшей
// PREMIUM-подпиской и рассылает уведомления об этом.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pomogator/relay/internal/cache"
	"github.com/pomogator/relay/internal/lib/metrics"
	"github.com/pomogator/relay/internal/lib/sl"
)

// lockName имя распределённой блокировки прохода.
const lockName = "vip-sweep"

// Sweeper снимает VIP у истёкших аккаунтов.
type Sweeper interface {
	SweepExpiredAccounts(ctx context.Context) ([]int64, error)
}

// Locker выдаёт распределённую блокировку.
type Locker interface {
	Lock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

// Notifier отправляет событие истечения VIP.
type Notifier interface {
	VIPExpired(ctx context.Context, telegramID int64) error
}

// Service планировщик прохода по истёкшим подпискам.
type Service struct {
	sweeper  Sweeper
	locker   Locker
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	lockTTL  time.Duration
}

// New создаёт планировщик. locker, notifier и m могут быть nil.
func New(sweeper Sweeper, locker Locker, notifier Notifier, m *metrics.Metrics, log *slog.Logger, lockTTL time.Duration) *Service {
	return &Service{
		sweeper:  sweeper,
		locker:   locker,
		notifier: notifier,
		metrics:  m,
		log:      log,
		lockTTL:  lockTTL,
	}
}

// RunSweep выполняет один проход и возвращает число аккаунтов, потерявших VIP.
// Если блокировку держит другой экземпляр, проход пропускается.
func (s *Service) RunSweep(ctx context.Context) (int, error) {
	const op = "scheduler.RunSweep"

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, lockName, s.lockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			s.log.Debug("sweep is running elsewhere, skipping")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("failed to release sweep lock", sl.Err(err))
			}
		}()
	}

	s.log.Info("starting vip expiry sweep")
	ids, err := s.sweeper.SweepExpiredAccounts(ctx)
	s.metrics.Expired(len(ids))
	for _, id := range ids {
		if s.notifier == nil {
			break
		}
		if nerr := s.notifier.VIPExpired(ctx, id); nerr != nil {
			s.log.Error("failed to publish vip expiry", sl.TelegramID(id), sl.Err(nerr))
		}
	}
	if err != nil {
		return len(ids), fmt.Errorf("%s: %w", op, err)
	}
	if len(ids) == 0 {
		s.log.Info("no expired subscriptions found")
	} else {
		s.log.Info("sweep finished", slog.Int("expired", len(ids)))
	}
	return len(ids), nil
}

// Start выполняет проход сразу, затем по расписанию schedule (формат cron).
// Блокируется до отмены ctx и дожидается завершения текущего прохода.
func (s *Service) Start(ctx context.Context, schedule string) error {
	const op = "scheduler.Start"

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.RunSweep(ctx); err != nil {
			s.log.Error("sweep failed", sl.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("%s: invalid schedule %q: %w", op, schedule, err)
	}

	if _, err := s.RunSweep(ctx); err != nil {
		s.log.Error("initial sweep failed", sl.Err(err))
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}
