// Package fulfillment обрабатывает входящее сообщение пользователя:
// проверяет доступ, списывает бесплатное сообщение, вызывает AI-провайдера
// и либо фиксирует обмен в истории, либо возвращает списанное.
package fulfillment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pomogator/relay/internal/aiprovider"
	"github.com/pomogator/relay/internal/lib/metrics"
	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/models"
	"github.com/pomogator/relay/internal/services/access"
)

// Ledger операции леджера, нужные для обработки сообщения.
type Ledger interface {
	GetOrCreate(ctx context.Context, telegramID int64) (*models.Account, error)
	TouchActivity(ctx context.Context, telegramID int64)
	TryDebitTrial(ctx context.Context, telegramID int64) (bool, int, error)
	RefundTrial(ctx context.Context, telegramID int64) error
}

// HistoryRepository сохраняет успешные обмены с AI.
type HistoryRepository interface {
	AppendHistory(ctx context.Context, rec *models.MessageHistory) error
}

// Options таймауты обработки.
type Options struct {
	// RequestTimeout ограничивает вызов AI-провайдера.
	RequestTimeout time.Duration
	// RefundTimeout ограничивает запись в хранилище после вызова AI
	// (возврат или история), которая не зависит от отмены запроса.
	RefundTimeout time.Duration
}

// Request входящее сообщение.
type Request struct {
	TelegramID int64
	Text       string
}

// Result ответ AI и остаток бесплатных сообщений после списания (0 для VIP).
type Result struct {
	Reply     string
	Remaining int
	IsVIP     bool
}

// Service оркестратор обработки сообщений.
type Service struct {
	ledger   Ledger
	history  HistoryRepository
	provider aiprovider.Provider
	metrics  *metrics.Metrics
	log      *slog.Logger
	opts     Options
}

// New создаёт оркестратор. m может быть nil.
func New(ledger Ledger, history HistoryRepository, provider aiprovider.Provider, m *metrics.Metrics, log *slog.Logger, opts Options) *Service {
	return &Service{
		ledger:   ledger,
		history:  history,
		provider: provider,
		metrics:  m,
		log:      log,
		opts:     opts,
	}
}

// Process обрабатывает одно сообщение.
//
// Ошибки: models.ErrNotEnoughCredits, если доступа нет; models.ErrAIService,
// если провайдер не ответил (списанное сообщение к этому моменту возвращено);
// прочие ошибки хранилища оборачиваются как есть.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	const op = "fulfillment.Process"
	log := s.log.With(slog.String("op", op), sl.TelegramID(req.TelegramID))

	acc, err := s.ledger.GetOrCreate(ctx, req.TelegramID)
	if err != nil {
		s.metrics.Outcome(metrics.OutcomeError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.ledger.TouchActivity(ctx, req.TelegramID)

	verdict := access.Evaluate(*acc)
	charged := false
	remaining := 0
	switch verdict {
	case access.Deny:
		s.metrics.Outcome(metrics.OutcomeDenied)
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotEnoughCredits)
	case access.AllowTrial:
		granted, left, err := s.ledger.TryDebitTrial(ctx, req.TelegramID)
		if err != nil {
			s.metrics.Outcome(metrics.OutcomeError)
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !granted {
			// баланс ушёл в ноль между чтением и списанием
			s.metrics.Outcome(metrics.OutcomeDenied)
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotEnoughCredits)
		}
		charged = true
		remaining = left
	}
	log.Debug("access granted", slog.String("verdict", verdict.String()), slog.Int("remaining", remaining))

	reply, err := s.generate(ctx, req.Text)
	if err != nil {
		log.Warn("ai provider failed", slog.String("provider", s.provider.Name()), sl.Err(err))
		if charged {
			s.refund(ctx, log, req.TelegramID)
		}
		s.metrics.Outcome(metrics.OutcomeAIError)
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrAIService, err)
	}

	storeCtx, cancel := s.detached(ctx)
	defer cancel()
	rec := &models.MessageHistory{
		TelegramID: req.TelegramID,
		Provider:   s.provider.Name(),
		Model:      s.provider.Model(),
		UserText:   req.Text,
		AIText:     reply,
	}
	if err := s.history.AppendHistory(storeCtx, rec); err != nil {
		log.Error("failed to save message history", sl.Err(err))
	}

	s.metrics.Outcome(metrics.OutcomeOK)
	return &Result{Reply: reply, Remaining: remaining, IsVIP: verdict == access.AllowFree}, nil
}

// generate единственная точка, где учитываются отмена и дедлайн запроса.
func (s *Service) generate(ctx context.Context, text string) (string, error) {
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}
	start := time.Now()
	reply, err := s.provider.Generate(ctx, text)
	s.metrics.ObserveAI(s.provider.Name(), time.Since(start))
	return reply, err
}

// refund возвращает списанное сообщение даже если запрос уже отменён.
// Ошибка возврата только логируется: пользователь видит ошибку AI.
func (s *Service) refund(ctx context.Context, log *slog.Logger, telegramID int64) {
	refundCtx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.ledger.RefundTrial(refundCtx, telegramID); err != nil {
		s.metrics.Outcome(metrics.OutcomeRefundFail)
		log.Error("failed to refund trial message", sl.Err(err))
	}
}

func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.opts.RefundTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.RefundTimeout)
	}
	return ctx, func() {}
}
