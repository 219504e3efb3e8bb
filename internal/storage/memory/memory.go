// Package memory реализует хранилище relay в памяти процесса.
// Семантика методов совпадает с PostgreSQL-хранилищем: каждая операция
// выполняется целиком под одной блокировкой, поэтому условное списание
// и подтверждение платежа остаются атомарными. Используется для
// локального запуска (storage.driver: memory) и в тестах сервисов.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pomogator/relay/internal/models"
)

// Storage хранит все сущности в картах под общим мьютексом.
type Storage struct {
	mu            sync.Mutex
	now           func() time.Time
	accounts      map[int64]*models.Account
	subscriptions []*models.Subscription
	history       []*models.MessageHistory
	payments      map[string]*models.Payment
	seq           int64
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		now:      time.Now,
		accounts: make(map[int64]*models.Account),
		payments: make(map[string]*models.Payment),
	}
}

func (s *Storage) nextID() int64 {
	s.seq++
	return s.seq
}

func ctxErr(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
		return nil
	}
}

// Ping всегда успешен.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// Close ничего не освобождает.
func (s *Storage) Close() error {
	return nil
}

// GetAccount возвращает копию аккаунта.
func (s *Storage) GetAccount(ctx context.Context, telegramID int64) (*models.Account, error) {
	const op = "memory.GetAccount"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[telegramID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	cp := *acc
	return &cp, nil
}

// CreateAccount создаёт аккаунт или возвращает models.ErrAccountExists.
func (s *Storage) CreateAccount(ctx context.Context, telegramID int64, trialBalance int) (*models.Account, error) {
	const op = "memory.CreateAccount"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}
	if trialBalance < 0 {
		return nil, fmt.Errorf("%s: negative trial balance %d", op, trialBalance)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[telegramID]; ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrAccountExists)
	}
	now := s.now()
	acc := &models.Account{
		ID:           s.nextID(),
		TelegramID:   telegramID,
		TrialBalance: trialBalance,
		LastActive:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.accounts[telegramID] = acc
	cp := *acc
	return &cp, nil
}

// DebitTrial списывает одно сообщение, если баланс положителен.
func (s *Storage) DebitTrial(ctx context.Context, telegramID int64) (bool, int, error) {
	const op = "memory.DebitTrial"
	if err := ctxErr(ctx, op); err != nil {
		return false, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[telegramID]
	if !ok {
		return false, 0, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	if acc.TrialBalance <= 0 {
		return false, 0, nil
	}
	acc.TrialBalance--
	acc.UpdatedAt = s.now()
	return true, acc.TrialBalance, nil
}

// CreditTrial возвращает одно сообщение на баланс.
func (s *Storage) CreditTrial(_ context.Context, telegramID int64) (int, error) {
	const op = "memory.CreditTrial"
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[telegramID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	acc.TrialBalance++
	acc.UpdatedAt = s.now()
	return acc.TrialBalance, nil
}

// SetVIP выставляет флаг VIP.
func (s *Storage) SetVIP(ctx context.Context, telegramID int64, vip bool) error {
	const op = "memory.SetVIP"
	if err := ctxErr(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[telegramID]
	if !ok {
		return fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	acc.IsVIP = vip
	acc.UpdatedAt = s.now()
	return nil
}

// TouchActivity обновляет время последней активности.
func (s *Storage) TouchActivity(_ context.Context, telegramID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc, ok := s.accounts[telegramID]; ok {
		acc.LastActive = s.now()
	}
	return nil
}

// AppendHistory добавляет запись истории.
func (s *Storage) AppendHistory(_ context.Context, rec *models.MessageHistory) error {
	const op = "memory.AppendHistory"
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[rec.TelegramID]; !ok {
		return fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	rec.ID = s.nextID()
	rec.CreatedAt = s.now()
	cp := *rec
	s.history = append(s.history, &cp)
	return nil
}

// ListHistory возвращает последние limit записей, новые первыми.
func (s *Storage) ListHistory(ctx context.Context, telegramID int64, limit int) ([]*models.MessageHistory, error) {
	const op = "memory.ListHistory"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*models.MessageHistory
	for i := len(s.history) - 1; i >= 0 && len(res) < limit; i-- {
		if s.history[i].TelegramID == telegramID {
			cp := *s.history[i]
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (s *Storage) findActive(telegramID int64, plan models.Plan, today time.Time) *models.Subscription {
	var best *models.Subscription
	for _, sub := range s.subscriptions {
		if sub.TelegramID != telegramID || sub.Plan != plan || !sub.ActiveOn(today) {
			continue
		}
		if best == nil || sub.EndDate.After(best.EndDate) {
			best = sub
		}
	}
	return best
}

// FindActiveSubscription возвращает действующую подписку или nil.
func (s *Storage) FindActiveSubscription(ctx context.Context, telegramID int64, plan models.Plan, today time.Time) (*models.Subscription, error) {
	const op = "memory.FindActiveSubscription"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.findActive(telegramID, plan, today)
	if sub == nil {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

// AddSubscription сохраняет подписку как есть. Нужен для подготовки данных
// и импорта, бизнес-логика продлевает подписки через ExtendPremium.
func (s *Storage) AddSubscription(_ context.Context, sub *models.Subscription) error {
	const op = "memory.AddSubscription"
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[sub.TelegramID]; !ok {
		return fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	now := s.now()
	sub.ID = s.nextID()
	sub.StartDate = models.Day(sub.StartDate)
	sub.EndDate = models.Day(sub.EndDate)
	sub.CreatedAt, sub.UpdatedAt = now, now
	cp := *sub
	s.subscriptions = append(s.subscriptions, &cp)
	return nil
}

func (s *Storage) extendPremium(telegramID int64, today time.Time, days int) (*models.Subscription, error) {
	acc, ok := s.accounts[telegramID]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	now := s.now()
	sub := s.findActive(telegramID, models.PlanPremium, today)
	if sub != nil {
		sub.EndDate = models.ExtendEnd(&sub.EndDate, today, days)
		sub.UpdatedAt = now
	} else {
		sub = &models.Subscription{
			ID:         s.nextID(),
			TelegramID: telegramID,
			Plan:       models.PlanPremium,
			StartDate:  models.Day(today),
			EndDate:    models.ExtendEnd(nil, today, days),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		s.subscriptions = append(s.subscriptions, sub)
	}
	acc.IsVIP = true
	acc.UpdatedAt = now
	cp := *sub
	return &cp, nil
}

// ExtendPremium продлевает PREMIUM и выставляет VIP.
func (s *Storage) ExtendPremium(ctx context.Context, telegramID int64, today time.Time, days int) (*models.Subscription, error) {
	const op = "memory.ExtendPremium"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.extendPremium(telegramID, today, days)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ListExpiredVIP возвращает VIP-аккаунты без действующей PREMIUM-подписки.
func (s *Storage) ListExpiredVIP(ctx context.Context, today time.Time) ([]int64, error) {
	const op = "memory.ListExpiredVIP"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, acc := range s.accounts {
		if acc.IsVIP && s.findActive(id, models.PlanPremium, today) == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ClearExpiredVIP снимает VIP, если действующей PREMIUM-подписки нет.
func (s *Storage) ClearExpiredVIP(_ context.Context, telegramID int64, today time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[telegramID]
	if !ok || !acc.IsVIP || s.findActive(telegramID, models.PlanPremium, today) != nil {
		return false, nil
	}
	acc.IsVIP = false
	acc.UpdatedAt = s.now()
	return true, nil
}

// CreatePayment сохраняет ожидающий платёж.
func (s *Storage) CreatePayment(ctx context.Context, p *models.Payment) error {
	const op = "memory.CreatePayment"
	if err := ctxErr(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[p.TelegramID]; !ok {
		return fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
	}
	if _, ok := s.payments[p.ExternalPaymentID]; ok {
		return fmt.Errorf("%s: %w", op, models.ErrPaymentExists)
	}
	now := s.now()
	p.ID = s.nextID()
	p.Success = nil
	p.PaymentDate, p.CreatedAt = now, now
	cp := *p
	s.payments[p.ExternalPaymentID] = &cp
	return nil
}

func copyPayment(p *models.Payment) *models.Payment {
	cp := *p
	if p.Success != nil {
		v := *p.Success
		cp.Success = &v
	}
	return &cp
}

// ListPayments возвращает платежи аккаунта, новые первыми.
func (s *Storage) ListPayments(ctx context.Context, telegramID int64) ([]*models.Payment, error) {
	const op = "memory.ListPayments"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*models.Payment
	for _, p := range s.payments {
		if p.TelegramID == telegramID {
			res = append(res, copyPayment(p))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

// ConfirmPayment разрешает ожидающий платёж и при успехе продлевает PREMIUM.
func (s *Storage) ConfirmPayment(ctx context.Context, externalPaymentID string, succeeded bool, today time.Time, days int) (*models.PaymentConfirmation, error) {
	const op = "memory.ConfirmPayment"
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[externalPaymentID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrPaymentNotFound)
	}
	if !p.Pending() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrPaymentAlreadyResolved)
	}
	if succeeded {
		if _, ok := s.accounts[p.TelegramID]; !ok {
			return nil, fmt.Errorf("%s: %w", op, models.ErrAccountNotFound)
		}
	}

	res := &models.PaymentConfirmation{}
	if succeeded {
		sub, err := s.extendPremium(p.TelegramID, today, days)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res.Subscription = sub
	}
	p.Success = &succeeded
	p.PaymentDate = s.now()
	res.Payment = copyPayment(p)
	return res, nil
}
