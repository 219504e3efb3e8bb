package fulfillment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pomogator/relay/internal/lib/metrics"
	"github.com/pomogator/relay/internal/models"
	"github.com/pomogator/relay/internal/services/ledger"
	"github.com/pomogator/relay/internal/storage/memory"
)

type fakeProvider struct {
	calls    atomic.Int32
	generate func(ctx context.Context, text string) (string, error)
}

func (p *fakeProvider) Generate(ctx context.Context, text string) (string, error) {
	p.calls.Add(1)
	return p.generate(ctx, text)
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-1" }

func echo() *fakeProvider {
	return &fakeProvider{generate: func(_ context.Context, text string) (string, error) {
		return "echo: " + text, nil
	}}
}

func failing() *fakeProvider {
	return &fakeProvider{generate: func(context.Context, string) (string, error) {
		return "", errors.New("provider unavailable")
	}}
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

type env struct {
	store  *memory.Storage
	ledger *ledger.Service
	svc    *Service
}

func newEnv(t *testing.T, provider *fakeProvider, defaultTrial int, opts Options) *env {
	t.Helper()
	store := memory.New()
	l := ledger.New(store, nil, newNoopLogger(), defaultTrial)
	m := metrics.New(prometheus.NewRegistry())
	return &env{
		store:  store,
		ledger: l,
		svc:    New(l, store, provider, m, newNoopLogger(), opts),
	}
}

func (e *env) balance(t *testing.T, id int64) int {
	t.Helper()
	acc, err := e.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.TrialBalance
}

func (e *env) historyLen(t *testing.T, id int64) int {
	t.Helper()
	recs, err := e.store.ListHistory(context.Background(), id, 1000)
	require.NoError(t, err)
	return len(recs)
}

func TestProcess_NewAccountTrial(t *testing.T) {
	e := newEnv(t, echo(), 10, Options{})

	res, err := e.svc.Process(context.Background(), Request{TelegramID: 1, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", res.Reply)
	assert.Equal(t, 9, res.Remaining)
	assert.False(t, res.IsVIP)
	assert.Equal(t, 9, e.balance(t, 1))

	recs, err := e.store.ListHistory(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fake", recs[0].Provider)
	assert.Equal(t, "fake-1", recs[0].Model)
	assert.Equal(t, "hi", recs[0].UserText)
	assert.Equal(t, "echo: hi", recs[0].AIText)
}

func TestProcess_Deny(t *testing.T) {
	p := echo()
	e := newEnv(t, p, 0, Options{})

	_, err := e.svc.Process(context.Background(), Request{TelegramID: 1, Text: "hi"})
	require.ErrorIs(t, err, models.ErrNotEnoughCredits)
	assert.Equal(t, int32(0), p.calls.Load(), "provider must not be called")
	assert.Equal(t, 0, e.historyLen(t, 1))
}

func TestProcess_VIPPrecedence(t *testing.T) {
	e := newEnv(t, echo(), 0, Options{})
	ctx := context.Background()
	_, err := e.ledger.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, e.ledger.SetVIP(ctx, 1, true))

	res, err := e.svc.Process(ctx, Request{TelegramID: 1, Text: "hi"})
	require.NoError(t, err)
	assert.True(t, res.IsVIP)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 0, e.balance(t, 1))
	assert.Equal(t, 1, e.historyLen(t, 1))
}

func TestProcess_VIPBalanceUntouched(t *testing.T) {
	e := newEnv(t, echo(), 5, Options{})
	ctx := context.Background()
	_, err := e.ledger.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, e.ledger.SetVIP(ctx, 1, true))

	for range 3 {
		_, err := e.svc.Process(ctx, Request{TelegramID: 1, Text: "hi"})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, e.balance(t, 1))
}

func TestProcess_RefundOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		opts     Options
		ctx      func() (context.Context, context.CancelFunc)
	}{
		{
			name:     "provider error",
			provider: failing(),
			ctx:      func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
		},
		{
			name: "request timeout",
			provider: &fakeProvider{generate: func(ctx context.Context, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}},
			opts: Options{RequestTimeout: 20 * time.Millisecond, RefundTimeout: time.Second},
			ctx:  func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
		},
		{
			name: "caller deadline",
			provider: &fakeProvider{generate: func(ctx context.Context, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}},
			opts: Options{RequestTimeout: time.Minute, RefundTimeout: time.Second},
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.provider, 10, tt.opts)
			_, err := e.ledger.GetOrCreate(context.Background(), 1)
			require.NoError(t, err)

			ctx, cancel := tt.ctx()
			defer cancel()
			_, err = e.svc.Process(ctx, Request{TelegramID: 1, Text: "hi"})
			require.ErrorIs(t, err, models.ErrAIService)

			assert.Equal(t, 10, e.balance(t, 1), "charged message must be refunded")
			assert.Equal(t, 0, e.historyLen(t, 1), "failed exchange must not be recorded")
		})
	}
}

func TestProcess_VIPFailureNoRefund(t *testing.T) {
	led := new(LedgerMock)
	led.On("GetOrCreate", mock.Anything, int64(1)).Return(&models.Account{TelegramID: 1, IsVIP: true}, nil).Once()
	led.On("TouchActivity", mock.Anything, int64(1)).Return().Once()
	svc := New(led, new(HistoryMock), failing(), nil, newNoopLogger(), Options{})

	_, err := svc.Process(context.Background(), Request{TelegramID: 1, Text: "hi"})
	require.ErrorIs(t, err, models.ErrAIService)
	led.AssertNotCalled(t, "TryDebitTrial", mock.Anything, mock.Anything)
	led.AssertNotCalled(t, "RefundTrial", mock.Anything, mock.Anything)
	led.AssertExpectations(t)
}

func TestProcess_DebitErrorNoRefund(t *testing.T) {
	dbErr := errors.New("connection reset")
	p := echo()
	led := new(LedgerMock)
	led.On("GetOrCreate", mock.Anything, int64(1)).Return(&models.Account{TelegramID: 1, TrialBalance: 3}, nil).Once()
	led.On("TouchActivity", mock.Anything, int64(1)).Return().Once()
	led.On("TryDebitTrial", mock.Anything, int64(1)).Return(false, 0, dbErr).Once()
	svc := New(led, new(HistoryMock), p, nil, newNoopLogger(), Options{})

	_, err := svc.Process(context.Background(), Request{TelegramID: 1, Text: "hi"})
	require.ErrorIs(t, err, dbErr)
	assert.Equal(t, int32(0), p.calls.Load())
	led.AssertNotCalled(t, "RefundTrial", mock.Anything, mock.Anything)
}

func TestProcess_LostDebitRaceIsDenied(t *testing.T) {
	p := echo()
	led := new(LedgerMock)
	led.On("GetOrCreate", mock.Anything, int64(1)).Return(&models.Account{TelegramID: 1, TrialBalance: 1}, nil).Once()
	led.On("TouchActivity", mock.Anything, int64(1)).Return().Once()
	led.On("TryDebitTrial", mock.Anything, int64(1)).Return(false, 0, nil).Once()
	svc := New(led, new(HistoryMock), p, nil, newNoopLogger(), Options{})

	_, err := svc.Process(context.Background(), Request{TelegramID: 1, Text: "hi"})
	require.ErrorIs(t, err, models.ErrNotEnoughCredits)
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestProcess_RefundFailureIsLoggedOnly(t *testing.T) {
	led := new(LedgerMock)
	led.On("GetOrCreate", mock.Anything, int64(1)).Return(&models.Account{TelegramID: 1, TrialBalance: 1}, nil).Once()
	led.On("TouchActivity", mock.Anything, int64(1)).Return().Once()
	led.On("TryDebitTrial", mock.Anything, int64(1)).Return(true, 0, nil).Once()
	led.On("RefundTrial", mock.Anything, int64(1)).Return(errors.New("db down")).Once()
	svc := New(led, new(HistoryMock), failing(), nil, newNoopLogger(), Options{})

	_, err := svc.Process(context.Background(), Request{TelegramID: 1, Text: "hi"})
	require.ErrorIs(t, err, models.ErrAIService)
	led.AssertExpectations(t)
}

func TestProcess_HistoryFailureStillReplies(t *testing.T) {
	led := new(LedgerMock)
	led.On("GetOrCreate", mock.Anything, int64(1)).Return(&models.Account{TelegramID: 1, TrialBalance: 2}, nil).Once()
	led.On("TouchActivity", mock.Anything, int64(1)).Return().Once()
	led.On("TryDebitTrial", mock.Anything, int64(1)).Return(true, 1, nil).Once()
	hist := new(HistoryMock)
	hist.On("AppendHistory", mock.Anything, mock.AnythingOfType("*models.MessageHistory")).Return(errors.New("disk full")).Once()
	svc := New(led, hist, echo(), nil, newNoopLogger(), Options{})

	res, err := svc.Process(context.Background(), Request{TelegramID: 1, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", res.Reply)
	assert.Equal(t, 1, res.Remaining)
	led.AssertNotCalled(t, "RefundTrial", mock.Anything, mock.Anything)
	hist.AssertExpectations(t)
}

func TestProcess_ConcurrentNonNegative(t *testing.T) {
	e := newEnv(t, echo(), 5, Options{})
	ctx := context.Background()
	_, err := e.ledger.GetOrCreate(ctx, 1)
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		ok     atomic.Int32
		denied atomic.Int32
	)
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Process(ctx, Request{TelegramID: 1, Text: "hi"})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, models.ErrNotEnoughCredits):
				denied.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, int32(35), denied.Load())
	assert.Equal(t, 0, e.balance(t, 1))
	assert.Equal(t, 5, e.historyLen(t, 1))
}

func TestProcess_WorkedExample(t *testing.T) {
	var fail atomic.Bool
	p := &fakeProvider{generate: func(_ context.Context, text string) (string, error) {
		if fail.Load() {
			return "", errors.New("boom")
		}
		return "ok: " + text, nil
	}}
	e := newEnv(t, p, 10, Options{})
	ctx := context.Background()
	send := func() (*Result, error) {
		return e.svc.Process(ctx, Request{TelegramID: 100, Text: "q"})
	}

	res, err := send()
	require.NoError(t, err)
	assert.Equal(t, 9, res.Remaining)
	assert.Equal(t, 1, e.historyLen(t, 100))

	fail.Store(true)
	_, err = send()
	require.ErrorIs(t, err, models.ErrAIService)
	assert.Equal(t, 9, e.balance(t, 100))
	fail.Store(false)

	for i := 8; i >= 0; i-- {
		res, err = send()
		require.NoError(t, err)
		assert.Equal(t, i, res.Remaining)
	}
	assert.Equal(t, 0, e.balance(t, 100))
	assert.Equal(t, 10, e.historyLen(t, 100))

	_, err = send()
	require.ErrorIs(t, err, models.ErrNotEnoughCredits)
	assert.Equal(t, 10, e.historyLen(t, 100))
}
