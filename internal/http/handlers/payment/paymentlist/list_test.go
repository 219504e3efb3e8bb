package paymentlist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/pomogator/relay/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) List(ctx context.Context, telegramID int64) ([]*models.Payment, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestPaymentListHandler_ServeHTTP(t *testing.T) {
	ok := true
	payments := []*models.Payment{{
		ID:                1,
		TelegramID:        42,
		Amount:            decimal.RequireFromString("299"),
		Currency:          models.CurrencyRUB,
		ExternalPaymentID: "telegram_1",
		Success:           &ok,
	}}

	tests := []struct {
		name           string
		url            string
		setupMocks     func(*MockService)
		expectedStatus int
		wantContains   string
	}{
		{
			name: "payments listed",
			url:  "/api/v1/payments?telegram_id=42",
			setupMocks: func(m *MockService) {
				m.On("List", mock.Anything, int64(42)).Return(payments, nil).Once()
			},
			expectedStatus: http.StatusOK,
			wantContains:   `"external_payment_id":"telegram_1"`,
		},
		{
			name: "no payments",
			url:  "/api/v1/payments?telegram_id=42",
			setupMocks: func(m *MockService) {
				m.On("List", mock.Anything, int64(42)).Return(nil, nil).Once()
			},
			expectedStatus: http.StatusOK,
			wantContains:   `"payments":[]`,
		},
		{
			name:           "bad telegram_id",
			url:            "/api/v1/payments?telegram_id=x",
			expectedStatus: http.StatusBadRequest,
			wantContains:   "telegram_id must be a positive integer",
		},
		{
			name: "service error",
			url:  "/api/v1/payments?telegram_id=42",
			setupMocks: func(m *MockService) {
				m.On("List", mock.Anything, int64(42)).Return(nil, errors.New("db down")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			wantContains:   "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			if tt.setupMocks != nil {
				tt.setupMocks(svc)
			}
			w := httptest.NewRecorder()
			New(newNoopLogger(), svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.url, nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantContains)
			svc.AssertExpectations(t)
		})
	}
}
