package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, chatID int64, text string) error {
	return m.Called(ctx, chatID, text).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestService_Handlers(t *testing.T) {
	type handler func(*Service, context.Context, []byte) (bool, error)
	expired := func(s *Service, ctx context.Context, b []byte) (bool, error) { return s.VIPExpired(ctx, b) }
	activated := func(s *Service, ctx context.Context, b []byte) (bool, error) { return s.VIPActivated(ctx, b) }

	tests := []struct {
		name        string
		handle      handler
		body        string
		setupMocks  func(*MockSender)
		wantErr     bool
		wantRequeue bool
	}{
		{
			name:   "expired delivered",
			handle: expired,
			body:   `{"telegram_id":42}`,
			setupMocks: func(m *MockSender) {
				m.On("Send", mock.Anything, int64(42), mock.MatchedBy(func(s string) bool { return strings.Contains(s, "PREMIUM") })).Return(nil).Once()
			},
		},
		{
			name:    "expired malformed body is dropped",
			handle:  expired,
			body:    `not json`,
			wantErr: true,
		},
		{
			name:    "expired without id is dropped",
			handle:  expired,
			body:    `{}`,
			wantErr: true,
		},
		{
			name:   "expired send failure is requeued",
			handle: expired,
			body:   `{"telegram_id":42}`,
			setupMocks: func(m *MockSender) {
				m.On("Send", mock.Anything, int64(42), mock.Anything).Return(errors.New("telegram down")).Once()
			},
			wantErr:     true,
			wantRequeue: true,
		},
		{
			name:   "activated delivered with date",
			handle: activated,
			body:   `{"telegram_id":7,"until":"2024-07-15T00:00:00Z"}`,
			setupMocks: func(m *MockSender) {
				m.On("Send", mock.Anything, int64(7), mock.MatchedBy(func(s string) bool { return strings.Contains(s, "15.07.2024") })).Return(nil).Once()
			},
		},
		{
			name:   "activated send failure is requeued",
			handle: activated,
			body:   `{"telegram_id":7,"until":"2024-07-15T00:00:00Z"}`,
			setupMocks: func(m *MockSender) {
				m.On("Send", mock.Anything, int64(7), mock.Anything).Return(errors.New("timeout")).Once()
			},
			wantErr:     true,
			wantRequeue: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := new(MockSender)
			if tt.setupMocks != nil {
				tt.setupMocks(sender)
			}
			s := New(sender, newNoopLogger())

			requeue, err := tt.handle(s, context.Background(), []byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantRequeue, requeue)
			sender.AssertExpectations(t)
		})
	}
}
