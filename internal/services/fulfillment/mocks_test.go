package fulfillment

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pomogator/relay/internal/models"
)

type LedgerMock struct{ mock.Mock }

func (m *LedgerMock) GetOrCreate(ctx context.Context, id int64) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *LedgerMock) TouchActivity(ctx context.Context, id int64) {
	m.Called(ctx, id)
}

func (m *LedgerMock) TryDebitTrial(ctx context.Context, id int64) (bool, int, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Int(1), args.Error(2)
}

func (m *LedgerMock) RefundTrial(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type HistoryMock struct{ mock.Mock }

func (m *HistoryMock) AppendHistory(ctx context.Context, rec *models.MessageHistory) error {
	return m.Called(ctx, rec).Error(0)
}
