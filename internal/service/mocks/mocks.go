package mocks

import (
	"context"

	"tap_tycoon_backend/internal/model"

	"github.com/stretchr/testify/mock"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) UpsertUser(ctx context.Context, user *model.User) (*model.User, bool, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.User), args.Bool(1), args.Error(2)
}

func (m *MockUserRepository) UpdateUser(ctx context.Context, telegramID int64, patch model.UserPatch) error {
	args := m.Called(ctx, telegramID, patch)
	return args.Error(0)
}

func (m *MockUserRepository) ListUsers(ctx context.Context) ([]*model.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.User), args.Error(1)
}

func (m *MockUserRepository) LinkReferral(ctx context.Context, newUserID, referrerID int64) (model.LinkOutcome, error) {
	args := m.Called(ctx, newUserID, referrerID)
	return args.Get(0).(model.LinkOutcome), args.Error(1)
}

func (m *MockUserRepository) ClaimRewards(ctx context.Context, telegramID int64) (int, error) {
	args := m.Called(ctx, telegramID)
	return args.Int(0), args.Error(1)
}

func (m *MockUserRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendReminder(ctx context.Context, telegramID int64, text string) error {
	args := m.Called(ctx, telegramID, text)
	return args.Error(0)
}

type MockStatsPublisher struct {
	mock.Mock
}

func (m *MockStatsPublisher) Publish(stats model.ReferralStats) {
	m.Called(stats)
}
