package service

import (
	"context"
	"errors"
	"testing"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/internal/service/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestClaimService_Claim(t *testing.T) {
	tests := []struct {
		name       string
		telegramID int64
		mockSetup  func(repo *mocks.MockUserRepository, feed *mocks.MockStatsPublisher)
		want       *model.ClaimResult
		wantErr    error
	}{
		{
			name:       "non positive id claims nothing",
			telegramID: -3,
			want:       &model.ClaimResult{TelegramID: -3},
		},
		{
			name:       "claims pending units",
			telegramID: 1,
			mockSetup: func(repo *mocks.MockUserRepository, feed *mocks.MockStatsPublisher) {
				repo.On("ClaimRewards", mock.Anything, int64(1)).Return(4, nil)
				repo.On("GetUser", mock.Anything, int64(1)).Return(&model.User{
					TelegramID:         1,
					ReferredIDs:        []int64{2, 3, 4, 5},
					ClaimedRewardUnits: 4,
				}, nil)
				feed.On("Publish", model.ReferralStats{TelegramID: 1, FriendsInvited: 4}).Return()
			},
			want: &model.ClaimResult{
				TelegramID:   1,
				ClaimedCount: 4,
				Rewards:      model.Reward{Money: 100000},
			},
		},
		{
			name:       "nothing to claim",
			telegramID: 1,
			mockSetup: func(repo *mocks.MockUserRepository, _ *mocks.MockStatsPublisher) {
				repo.On("ClaimRewards", mock.Anything, int64(1)).Return(0, nil)
			},
			want: &model.ClaimResult{TelegramID: 1},
		},
		{
			name:       "store failure",
			telegramID: 1,
			mockSetup: func(repo *mocks.MockUserRepository, _ *mocks.MockStatsPublisher) {
				repo.On("ClaimRewards", mock.Anything, int64(1)).Return(0, errors.New("deadlock"))
			},
			wantErr: ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := &mocks.MockUserRepository{}
			mockFeed := &mocks.MockStatsPublisher{}
			if tt.mockSetup != nil {
				tt.mockSetup(mockRepo, mockFeed)
			}
			service := NewClaimService(mockRepo, testRewards, mockFeed)

			result, err := service.Claim(context.Background(), tt.telegramID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, result)
			mockRepo.AssertExpectations(t)
			mockFeed.AssertExpectations(t)
		})
	}
}
