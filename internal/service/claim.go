package service

import (
	"context"
	"fmt"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/pkg/logger"

	"go.uber.org/zap"
)

type ClaimService struct {
	repo    ClaimRepository
	rewards model.RewardTable
	feed    StatsPublisher
}

func NewClaimService(repo ClaimRepository, rewards model.RewardTable, feed StatsPublisher) *ClaimService {
	if feed == nil {
		feed = nopPublisher{}
	}
	return &ClaimService{
		repo:    repo,
		rewards: rewards,
		feed:    feed,
	}
}

// Claim moves every unclaimed unit of the user into the claimed counter in a
// single store operation and returns the payout for the moved units. Ids that
// can never be registered are unknown users and claim nothing.
func (s *ClaimService) Claim(ctx context.Context, telegramID int64) (*model.ClaimResult, error) {
	if telegramID <= 0 {
		return &model.ClaimResult{TelegramID: telegramID}, nil
	}

	claimed, err := s.repo.ClaimRewards(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to claim rewards: %w", ErrStoreUnavailable, err)
	}

	result := &model.ClaimResult{
		TelegramID:   telegramID,
		ClaimedCount: claimed,
		Rewards:      s.rewards.For(claimed),
	}

	if claimed > 0 {
		logger.Logger().Info("rewards claimed",
			zap.Int64("telegram_id", telegramID),
			zap.Int("claimed_count", claimed),
			zap.Int64("money", result.Rewards.Money),
			zap.Int64("gems", result.Rewards.Gems))

		if user, err := s.repo.GetUser(ctx, telegramID); err == nil {
			s.feed.Publish(*statsFor(user, s.rewards))
		}
	}

	return result, nil
}
