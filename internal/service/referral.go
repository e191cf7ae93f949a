package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/internal/repository"
	"tap_tycoon_backend/pkg/logger"

	"go.uber.org/zap"
)

// StartCommand is the first-touch event delivered by the bot, whichever
// transport carried it.
type StartCommand struct {
	TelegramID  int64
	DisplayName string
	ReferrerID  *int64
}

type ReferralService struct {
	repo    ReferralRepository
	rewards model.RewardTable
	feed    StatsPublisher
	now     func() time.Time
}

func NewReferralService(repo ReferralRepository, rewards model.RewardTable, feed StatsPublisher) *ReferralService {
	if feed == nil {
		feed = nopPublisher{}
	}
	return &ReferralService{
		repo:    repo,
		rewards: rewards,
		feed:    feed,
		now:     time.Now,
	}
}

func (s *ReferralService) CreateOrGetUser(ctx context.Context, telegramID int64, displayName string) (*model.User, bool, error) {
	return s.createOrGetUser(ctx, telegramID, displayName, nil)
}

func (s *ReferralService) createOrGetUser(ctx context.Context, telegramID int64, displayName string, pendingReferrerID *int64) (*model.User, bool, error) {
	if telegramID <= 0 {
		return nil, false, fmt.Errorf("%w: %w", ErrValidation, ErrInvalidTelegramID)
	}

	user := model.NewUser(telegramID, displayName, s.now())
	if pendingReferrerID != nil && *pendingReferrerID != telegramID {
		pending := *pendingReferrerID
		user.PendingReferrerID = &pending
	}

	stored, created, err := s.repo.UpsertUser(ctx, user)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to create user: %w", ErrStoreUnavailable, err)
	}

	return stored, created, nil
}

func (s *ReferralService) LinkReferral(ctx context.Context, newUserID int64, candidateReferrerID *int64) (model.LinkOutcome, error) {
	if candidateReferrerID == nil {
		return model.OutcomeNoReferrer, nil
	}
	if *candidateReferrerID == newUserID {
		return model.OutcomeSelfReferral, nil
	}

	outcome, err := s.repo.LinkReferral(ctx, newUserID, *candidateReferrerID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to link referral: %w", ErrStoreUnavailable, err)
	}

	if outcome == model.OutcomeLinked {
		logger.Logger().Info("referral linked",
			zap.Int64("telegram_id", newUserID),
			zap.Int64("referrer_id", *candidateReferrerID))

		if stats, err := s.GetReferralStats(ctx, *candidateReferrerID); err == nil {
			s.feed.Publish(*stats)
		}
	}

	return outcome, nil
}

func (s *ReferralService) GetReferralStats(ctx context.Context, telegramID int64) (*model.ReferralStats, error) {
	user, err := s.repo.GetUser(ctx, telegramID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.ReferralStats{TelegramID: telegramID}, nil
		}
		return nil, fmt.Errorf("%w: failed to get user: %w", ErrStoreUnavailable, err)
	}

	return statsFor(user, s.rewards), nil
}

// HandleStart registers the user on first contact. Referral codes are only
// honoured on the event that created the user, so a returning player cannot
// credit someone by re-sending /start with a code. The creating code is kept
// as pending until its link attempt finishes, and a later /start retries that
// stored code if the first attempt failed.
func (s *ReferralService) HandleStart(ctx context.Context, cmd StartCommand) (*model.User, model.LinkOutcome, error) {
	user, created, err := s.createOrGetUser(ctx, cmd.TelegramID, cmd.DisplayName, cmd.ReferrerID)
	if err != nil {
		return nil, 0, err
	}

	referrerID := cmd.ReferrerID
	switch {
	case created:
		logger.Logger().Info("new user created", zap.Int64("telegram_id", cmd.TelegramID))
	case user.HasPendingReferral():
		logger.Logger().Info("retrying pending referral",
			zap.Int64("telegram_id", cmd.TelegramID),
			zap.Int64("referrer_id", *user.PendingReferrerID))
		referrerID = user.PendingReferrerID
	default:
		logger.Logger().Debug("returning user", zap.Int64("telegram_id", cmd.TelegramID))
		if cmd.ReferrerID == nil {
			return user, model.OutcomeNoReferrer, nil
		}
		return user, model.OutcomeReturningUser, nil
	}

	outcome, err := s.LinkReferral(ctx, cmd.TelegramID, referrerID)
	if err != nil {
		return user, 0, err
	}

	user.PendingReferrerID = nil
	if outcome == model.OutcomeLinked {
		linked := *referrerID
		user.ReferrerID = &linked
	}

	return user, outcome, nil
}

func statsFor(user *model.User, rewards model.RewardTable) *model.ReferralStats {
	return &model.ReferralStats{
		TelegramID:      user.TelegramID,
		FriendsInvited:  len(user.ReferredIDs),
		UnclaimedCount:  user.UnclaimedRewardUnits,
		UnclaimedReward: rewards.For(user.UnclaimedRewardUnits),
	}
}
