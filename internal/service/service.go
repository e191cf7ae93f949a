package service

import (
	"context"
	"errors"
	"time"

	"tap_tycoon_backend/internal/model"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrStoreUnavailable  = errors.New("user store unavailable")
	ErrDeliveryFailure   = errors.New("message delivery failed")
	ErrInvalidTelegramID = errors.New("telegram id must be positive")
)

type Service struct {
	*ReferralService
	*ClaimService
	*ReminderService
}

func NewService(referrals *ReferralService, claims *ClaimService, reminders *ReminderService) *Service {
	return &Service{
		ReferralService: referrals,
		ClaimService:    claims,
		ReminderService: reminders,
	}
}

type ReferralServiceI interface {
	CreateOrGetUser(ctx context.Context, telegramID int64, displayName string) (*model.User, bool, error)
	LinkReferral(ctx context.Context, newUserID int64, candidateReferrerID *int64) (model.LinkOutcome, error)
	GetReferralStats(ctx context.Context, telegramID int64) (*model.ReferralStats, error)
	HandleStart(ctx context.Context, cmd StartCommand) (*model.User, model.LinkOutcome, error)
}

type ClaimServiceI interface {
	Claim(ctx context.Context, telegramID int64) (*model.ClaimResult, error)
}

type ReminderServiceI interface {
	Sweep(ctx context.Context, now time.Time) (SweepReport, error)
}

type ReferralRepository interface {
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
	UpsertUser(ctx context.Context, user *model.User) (*model.User, bool, error)
	LinkReferral(ctx context.Context, newUserID, referrerID int64) (model.LinkOutcome, error)
}

type ClaimRepository interface {
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
	ClaimRewards(ctx context.Context, telegramID int64) (int, error)
}

type ReminderRepository interface {
	ListUsers(ctx context.Context) ([]*model.User, error)
	UpdateUser(ctx context.Context, telegramID int64, patch model.UserPatch) error
}

// Notifier delivers a reminder text to a user's private chat.
type Notifier interface {
	SendReminder(ctx context.Context, telegramID int64, text string) error
}

// StatsPublisher receives fresh referral stats whenever they change.
type StatsPublisher interface {
	Publish(stats model.ReferralStats)
}

type nopPublisher struct{}

func (nopPublisher) Publish(model.ReferralStats) {}
