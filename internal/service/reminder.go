package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultReminderThreshold   = 23*time.Hour + 30*time.Minute
	DefaultReminderSendTimeout = 10 * time.Second
	DefaultReminderConcurrency = 4
	DefaultReminderMessage     = "👋 Hey Tycoon! Your businesses are waiting. Come back and collect your earnings! 💰"
)

type ReminderConfig struct {
	Threshold   time.Duration
	SendTimeout time.Duration
	Concurrency int
	Message     string
}

func (c *ReminderConfig) setDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = DefaultReminderThreshold
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultReminderSendTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultReminderConcurrency
	}
	if c.Message == "" {
		c.Message = DefaultReminderMessage
	}
}

type SweepReport struct {
	Checked int
	Due     int
	Sent    int
	Failed  int
}

type ReminderService struct {
	repo     ReminderRepository
	notifier Notifier
	cfg      ReminderConfig
}

func NewReminderService(repo ReminderRepository, notifier Notifier, cfg ReminderConfig) *ReminderService {
	cfg.setDefaults()
	return &ReminderService{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
	}
}

// IsDue reports whether a user has gone longer than threshold without a reminder.
func IsDue(user *model.User, now time.Time, threshold time.Duration) bool {
	if user.LastNotifiedAt == nil {
		return true
	}
	return now.Sub(*user.LastNotifiedAt) > threshold
}

// Sweep sends one reminder to every due user. A failure for one user is
// logged and counted; it never stops the others.
func (s *ReminderService) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	log := logger.Logger()

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("%w: failed to list users: %w", ErrStoreUnavailable, err)
	}

	log.Info("checking users for notifications", zap.Int("users", len(users)))

	var (
		report = SweepReport{Checked: len(users)}
		sent   atomic.Int64
		failed atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, user := range users {
		if !IsDue(user, now, s.cfg.Threshold) {
			continue
		}
		report.Due++

		telegramID := user.TelegramID
		g.Go(func() error {
			if err := s.remind(gctx, telegramID, now); err != nil {
				failed.Add(1)
				log.Warn("failed to send reminder",
					zap.Int64("telegram_id", telegramID),
					zap.Error(err))
				return nil
			}
			sent.Add(1)
			log.Info("sent notification", zap.Int64("telegram_id", telegramID))
			return nil
		})
	}

	_ = g.Wait()

	report.Sent = int(sent.Load())
	report.Failed = int(failed.Load())

	if err := ctx.Err(); err != nil {
		return report, err
	}

	return report, nil
}

// remind runs the two phases of a reminder: deliver, then record the delivery.
// No store lock is held while the message is in flight.
func (s *ReminderService) remind(ctx context.Context, telegramID int64, now time.Time) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	if err := s.notifier.SendReminder(sendCtx, telegramID, s.cfg.Message); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailure, err)
	}

	if err := s.repo.UpdateUser(ctx, telegramID, model.UserPatch{LastNotifiedAt: &now}); err != nil {
		return fmt.Errorf("%w: failed to record notification: %w", ErrStoreUnavailable, err)
	}

	return nil
}
