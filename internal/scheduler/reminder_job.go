package scheduler

import (
	"context"
	"time"

	"tap_tycoon_backend/internal/service"
	"tap_tycoon_backend/pkg/logger"

	"go.uber.org/zap"
)

type ReminderJob struct {
	reminders service.ReminderServiceI
	now       func() time.Time
}

func NewReminderJob(reminders service.ReminderServiceI) *ReminderJob {
	return &ReminderJob{
		reminders: reminders,
		now:       time.Now,
	}
}

func (j *ReminderJob) Name() string {
	return "notification-sweep"
}

func (j *ReminderJob) Run(ctx context.Context) error {
	report, err := j.reminders.Sweep(ctx, j.now().UTC())
	if err != nil {
		return err
	}

	logger.Logger().Info("notification sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("due", report.Due),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed))

	return nil
}
