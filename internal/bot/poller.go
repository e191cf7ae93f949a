package bot

import (
	"context"

	"tap_tycoon_backend/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const pollTimeout = 60

type Poller struct {
	api     API
	handler CommandHandler
}

func NewPoller(api API, handler CommandHandler) *Poller {
	return &Poller{
		api:     api,
		handler: handler,
	}
}

// Run long-polls getUpdates until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = pollTimeout

	updates := p.api.GetUpdatesChan(updateConfig)
	defer p.api.StopReceivingUpdates()

	logger.Logger().Info("Bot is polling for updates")

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			p.handler.HandleUpdate(ctx, update)

		case <-ctx.Done():
			return nil
		}
	}
}
