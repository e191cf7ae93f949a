package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/internal/service"
	"tap_tycoon_backend/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
)

const (
	startCommand   = "start"
	seenUpdateSize = 1024

	hintText    = "Welcome! Use the /start command or the menu button to launch the game."
	failureText = "Sorry, something went wrong. Please try again later."
)

// CommandHandler consumes inbound updates, whichever transport delivered them.
type CommandHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

type Ledger interface {
	HandleStart(ctx context.Context, cmd service.StartCommand) (*model.User, model.LinkOutcome, error)
}

type Replier interface {
	SendWelcome(ctx context.Context, chatID int64, displayName string) error
	SendText(ctx context.Context, chatID int64, text string) error
}

type Dispatcher struct {
	ledger  Ledger
	replier Replier
	seen    *lru.Cache
}

func NewDispatcher(ledger Ledger, replier Replier) (*Dispatcher, error) {
	seen, err := lru.New(seenUpdateSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create update cache: %w", err)
	}

	return &Dispatcher{
		ledger:  ledger,
		replier: replier,
		seen:    seen,
	}, nil
}

func (d *Dispatcher) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	log := logger.Logger()

	if ok, _ := d.seen.ContainsOrAdd(update.UpdateID, struct{}{}); ok {
		log.Debug("skipping redelivered update", zap.Int("update_id", update.UpdateID))
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot || msg.Chat == nil {
		return
	}

	if msg.IsCommand() && msg.Command() == startCommand {
		d.handleStart(ctx, msg)
		return
	}

	if msg.Text == "" {
		return
	}

	if err := d.replier.SendText(ctx, msg.Chat.ID, hintText); err != nil {
		log.Warn("failed to send hint", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	}
}

func (d *Dispatcher) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	log := logger.Logger()

	cmd := service.StartCommand{
		TelegramID:  msg.From.ID,
		DisplayName: displayName(msg.From),
		ReferrerID:  ParseReferralCode(msg.CommandArguments()),
	}

	_, outcome, err := d.ledger.HandleStart(ctx, cmd)
	if err != nil {
		log.Error("failed to handle /start", zap.Int64("telegram_id", cmd.TelegramID), zap.Error(err))
		if err = d.replier.SendText(ctx, msg.Chat.ID, failureText); err != nil {
			log.Warn("failed to send apology", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
		}
		return
	}

	log.Debug("handled /start",
		zap.Int64("telegram_id", cmd.TelegramID),
		zap.Stringer("outcome", outcome))

	if err = d.replier.SendWelcome(ctx, msg.Chat.ID, cmd.DisplayName); err != nil {
		log.Warn("failed to send welcome", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	}
}

// ParseReferralCode reads the /start payload as a referrer id. Anything that is
// not a positive integer means "no referrer".
func ParseReferralCode(args string) *int64 {
	args = strings.TrimSpace(args)
	if args == "" {
		return nil
	}

	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}

	return &id
}

func displayName(u *tgbotapi.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.UserName
}
