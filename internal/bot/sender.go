package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"tap_tycoon_backend/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const playButtonText = "🎮 Play Now!"

type webAppInfo struct {
	URL string `json:"url"`
}

type webAppButton struct {
	Text   string     `json:"text"`
	WebApp webAppInfo `json:"web_app"`
}

type webAppKeyboard struct {
	InlineKeyboard [][]webAppButton `json:"inline_keyboard"`
}

// Sender delivers outgoing messages. It implements service.Notifier.
type Sender struct {
	api       API
	webAppURL string
}

func NewSender(api API, webAppURL string) *Sender {
	return &Sender{
		api:       api,
		webAppURL: webAppURL,
	}
}

func (s *Sender) SendWelcome(ctx context.Context, chatID int64, displayName string) error {
	msg := tgbotapi.NewMessage(chatID, welcomeText(displayName))
	msg.ReplyMarkup = webAppKeyboard{
		InlineKeyboard: [][]webAppButton{{
			{Text: playButtonText, WebApp: webAppInfo{URL: s.webAppURL}},
		}},
	}
	return s.send(ctx, msg)
}

func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	return s.send(ctx, tgbotapi.NewMessage(chatID, text))
}

// SendReminder writes to the user's private chat, whose id equals the user id.
func (s *Sender) SendReminder(ctx context.Context, telegramID int64, text string) error {
	return s.send(ctx, tgbotapi.NewMessage(telegramID, text))
}

// send runs the request as a task so the caller's deadline bounds the wait.
func (s *Sender) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.api.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
				logger.Logger().Warn("user blocked the bot", zap.Int64("chat_id", msg.ChatID))
			}
			return fmt.Errorf("failed to send message: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func welcomeText(displayName string) string {
	return fmt.Sprintf("Welcome to Tap Tycoon, %s! Click the button below to start playing.", displayName)
}
