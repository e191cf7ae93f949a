package bot

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tap_tycoon_backend/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	ModeWebhook = "webhook"
	ModePolling = "polling"

	WebhookPath = "/telegram-webhook"

	// SecretTokenHeader carries the secret registered with setWebhook.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

	// longer than the long-poll timeout so getUpdates is never cut short
	httpTimeout = 75 * time.Second
)

type Config struct {
	BotToken  string `mapstructure:"botToken"`
	WebAppURL string `mapstructure:"webAppURL"`
	Mode      string `mapstructure:"mode"`
	PublicURL string `mapstructure:"publicURL"`
	// WebhookSecret is echoed back by Telegram on every webhook call.
	WebhookSecret string `mapstructure:"webhookSecret"`
	Debug         bool   `mapstructure:"debug"`
}

func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.PublicURL, "/") + WebhookPath
}

// API is the part of *tgbotapi.BotAPI the bot needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

func NewAPI(cfg Config) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: httpTimeout}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bot: %w", err)
	}

	bot.Debug = cfg.Debug

	logger.Logger().Info("Authorized on telegram", zap.String("bot", bot.Self.UserName))

	return bot, nil
}

// RegisterWebhook points Telegram at our webhook route. WebhookConfig has no
// secret_token field, so setWebhook is called with raw params.
func RegisterWebhook(api API, cfg Config) error {
	if cfg.PublicURL == "" {
		logger.Logger().Warn("telegram.publicURL is empty, webhook must be registered manually")
		return nil
	}

	if _, err := url.ParseRequestURI(cfg.WebhookURL()); err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}

	params := tgbotapi.Params{"url": cfg.WebhookURL()}
	params.AddNonEmpty("secret_token", cfg.WebhookSecret)

	if _, err := api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}

	logger.Logger().Info("Webhook registered", zap.String("url", cfg.WebhookURL()))

	return nil
}

// DeleteWebhook clears any registered webhook; getUpdates is refused while one is set.
func DeleteWebhook(api API) error {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}
