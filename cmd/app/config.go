package main

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"

	"tap_tycoon_backend/internal/bot"
	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/internal/repository"
	"tap_tycoon_backend/internal/service"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	configPath   = "./"
	configName   = "config"
	configFormat = "yaml"
	envPrefix    = "APP"
)

var webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Telegram      bot.Config          `mapstructure:"telegram"`
	Rewards       RewardsConfig       `mapstructure:"rewards"`
	Database      repository.Config   `mapstructure:"database"`
	Notifications NotificationsConfig `mapstructure:"notifications"`

	LogLevel string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

type RewardsConfig struct {
	MoneyPerUnit int64 `mapstructure:"moneyPerUnit"`
	GemsPerUnit  int64 `mapstructure:"gemsPerUnit"`
}

func (c RewardsConfig) Table() model.RewardTable {
	return model.RewardTable{MoneyPerUnit: c.MoneyPerUnit, GemsPerUnit: c.GemsPerUnit}
}

type NotificationsConfig struct {
	Schedule    string        `mapstructure:"schedule"`
	Threshold   time.Duration `mapstructure:"threshold"`
	SendTimeout time.Duration `mapstructure:"sendTimeout"`
	Concurrency int           `mapstructure:"concurrency"`
	Message     string        `mapstructure:"message"`
}

func (c NotificationsConfig) ReminderConfig() service.ReminderConfig {
	return service.ReminderConfig{
		Threshold:   c.Threshold,
		SendTimeout: c.SendTimeout,
		Concurrency: c.Concurrency,
		Message:     c.Message,
	}
}

func LoadConfig() (*Config, error) {
	return loadConfig(configPath)
}

func loadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.AddConfigPath(path)
	v.SetConfigType(configFormat)

	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// names used by existing deployments
	_ = v.BindEnv("telegram.botToken", "APP_TELEGRAM_BOTTOKEN", "BOT_TOKEN")
	_ = v.BindEnv("telegram.webAppURL", "APP_TELEGRAM_WEBAPPURL", "WEB_APP_URL")
	_ = v.BindEnv("server.port", "APP_SERVER_PORT", "PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "3000")

	v.SetDefault("telegram.botToken", "")
	v.SetDefault("telegram.webAppURL", "")
	v.SetDefault("telegram.mode", bot.ModePolling)
	v.SetDefault("telegram.publicURL", "")
	v.SetDefault("telegram.webhookSecret", "")
	v.SetDefault("telegram.debug", false)

	v.SetDefault("rewards.moneyPerUnit", 25000)
	v.SetDefault("rewards.gemsPerUnit", 0)

	v.SetDefault("database.driver", repository.DriverFile)
	v.SetDefault("database.file.dataDir", "./data")
	v.SetDefault("database.file.fileName", "db.json")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", "5432")
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.name", "tap_tycoon")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongo.name", "tap_tycoon")
	v.SetDefault("database.mongo.collection", "users")

	v.SetDefault("notifications.schedule", "@every 1h")
	v.SetDefault("notifications.threshold", service.DefaultReminderThreshold)
	v.SetDefault("notifications.sendTimeout", service.DefaultReminderSendTimeout)
	v.SetDefault("notifications.concurrency", service.DefaultReminderConcurrency)
	v.SetDefault("notifications.message", service.DefaultReminderMessage)

	v.SetDefault("logLevel", "info")
}

func (c *Config) Validate() error {
	var errs []error

	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("telegram.botToken is required"))
	}
	if c.Telegram.WebAppURL == "" {
		errs = append(errs, errors.New("telegram.webAppURL is required"))
	}

	switch c.Telegram.Mode {
	case bot.ModePolling:
	case bot.ModeWebhook:
		if !webhookSecretPattern.MatchString(c.Telegram.WebhookSecret) {
			errs = append(errs, errors.New("telegram.webhookSecret must be 1-256 characters of A-Z, a-z, 0-9, _ or - in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("telegram.mode must be %q or %q, got %q", bot.ModePolling, bot.ModeWebhook, c.Telegram.Mode))
	}

	if c.Rewards.MoneyPerUnit < 0 || c.Rewards.GemsPerUnit < 0 {
		errs = append(errs, errors.New("rewards must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	return nil
}
