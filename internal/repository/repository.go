package repository

import (
	"context"
	"fmt"
	"time"

	"tap_tycoon_backend/internal/model"

	"github.com/pkg/errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnknownDriver = errors.New("unknown database driver")
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverFile     = "file"
)

// Store is the user record store shared by every backend.
type Store interface {
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
	UpsertUser(ctx context.Context, user *model.User) (*model.User, bool, error)
	UpdateUser(ctx context.Context, telegramID int64, patch model.UserPatch) error
	ListUsers(ctx context.Context) ([]*model.User, error)
	LinkReferral(ctx context.Context, newUserID, referrerID int64) (model.LinkOutcome, error)
	ClaimRewards(ctx context.Context, telegramID int64) (int, error)
	Close() error
}

type Config struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	File     FileConfig     `mapstructure:"file"`
}

func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgres(ctx, cfg.Postgres)
	case DriverMongo:
		return NewMongo(ctx, cfg.Mongo)
	case DriverFile, "":
		return NewFile(cfg.File)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
