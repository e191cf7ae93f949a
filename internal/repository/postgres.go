package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/pkg/logger"

	"github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	telegram_id            BIGINT PRIMARY KEY,
	username               TEXT        NOT NULL DEFAULT '',
	referrer_id            BIGINT      NULL,
	pending_referrer_id    BIGINT      NULL,
	referred_ids           BIGINT[]    NOT NULL DEFAULT '{}',
	unclaimed_reward_units INTEGER     NOT NULL DEFAULT 0 CHECK (unclaimed_reward_units >= 0),
	claimed_reward_units   INTEGER     NOT NULL DEFAULT 0 CHECK (claimed_reward_units >= 0),
	last_notified_at       TIMESTAMPTZ NULL,
	registration_date      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT users_no_self_referral CHECK (referrer_id IS NULL OR referrer_id <> telegram_id)
);
ALTER TABLE users ADD COLUMN IF NOT EXISTS pending_referrer_id BIGINT NULL;
CREATE INDEX IF NOT EXISTS users_referrer_id_idx ON users (referrer_id);
`

var userColumns = []string{
	"telegram_id",
	"username",
	"referrer_id",
	"pending_referrer_id",
	"referred_ids",
	"unclaimed_reward_units",
	"claimed_reward_units",
	"last_notified_at",
	"registration_date",
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c *PostgresConfig) GetDatabaseURL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		sslMode,
	)
}

type Postgres struct {
	db *sqlx.DB
}

type userRow struct {
	TelegramID           int64         `db:"telegram_id"`
	Username             string        `db:"username"`
	ReferrerID           *int64        `db:"referrer_id"`
	PendingReferrerID    *int64        `db:"pending_referrer_id"`
	ReferredIDs          pq.Int64Array `db:"referred_ids"`
	UnclaimedRewardUnits int           `db:"unclaimed_reward_units"`
	ClaimedRewardUnits   int           `db:"claimed_reward_units"`
	LastNotifiedAt       *time.Time    `db:"last_notified_at"`
	RegistrationDate     time.Time     `db:"registration_date"`
}

func (u *userRow) toModel() *model.User {
	referred := make([]int64, len(u.ReferredIDs))
	copy(referred, u.ReferredIDs)

	return &model.User{
		TelegramID:           u.TelegramID,
		Username:             u.Username,
		ReferrerID:           u.ReferrerID,
		PendingReferrerID:    u.PendingReferrerID,
		ReferredIDs:          referred,
		UnclaimedRewardUnits: u.UnclaimedRewardUnits,
		ClaimedRewardUnits:   u.ClaimedRewardUnits,
		LastNotifiedAt:       u.LastNotifiedAt,
		RegistrationDate:     u.RegistrationDate,
	}
}

func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo, err := newPostgres(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Logger().Info("Connected to database successfully")

	return repo, nil
}

func newPostgres(ctx context.Context, db *sqlx.DB) (*Postgres, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, usersSchema); err != nil {
		return nil, fmt.Errorf("failed to create users schema: %w", err)
	}

	return &Postgres{db: db}, nil
}

func (r *Postgres) Close() error {
	return r.db.Close()
}

func (r *Postgres) Transaction(ctx context.Context, t func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	err = t(tx)
	if err != nil {
		txErr := tx.Rollback()
		if txErr != nil {
			return errors.Wrapf(err, "rollback error: %v", txErr)
		}
		return err
	}
	return tx.Commit()
}

func (r *Postgres) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	query, args, err := squirrel.
		Select(userColumns...).
		From("users").
		Where(squirrel.Eq{"telegram_id": telegramID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	var user userRow
	err = r.db.GetContext(ctx, &user, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return user.toModel(), nil
}

func (r *Postgres) getUserForUpdate(ctx context.Context, tx *sqlx.Tx, telegramID int64) (*model.User, error) {
	query, args, err := squirrel.
		Select(userColumns...).
		From("users").
		Where(squirrel.Eq{"telegram_id": telegramID}).
		Suffix("FOR UPDATE").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	var user userRow
	err = tx.GetContext(ctx, &user, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return user.toModel(), nil
}

func (r *Postgres) UpsertUser(ctx context.Context, user *model.User) (*model.User, bool, error) {
	var (
		stored  *model.User
		created bool
	)

	registered := user.RegistrationDate
	if registered.IsZero() {
		registered = nowUTC()
	}

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		query, args, err := squirrel.
			Insert("users").
			SetMap(map[string]interface{}{
				"telegram_id":         user.TelegramID,
				"username":            user.Username,
				"pending_referrer_id": user.PendingReferrerID,
				"registration_date":   registered,
			}).
			Suffix("ON CONFLICT (telegram_id) DO NOTHING").
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build user insert query: %w", err)
		}

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		created = rows == 1

		stored, err = r.getUserForUpdate(ctx, tx, user.TelegramID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return stored, created, nil
}

func (r *Postgres) UpdateUser(ctx context.Context, telegramID int64, patch model.UserPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	if patch.IsEmpty() {
		_, err := r.GetUser(ctx, telegramID)
		return err
	}

	return r.Transaction(ctx, func(tx *sqlx.Tx) error {
		user, err := r.getUserForUpdate(ctx, tx, telegramID)
		if err != nil {
			return err
		}

		if err = patch.Apply(user); err != nil {
			return err
		}

		query, args, err := squirrel.
			Update("users").
			SetMap(map[string]interface{}{
				"referrer_id":            user.ReferrerID,
				"referred_ids":           user.ReferredIDs,
				"unclaimed_reward_units": user.UnclaimedRewardUnits,
				"claimed_reward_units":   user.ClaimedRewardUnits,
				"last_notified_at":       user.LastNotifiedAt,
			}).
			Where(squirrel.Eq{"telegram_id": telegramID}).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build user update query: %w", err)
		}

		_, err = tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}

		return nil
	})
}

func (r *Postgres) ListUsers(ctx context.Context) ([]*model.User, error) {
	query, args, err := squirrel.
		Select(userColumns...).
		From("users").
		OrderBy("telegram_id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []userRow
	if err = r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]*model.User, len(rows))
	for i := range rows {
		users[i] = rows[i].toModel()
	}

	return users, nil
}

func (r *Postgres) LinkReferral(ctx context.Context, newUserID, referrerID int64) (model.LinkOutcome, error) {
	if newUserID == referrerID {
		return model.OutcomeSelfReferral, nil
	}

	outcome := model.OutcomeLinked
	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		// lock both rows in id order so two crossing links cannot deadlock
		first, second := newUserID, referrerID
		if first > second {
			first, second = second, first
		}

		locked := make(map[int64]*model.User, 2)
		for _, id := range []int64{first, second} {
			user, err := r.getUserForUpdate(ctx, tx, id)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			locked[id] = user
		}

		referred, referrer := locked[newUserID], locked[referrerID]
		switch {
		case referred == nil:
			outcome = model.OutcomeUserNotFound
			return nil
		case referred.HasReferrer():
			outcome = model.OutcomeAlreadyReferred
			return r.clearPendingReferrer(ctx, tx, referred)
		case referrer == nil:
			outcome = model.OutcomeReferrerNotFound
			return r.clearPendingReferrer(ctx, tx, referred)
		}

		query, args, err := squirrel.
			Update("users").
			Set("referrer_id", referrerID).
			Set("pending_referrer_id", nil).
			Where(squirrel.Eq{"telegram_id": newUserID}).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build referred update query: %w", err)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to set referrer: %w", err)
		}

		builder := squirrel.
			Update("users").
			Set("unclaimed_reward_units", squirrel.Expr("unclaimed_reward_units + 1")).
			Where(squirrel.Eq{"telegram_id": referrerID}).
			PlaceholderFormat(squirrel.Dollar)
		if !referrer.HasReferred(newUserID) {
			builder = builder.Set("referred_ids", squirrel.Expr("array_append(referred_ids, ?)", newUserID))
		}

		query, args, err = builder.ToSql()
		if err != nil {
			return fmt.Errorf("failed to build referrer update query: %w", err)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update referrer: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return outcome, nil
}

func (r *Postgres) clearPendingReferrer(ctx context.Context, tx *sqlx.Tx, user *model.User) error {
	if user.PendingReferrerID == nil {
		return nil
	}

	query, args, err := squirrel.
		Update("users").
		Set("pending_referrer_id", nil).
		Where(squirrel.Eq{"telegram_id": user.TelegramID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build pending referrer query: %w", err)
	}

	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to clear pending referrer: %w", err)
	}

	return nil
}

func (r *Postgres) ClaimRewards(ctx context.Context, telegramID int64) (int, error) {
	var claimed int

	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		user, err := r.getUserForUpdate(ctx, tx, telegramID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}

		if user.UnclaimedRewardUnits == 0 {
			return nil
		}

		query, args, err := squirrel.
			Update("users").
			Set("claimed_reward_units", squirrel.Expr("claimed_reward_units + ?", user.UnclaimedRewardUnits)).
			Set("unclaimed_reward_units", 0).
			Where(squirrel.Eq{"telegram_id": telegramID}).
			PlaceholderFormat(squirrel.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build claim query: %w", err)
		}

		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to claim rewards: %w", err)
		}

		claimed = user.UnclaimedRewardUnits
		return nil
	})
	if err != nil {
		return 0, err
	}

	return claimed, nil
}
