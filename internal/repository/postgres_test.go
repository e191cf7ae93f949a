package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"tap_tycoon_backend/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	selectForUpdateSQL = regexp.QuoteMeta("FROM users WHERE telegram_id = $1 FOR UPDATE")
	setReferrerSQL     = regexp.QuoteMeta("UPDATE users SET referrer_id = $1, pending_referrer_id = $2 WHERE telegram_id = $3")
	creditReferrerSQL  = regexp.QuoteMeta("UPDATE users SET unclaimed_reward_units = unclaimed_reward_units + 1, referred_ids = array_append(referred_ids, $1) WHERE telegram_id = $2")
	clearPendingSQL    = regexp.QuoteMeta("UPDATE users SET pending_referrer_id = $1 WHERE telegram_id = $2")
	claimSQL           = regexp.QuoteMeta("UPDATE users SET claimed_reward_units = claimed_reward_units + $1, unclaimed_reward_units = $2 WHERE telegram_id = $3")
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Postgres{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func userRows(telegramID int64, pendingReferrerID interface{}, unclaimed int) *sqlmock.Rows {
	return sqlmock.NewRows(userColumns).
		AddRow(telegramID, "player", nil, pendingReferrerID, "{}", int64(unclaimed), int64(0), nil, time.Now())
}

func TestPostgres_LinkReferral(t *testing.T) {
	tests := []struct {
		name      string
		newUserID int64
		referrer  int64
		mockSetup func(mock sqlmock.Sqlmock)
		want      model.LinkOutcome
		wantErr   bool
	}{
		{
			name:      "locks rows in id order and links",
			newUserID: 20,
			referrer:  10,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(10)).WillReturnRows(userRows(10, nil, 0))
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(20)).WillReturnRows(userRows(20, int64(10), 0))
				mock.ExpectExec(setReferrerSQL).WithArgs(int64(10), nil, int64(20)).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(creditReferrerSQL).WithArgs(int64(20), int64(10)).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			want: model.OutcomeLinked,
		},
		{
			name:      "rolls back when the credit fails",
			newUserID: 5,
			referrer:  10,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(5)).WillReturnRows(userRows(5, nil, 0))
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(10)).WillReturnRows(userRows(10, nil, 0))
				mock.ExpectExec(setReferrerSQL).WithArgs(int64(10), nil, int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(creditReferrerSQL).WithArgs(int64(5), int64(10)).WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
		{
			name:      "missing referrer clears the pending code",
			newUserID: 5,
			referrer:  99,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(5)).WillReturnRows(userRows(5, int64(99), 0))
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(99)).WillReturnRows(sqlmock.NewRows(userColumns))
				mock.ExpectExec(clearPendingSQL).WithArgs(nil, int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			want: model.OutcomeReferrerNotFound,
		},
		{
			name:      "unknown referred user writes nothing",
			newUserID: 5,
			referrer:  10,
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(5)).WillReturnRows(sqlmock.NewRows(userColumns))
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(10)).WillReturnRows(userRows(10, nil, 0))
				mock.ExpectCommit()
			},
			want: model.OutcomeUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockPostgres(t)
			tt.mockSetup(mock)

			outcome, err := repo.LinkReferral(context.Background(), tt.newUserID, tt.referrer)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Zero(t, outcome)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, outcome)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_ClaimRewards(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		want      int
		wantErr   bool
	}{
		{
			name: "moves units under a row lock",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(1)).WillReturnRows(userRows(1, nil, 3))
				mock.ExpectExec(claimSQL).WithArgs(3, 0, int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			want: 3,
		},
		{
			name: "nothing to claim",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(1)).WillReturnRows(userRows(1, nil, 0))
				mock.ExpectCommit()
			},
		},
		{
			name: "unknown user",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows(userColumns))
				mock.ExpectCommit()
			},
		},
		{
			name: "failed update rolls back",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(selectForUpdateSQL).WithArgs(int64(1)).WillReturnRows(userRows(1, nil, 3))
				mock.ExpectExec(claimSQL).WillReturnError(errors.New("deadlock detected"))
				mock.ExpectRollback()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockPostgres(t)
			tt.mockSetup(mock)

			claimed, err := repo.ClaimRewards(context.Background(), 1)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, claimed)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
