package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultFileName = "db.json"

type FileConfig struct {
	DataDir  string `mapstructure:"dataDir"`
	FileName string `mapstructure:"fileName"`
}

func (c *FileConfig) Path() string {
	dir := c.DataDir
	if dir == "" {
		dir = "."
	}
	name := c.FileName
	if name == "" {
		name = defaultFileName
	}
	return filepath.Join(dir, name)
}

// File keeps every user in memory and rewrites the whole JSON document after
// each mutation. A single lock serialises all writers.
type File struct {
	mu    sync.RWMutex
	path  string
	users map[int64]*model.User
}

type fileDocument struct {
	Users []fileUser `json:"users"`
}

type fileUser struct {
	UserID             int64      `json:"userId"`
	Username           string     `json:"username"`
	ReferrerID         *int64     `json:"referrerId"`
	PendingReferrerID  *int64     `json:"pendingReferrerId,omitempty"`
	Referrals          []int64    `json:"referrals"`
	UnclaimedReferrals int        `json:"unclaimedReferrals"`
	ClaimedReferrals   int        `json:"claimedReferrals"`
	LastNotifiedAt     *time.Time `json:"lastNotifiedAt,omitempty"`
	RegistrationDate   time.Time  `json:"registrationDate"`
}

func NewFile(cfg FileConfig) (*File, error) {
	path := cfg.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	f := &File{
		path:  path,
		users: make(map[int64]*model.User),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err = f.flushLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	case len(data) > 0:
		var doc fileDocument
		if err = json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		for _, u := range doc.Users {
			f.users[u.UserID] = fromFileUser(u)
		}
	}

	logger.Logger().Info("Opened file store", zap.String("path", path), zap.Int("users", len(f.users)))

	return f, nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked()
}

func (f *File) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	user, ok := f.users[telegramID]
	if !ok {
		return nil, ErrNotFound
	}
	return user.Clone(), nil
}

func (f *File) UpsertUser(ctx context.Context, user *model.User) (*model.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.users[user.TelegramID]; ok {
		return existing.Clone(), false, nil
	}

	fresh := model.NewUser(user.TelegramID, user.Username, user.RegistrationDate)
	if user.RegistrationDate.IsZero() {
		fresh.RegistrationDate = nowUTC()
	}
	if user.PendingReferrerID != nil {
		pending := *user.PendingReferrerID
		fresh.PendingReferrerID = &pending
	}

	err := f.mutateLocked(func() error {
		f.users[fresh.TelegramID] = fresh
		return nil
	}, fresh.TelegramID)
	if err != nil {
		return nil, false, err
	}

	return fresh.Clone(), true, nil
}

func (f *File) UpdateUser(ctx context.Context, telegramID int64, patch model.UserPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[telegramID]
	if !ok {
		return ErrNotFound
	}
	if patch.IsEmpty() {
		return nil
	}

	updated := user.Clone()
	if err := patch.Apply(updated); err != nil {
		return err
	}

	return f.mutateLocked(func() error {
		f.users[telegramID] = updated
		return nil
	}, telegramID)
}

func (f *File) ListUsers(ctx context.Context) ([]*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	users := make([]*model.User, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, u.Clone())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].TelegramID < users[j].TelegramID })

	return users, nil
}

func (f *File) LinkReferral(ctx context.Context, newUserID, referrerID int64) (model.LinkOutcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if newUserID == referrerID {
		return model.OutcomeSelfReferral, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	referred, ok := f.users[newUserID]
	if !ok {
		return model.OutcomeUserNotFound, nil
	}
	if referred.HasReferrer() {
		return f.resolvePendingLocked(referred, model.OutcomeAlreadyReferred)
	}
	referrer, ok := f.users[referrerID]
	if !ok {
		return f.resolvePendingLocked(referred, model.OutcomeReferrerNotFound)
	}

	linked := referred.Clone()
	linked.ReferrerID = &referrerID
	linked.PendingReferrerID = nil

	credited := referrer.Clone()
	if !credited.HasReferred(newUserID) {
		credited.ReferredIDs = append(credited.ReferredIDs, newUserID)
	}
	credited.UnclaimedRewardUnits++

	err := f.mutateLocked(func() error {
		f.users[newUserID] = linked
		f.users[referrerID] = credited
		return nil
	}, newUserID, referrerID)
	if err != nil {
		return 0, err
	}

	return model.OutcomeLinked, nil
}

// resolvePendingLocked drops the user's pending referral once a link attempt
// has ended without crediting anyone.
func (f *File) resolvePendingLocked(user *model.User, outcome model.LinkOutcome) (model.LinkOutcome, error) {
	if user.PendingReferrerID == nil {
		return outcome, nil
	}

	resolved := user.Clone()
	resolved.PendingReferrerID = nil

	err := f.mutateLocked(func() error {
		f.users[resolved.TelegramID] = resolved
		return nil
	}, resolved.TelegramID)
	if err != nil {
		return 0, err
	}

	return outcome, nil
}

func (f *File) ClaimRewards(ctx context.Context, telegramID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[telegramID]
	if !ok || user.UnclaimedRewardUnits == 0 {
		return 0, nil
	}

	claimed := user.UnclaimedRewardUnits
	updated := user.Clone()
	updated.ClaimedRewardUnits += claimed
	updated.UnclaimedRewardUnits = 0

	err := f.mutateLocked(func() error {
		f.users[telegramID] = updated
		return nil
	}, telegramID)
	if err != nil {
		return 0, err
	}

	return claimed, nil
}

// mutateLocked applies change and persists the result. When the write fails
// the touched records are restored, so memory never runs ahead of disk.
func (f *File) mutateLocked(change func() error, touched ...int64) error {
	previous := make(map[int64]*model.User, len(touched))
	for _, id := range touched {
		previous[id] = f.users[id]
	}

	restore := func() {
		for id, u := range previous {
			if u == nil {
				delete(f.users, id)
				continue
			}
			f.users[id] = u
		}
	}

	if err := change(); err != nil {
		restore()
		return err
	}

	if err := f.flushLocked(); err != nil {
		restore()
		return err
	}

	return nil
}

func (f *File) flushLocked() error {
	doc := fileDocument{Users: make([]fileUser, 0, len(f.users))}
	for _, u := range f.users {
		doc.Users = append(doc.Users, toFileUser(u))
	}
	sort.Slice(doc.Users, func(i, j int) bool { return doc.Users[i].UserID < doc.Users[j].UserID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode users: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write users: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync users: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}

	return nil
}

func toFileUser(u *model.User) fileUser {
	return fileUser{
		UserID:             u.TelegramID,
		Username:           u.Username,
		ReferrerID:         u.ReferrerID,
		PendingReferrerID:  u.PendingReferrerID,
		Referrals:          append([]int64{}, u.ReferredIDs...),
		UnclaimedReferrals: u.UnclaimedRewardUnits,
		ClaimedReferrals:   u.ClaimedRewardUnits,
		LastNotifiedAt:     u.LastNotifiedAt,
		RegistrationDate:   u.RegistrationDate,
	}
}

func fromFileUser(u fileUser) *model.User {
	referrals := u.Referrals
	if referrals == nil {
		referrals = []int64{}
	}

	return &model.User{
		TelegramID:           u.UserID,
		Username:             u.Username,
		ReferrerID:           u.ReferrerID,
		PendingReferrerID:    u.PendingReferrerID,
		ReferredIDs:          referrals,
		UnclaimedRewardUnits: u.UnclaimedReferrals,
		ClaimedRewardUnits:   u.ClaimedReferrals,
		LastNotifiedAt:       u.LastNotifiedAt,
		RegistrationDate:     u.RegistrationDate,
	}
}
