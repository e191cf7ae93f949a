package model

import (
	"errors"
	"slices"
	"time"
)

var ErrInvalidPatch = errors.New("invalid user patch")

type User struct {
	TelegramID int64
	Username   string
	ReferrerID *int64
	// PendingReferrerID holds the code the user signed up with until its link
	// attempt reaches a final outcome.
	PendingReferrerID    *int64
	ReferredIDs          []int64
	UnclaimedRewardUnits int
	ClaimedRewardUnits   int
	LastNotifiedAt       *time.Time
	RegistrationDate     time.Time
}

func NewUser(telegramID int64, username string, now time.Time) *User {
	return &User{
		TelegramID:       telegramID,
		Username:         username,
		ReferredIDs:      []int64{},
		RegistrationDate: now.UTC(),
	}
}

func (u *User) HasReferrer() bool {
	return u.ReferrerID != nil
}

func (u *User) HasPendingReferral() bool {
	return u.PendingReferrerID != nil && u.ReferrerID == nil
}

func (u *User) HasReferred(telegramID int64) bool {
	return slices.Contains(u.ReferredIDs, telegramID)
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (u *User) Clone() *User {
	c := *u
	if u.ReferrerID != nil {
		referrer := *u.ReferrerID
		c.ReferrerID = &referrer
	}
	if u.PendingReferrerID != nil {
		pending := *u.PendingReferrerID
		c.PendingReferrerID = &pending
	}
	c.ReferredIDs = append(make([]int64, 0, len(u.ReferredIDs)), u.ReferredIDs...)
	if u.LastNotifiedAt != nil {
		notified := *u.LastNotifiedAt
		c.LastNotifiedAt = &notified
	}
	return &c
}

// UserPatch lists every field that may change after a user is created.
// Nil fields are left untouched.
type UserPatch struct {
	ReferrerID           *int64
	ReferredIDs          []int64
	UnclaimedRewardUnits *int
	ClaimedRewardUnits   *int
	LastNotifiedAt       *time.Time
}

func (p UserPatch) IsEmpty() bool {
	return p.ReferrerID == nil &&
		p.ReferredIDs == nil &&
		p.UnclaimedRewardUnits == nil &&
		p.ClaimedRewardUnits == nil &&
		p.LastNotifiedAt == nil
}

func (p UserPatch) Validate() error {
	if p.UnclaimedRewardUnits != nil && *p.UnclaimedRewardUnits < 0 {
		return errors.Join(ErrInvalidPatch, errors.New("unclaimed reward units must not be negative"))
	}
	if p.ClaimedRewardUnits != nil && *p.ClaimedRewardUnits < 0 {
		return errors.Join(ErrInvalidPatch, errors.New("claimed reward units must not be negative"))
	}
	if p.ReferredIDs != nil {
		seen := make(map[int64]struct{}, len(p.ReferredIDs))
		for _, id := range p.ReferredIDs {
			if _, ok := seen[id]; ok {
				return errors.Join(ErrInvalidPatch, errors.New("referred ids must be unique"))
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

// Apply merges the patch into u. The referrer is only assigned when u has none.
func (p UserPatch) Apply(u *User) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if p.ReferrerID != nil {
		if *p.ReferrerID == u.TelegramID {
			return errors.Join(ErrInvalidPatch, errors.New("user cannot refer themselves"))
		}
		if u.ReferrerID != nil && *u.ReferrerID != *p.ReferrerID {
			return errors.Join(ErrInvalidPatch, errors.New("referrer is already set"))
		}
		referrer := *p.ReferrerID
		u.ReferrerID = &referrer
	}
	if p.ReferredIDs != nil {
		u.ReferredIDs = append(make([]int64, 0, len(p.ReferredIDs)), p.ReferredIDs...)
	}
	if p.UnclaimedRewardUnits != nil {
		u.UnclaimedRewardUnits = *p.UnclaimedRewardUnits
	}
	if p.ClaimedRewardUnits != nil {
		u.ClaimedRewardUnits = *p.ClaimedRewardUnits
	}
	if p.LastNotifiedAt != nil {
		notified := p.LastNotifiedAt.UTC()
		u.LastNotifiedAt = &notified
	}

	return nil
}
