package service

import (
	"sync"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/pkg/logger"

	"go.uber.org/zap"
)

const feedBufferSize = 8

// ReferralFeed fans referral stats out to every open subscription of a user.
// Publishing never blocks: a subscriber that is not keeping up misses updates.
type ReferralFeed struct {
	mu          sync.RWMutex
	subscribers map[int64]map[*Subscription]struct{}
}

type Subscription struct {
	TelegramID int64
	C          <-chan model.ReferralStats

	ch     chan model.ReferralStats
	feed   *ReferralFeed
	closed sync.Once
}

func NewReferralFeed() *ReferralFeed {
	return &ReferralFeed{
		subscribers: make(map[int64]map[*Subscription]struct{}),
	}
}

func (f *ReferralFeed) Subscribe(telegramID int64) *Subscription {
	ch := make(chan model.ReferralStats, feedBufferSize)
	sub := &Subscription{
		TelegramID: telegramID,
		C:          ch,
		ch:         ch,
		feed:       f,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribers[telegramID] == nil {
		f.subscribers[telegramID] = make(map[*Subscription]struct{})
	}
	f.subscribers[telegramID][sub] = struct{}{}

	return sub
}

func (f *ReferralFeed) Publish(stats model.ReferralStats) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for sub := range f.subscribers[stats.TelegramID] {
		select {
		case sub.ch <- stats:
		default:
			logger.Logger().Debug("dropping referral stats for slow subscriber",
				zap.Int64("telegram_id", stats.TelegramID))
		}
	}
}

func (f *ReferralFeed) Subscribers(telegramID int64) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers[telegramID])
}

// Close removes the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.feed.mu.Lock()
		defer s.feed.mu.Unlock()

		subs := s.feed.subscribers[s.TelegramID]
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.feed.subscribers, s.TelegramID)
		}
		close(s.ch)
	})
}
