package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/internal/service"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReferralService struct {
	mock.Mock
}

func (m *mockReferralService) CreateOrGetUser(ctx context.Context, telegramID int64, displayName string) (*model.User, bool, error) {
	args := m.Called(ctx, telegramID, displayName)
	return args.Get(0).(*model.User), args.Bool(1), args.Error(2)
}

func (m *mockReferralService) LinkReferral(ctx context.Context, newUserID int64, candidateReferrerID *int64) (model.LinkOutcome, error) {
	args := m.Called(ctx, newUserID, candidateReferrerID)
	return args.Get(0).(model.LinkOutcome), args.Error(1)
}

func (m *mockReferralService) GetReferralStats(ctx context.Context, telegramID int64) (*model.ReferralStats, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ReferralStats), args.Error(1)
}

func (m *mockReferralService) HandleStart(ctx context.Context, cmd service.StartCommand) (*model.User, model.LinkOutcome, error) {
	args := m.Called(ctx, cmd)
	return args.Get(0).(*model.User), args.Get(1).(model.LinkOutcome), args.Error(2)
}

type mockClaimService struct {
	mock.Mock
}

func (m *mockClaimService) Claim(ctx context.Context, telegramID int64) (*model.ClaimResult, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ClaimResult), args.Error(1)
}

type recordingHandler struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
}

func (h *recordingHandler) HandleUpdate(_ context.Context, update tgbotapi.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
}

func setupRouter(t *testing.T, deps RouterDeps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(deps)
}

func TestHealth(t *testing.T) {
	router := setupRouter(t, RouterDeps{Referrals: &mockReferralService{}, Claims: &mockClaimService{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Tap Tycoon Server is running! 🚀", w.Body.String())
}

func TestGetReferralStats(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		mockSetup  func(rs *mockReferralService)
		wantStatus int
		wantBody   string
	}{
		{
			name: "returns stats",
			path: "/my-referrals/1",
			mockSetup: func(rs *mockReferralService) {
				rs.On("GetReferralStats", mock.Anything, int64(1)).Return(&model.ReferralStats{
					TelegramID:      1,
					FriendsInvited:  3,
					UnclaimedCount:  2,
					UnclaimedReward: model.Reward{Money: 50000},
				}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"friendsInvited":3,"unclaimedCount":2,"unclaimedReward":{"money":50000,"gems":0}}`,
		},
		{
			name: "unknown user reads as zero",
			path: "/my-referrals/404",
			mockSetup: func(rs *mockReferralService) {
				rs.On("GetReferralStats", mock.Anything, int64(404)).Return(&model.ReferralStats{TelegramID: 404}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"friendsInvited":0,"unclaimedCount":0,"unclaimedReward":{"money":0,"gems":0}}`,
		},
		{
			name:       "non numeric id",
			path:       "/my-referrals/abc",
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"invalid telegram_id"}`,
		},
		{
			name: "store failure",
			path: "/my-referrals/1",
			mockSetup: func(rs *mockReferralService) {
				rs.On("GetReferralStats", mock.Anything, int64(1)).Return(nil, service.ErrStoreUnavailable)
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"failed to fetch referral data"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := &mockReferralService{}
			if tt.mockSetup != nil {
				tt.mockSetup(rs)
			}
			router := setupRouter(t, RouterDeps{Referrals: rs, Claims: &mockClaimService{}})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestClaimRewards(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		mockSetup  func(cs *mockClaimService)
		wantStatus int
		wantBody   string
	}{
		{
			name: "claims by id",
			body: `{"id":1}`,
			mockSetup: func(cs *mockClaimService) {
				cs.On("Claim", mock.Anything, int64(1)).Return(&model.ClaimResult{
					TelegramID:   1,
					ClaimedCount: 4,
					Rewards:      model.Reward{Money: 100000},
				}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"success":true,"claimedCount":4,"rewards":{"money":100000,"gems":0}}`,
		},
		{
			name: "accepts legacy userId as string",
			body: `{"userId":"7"}`,
			mockSetup: func(cs *mockClaimService) {
				cs.On("Claim", mock.Anything, int64(7)).Return(&model.ClaimResult{TelegramID: 7, ClaimedCount: 1, Rewards: model.Reward{Money: 25000}}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"success":true,"claimedCount":1,"rewards":{"money":25000,"gems":0}}`,
		},
		{
			name: "nothing to claim",
			body: `{"id":1}`,
			mockSetup: func(cs *mockClaimService) {
				cs.On("Claim", mock.Anything, int64(1)).Return(&model.ClaimResult{TelegramID: 1}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"success":false,"claimedCount":0,"rewards":{"money":0,"gems":0},"message":"No rewards to claim."}`,
		},
		{
			name:       "missing id",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"success":false,"message":"User ID is required."}`,
		},
		{
			name:       "malformed id",
			body:       `{"id":"abc"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"success":false,"message":"User ID is required."}`,
		},
		{
			name: "non positive id",
			body: `{"id":-5}`,
			mockSetup: func(cs *mockClaimService) {
				cs.On("Claim", mock.Anything, int64(-5)).Return(&model.ClaimResult{TelegramID: -5}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"success":false,"claimedCount":0,"rewards":{"money":0,"gems":0},"message":"No rewards to claim."}`,
		},
		{
			name: "validation failure",
			body: `{"id":3}`,
			mockSetup: func(cs *mockClaimService) {
				cs.On("Claim", mock.Anything, int64(3)).Return(nil, service.ErrValidation)
			},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"success":false,"message":"Invalid user ID."}`,
		},
		{
			name: "store failure",
			body: `{"id":1}`,
			mockSetup: func(cs *mockClaimService) {
				cs.On("Claim", mock.Anything, int64(1)).Return(nil, errors.Join(service.ErrStoreUnavailable, errors.New("timeout")))
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"success":false,"message":"Failed to claim rewards."}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := &mockClaimService{}
			if tt.mockSetup != nil {
				tt.mockSetup(cs)
			}
			router := setupRouter(t, RouterDeps{Referrals: &mockReferralService{}, Claims: cs})

			req := httptest.NewRequest(http.MethodPost, "/claim-rewards", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			cs.AssertExpectations(t)
		})
	}
}

func TestTelegramWebhook(t *testing.T) {
	const secret = "hook_secret"

	post := func(router *gin.Engine, body, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/telegram-webhook", strings.NewReader(body))
		if token != "" {
			req.Header.Set("X-Telegram-Bot-Api-Secret-Token", token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("forwards updates", func(t *testing.T) {
		handler := &recordingHandler{}
		router := setupRouter(t, RouterDeps{Referrals: &mockReferralService{}, Claims: &mockClaimService{}, Updates: handler, WebhookSecret: secret})

		body := `{"update_id":10,"message":{"message_id":1,"date":0,"text":"/start 5","chat":{"id":7,"type":"private"},"from":{"id":7,"is_bot":false,"first_name":"Ann"}}}`
		w := post(router, body, secret)

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, handler.updates, 1)
		assert.Equal(t, 10, handler.updates[0].UpdateID)
		assert.Equal(t, "/start 5", handler.updates[0].Message.Text)
	})

	t.Run("rejects forged updates", func(t *testing.T) {
		handler := &recordingHandler{}
		router := setupRouter(t, RouterDeps{Referrals: &mockReferralService{}, Claims: &mockClaimService{}, Updates: handler, WebhookSecret: secret})

		body := `{"update_id":11,"message":{"message_id":1,"date":0,"text":"/start 999","chat":{"id":8,"type":"private"},"from":{"id":8,"is_bot":false,"first_name":"Eve"}}}`
		for _, token := range []string{"", "wrong", secret + "x"} {
			w := post(router, body, token)
			assert.Equal(t, http.StatusUnauthorized, w.Code, "token %q", token)
		}
		assert.Empty(t, handler.updates)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		handler := &recordingHandler{}
		router := setupRouter(t, RouterDeps{Referrals: &mockReferralService{}, Claims: &mockClaimService{}, Updates: handler, WebhookSecret: secret})

		w := post(router, "not json", secret)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, handler.updates)
	})

	t.Run("absent in polling mode", func(t *testing.T) {
		router := setupRouter(t, RouterDeps{Referrals: &mockReferralService{}, Claims: &mockClaimService{}})

		w := post(router, "{}", secret)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestReferralFeedSocket(t *testing.T) {
	rs := &mockReferralService{}
	rs.On("GetReferralStats", mock.Anything, int64(1)).Return(&model.ReferralStats{TelegramID: 1, FriendsInvited: 1}, nil)

	feed := service.NewReferralFeed()
	router := setupRouter(t, RouterDeps{Referrals: rs, Claims: &mockClaimService{}, Feed: feed})

	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame := func() FeedMessage {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg FeedMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	initial := readFrame()
	assert.Equal(t, "referral_stats", initial.Type)
	assert.Equal(t, 1, initial.Payload.FriendsInvited)

	require.Eventually(t, func() bool { return feed.Subscribers(1) == 1 }, time.Second, 10*time.Millisecond)
	feed.Publish(model.ReferralStats{
		TelegramID:      1,
		FriendsInvited:  2,
		UnclaimedCount:  1,
		UnclaimedReward: model.Reward{Money: 25000},
	})

	update := readFrame()
	assert.Equal(t, 2, update.Payload.FriendsInvited)
	assert.Equal(t, int64(25000), update.Payload.UnclaimedReward.Money)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return feed.Subscribers(1) == 0 }, 2*time.Second, 10*time.Millisecond)
}
