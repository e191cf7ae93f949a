package api

import (
	"net/http"
	"strconv"
	"time"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/internal/service"
	"tap_tycoon_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	referralStatsMessage = "referral_stats"
	writeWait            = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type FeedMessage struct {
	Type    string                `json:"type"`
	Payload ReferralStatsResponse `json:"payload"`
}

type feedRoutes struct {
	rs   service.ReferralServiceI
	feed *service.ReferralFeed
}

func NewFeedRoutes(handler *gin.RouterGroup, rs service.ReferralServiceI, feed *service.ReferralFeed) {
	r := &feedRoutes{rs: rs, feed: feed}
	h := handler.Group("/ws")

	h.GET("/:telegram_id", r.handleWebSocket)
}

func (r *feedRoutes) handleWebSocket(c *gin.Context) {
	log := logger.Logger()

	telegramID := c.Param("telegram_id")
	id, err := strconv.ParseInt(telegramID, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid telegram_id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// subscribe before reading so no update between the two is lost
	sub := r.feed.Subscribe(id)

	stats, err := r.rs.GetReferralStats(c.Request.Context(), id)
	if err != nil {
		log.Error("failed to get referral stats", zap.Int64("telegram_id", id), zap.Error(err))
		sub.Close()
		conn.Close()
		return
	}

	if err = writeStats(conn, stats); err != nil {
		sub.Close()
		conn.Close()
		return
	}

	log.Debug("referral feed opened", zap.Int64("telegram_id", id))

	go readLoop(conn, sub)
	go writeLoop(conn, sub)
}

// readLoop only watches for the client going away.
func readLoop(conn *websocket.Conn, sub *service.Subscription) {
	defer sub.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Logger().Debug("websocket unexpected close", zap.Error(err))
			}
			return
		}
	}
}

func writeLoop(conn *websocket.Conn, sub *service.Subscription) {
	defer conn.Close()

	for stats := range sub.C {
		if err := writeStats(conn, &stats); err != nil {
			logger.Logger().Debug("websocket write failed",
				zap.Int64("telegram_id", sub.TelegramID),
				zap.Error(err))
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func writeStats(conn *websocket.Conn, stats *model.ReferralStats) error {
	data, err := json.Marshal(FeedMessage{
		Type:    referralStatsMessage,
		Payload: newReferralStatsResponse(stats),
	})
	if err != nil {
		return err
	}

	if err = conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
