package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"tap_tycoon_backend/internal/bot"
	"tap_tycoon_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type webhookRoutes struct {
	updates bot.CommandHandler
	secret  string
}

func NewWebhookRoutes(handler *gin.RouterGroup, updates bot.CommandHandler, secret string) {
	r := &webhookRoutes{updates: updates, secret: secret}

	handler.POST(bot.WebhookPath, r.HandleUpdate)
}

func (r *webhookRoutes) HandleUpdate(c *gin.Context) {
	token := c.GetHeader(bot.SecretTokenHeader)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(r.secret)) != 1 {
		logger.Logger().Warn("rejected webhook call with bad secret token",
			zap.String("client_ip", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret token"})
		return
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		logger.Logger().Warn("failed to decode telegram update", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	// Telegram retries on a slow or failed response, so the update is processed
	// even if the caller goes away.
	r.updates.HandleUpdate(context.WithoutCancel(c.Request.Context()), update)

	c.Status(http.StatusOK)
}
