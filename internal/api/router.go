package api

import (
	"net/http"
	"time"

	"tap_tycoon_backend/internal/bot"
	"tap_tycoon_backend/internal/middleware"
	"tap_tycoon_backend/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type RouterDeps struct {
	Referrals service.ReferralServiceI
	Claims    service.ClaimServiceI
	Feed      *service.ReferralFeed
	// Updates is nil unless the bot runs in webhook mode.
	Updates bot.CommandHandler
	// WebhookSecret must match the secret_token header on webhook calls.
	WebhookSecret string
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(), middleware.Recovery())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{
		http.MethodHead,
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
	}
	config.AllowHeaders = []string{"*"}
	config.MaxAge = 12 * time.Hour

	router.Use(cors.New(config))

	root := router.Group("/")
	NewHealthRoutes(root)
	NewReferralRoutes(root, deps.Referrals)
	NewClaimRoutes(root, deps.Claims)
	if deps.Feed != nil {
		NewFeedRoutes(root, deps.Referrals, deps.Feed)
	}
	if deps.Updates != nil {
		NewWebhookRoutes(root, deps.Updates, deps.WebhookSecret)
	}

	return router
}
