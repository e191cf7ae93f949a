package api

import (
	"net/http"
	"strconv"

	"tap_tycoon_backend/internal/model"
	"tap_tycoon_backend/internal/service"
	"tap_tycoon_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type referralRoutes struct {
	rs service.ReferralServiceI
}

func NewReferralRoutes(handler *gin.RouterGroup, rs service.ReferralServiceI) {
	r := &referralRoutes{rs: rs}

	handler.GET("/my-referrals/:telegram_id", r.GetReferralStats)
}

type RewardResponse struct {
	Money int64 `json:"money"`
	Gems  int64 `json:"gems"`
}

type ReferralStatsResponse struct {
	FriendsInvited  int            `json:"friendsInvited"`
	UnclaimedCount  int            `json:"unclaimedCount"`
	UnclaimedReward RewardResponse `json:"unclaimedReward"`
}

func newRewardResponse(r model.Reward) RewardResponse {
	return RewardResponse{Money: r.Money, Gems: r.Gems}
}

func newReferralStatsResponse(stats *model.ReferralStats) ReferralStatsResponse {
	return ReferralStatsResponse{
		FriendsInvited:  stats.FriendsInvited,
		UnclaimedCount:  stats.UnclaimedCount,
		UnclaimedReward: newRewardResponse(stats.UnclaimedReward),
	}
}

func (r *referralRoutes) GetReferralStats(c *gin.Context) {
	log := logger.Logger()

	telegramID := c.Param("telegram_id")
	id, err := strconv.ParseInt(telegramID, 10, 64)
	if err != nil {
		log.Warn("failed to parse telegram_id", zap.String("telegram_id", telegramID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid telegram_id"})
		return
	}

	stats, err := r.rs.GetReferralStats(c.Request.Context(), id)
	if err != nil {
		log.Error("failed to get referral stats", zap.Int64("telegram_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch referral data"})
		return
	}

	c.JSON(http.StatusOK, newReferralStatsResponse(stats))
}
