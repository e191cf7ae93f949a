package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tap_tycoon_backend/internal/service"
	"tap_tycoon_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const nothingToClaimMessage = "No rewards to claim."

type claimRoutes struct {
	cs service.ClaimServiceI
}

func NewClaimRoutes(handler *gin.RouterGroup, cs service.ClaimServiceI) {
	r := &claimRoutes{cs: cs}

	handler.POST("/claim-rewards", r.ClaimRewards)
}

// flexibleID accepts both 123 and "123"; web clients send either.
type flexibleID int64

func (t *flexibleID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram id %s", b)
	}
	*t = flexibleID(id)
	return nil
}

type ClaimRequest struct {
	ID     *flexibleID `json:"id"`
	UserID *flexibleID `json:"userId"`
}

func (r *ClaimRequest) resolveID() (int64, bool) {
	switch {
	case r.ID != nil:
		return int64(*r.ID), true
	case r.UserID != nil:
		return int64(*r.UserID), true
	default:
		return 0, false
	}
}

type ClaimResponse struct {
	Success      bool           `json:"success"`
	ClaimedCount int            `json:"claimedCount"`
	Rewards      RewardResponse `json:"rewards"`
	Message      string         `json:"message,omitempty"`
}

func (r *claimRoutes) ClaimRewards(c *gin.Context) {
	log := logger.Logger()

	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("failed to bind claim request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "User ID is required."})
		return
	}

	id, ok := req.resolveID()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "User ID is required."})
		return
	}

	result, err := r.cs.Claim(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid user ID."})
			return
		}
		log.Error("failed to claim rewards", zap.Int64("telegram_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to claim rewards."})
		return
	}

	resp := ClaimResponse{
		Success:      result.ClaimedCount > 0,
		ClaimedCount: result.ClaimedCount,
		Rewards:      newRewardResponse(result.Rewards),
	}
	if result.ClaimedCount == 0 {
		resp.Message = nothingToClaimMessage
	}

	c.JSON(http.StatusOK, resp)
}
