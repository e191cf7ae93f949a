package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func NewHealthRoutes(handler *gin.RouterGroup) {
	handler.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Tap Tycoon Server is running! 🚀")
	})
}
