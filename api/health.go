package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/qvantel/solapse/api/types"
)

// StartupCheck godoc
// @Summary Kubernetes startup probe endpoint
// @Description Will return a 200 as long as the API is up
// @Produce plain
// @Success 200 {string} string
// @Router /health/startup [get]
func StartupCheck(c *gin.Context) {
	c.String(http.StatusOK, "UP")
}

// ReadyCheck godoc
// @Summary Kubernetes readiness probe endpoint
// @Description Will return a 200 only when the default snapshot is loaded and can be served
// @Produce json
// @Success 200 {object} types.SimpleRes
// @Failure 503 {object} types.SimpleRes "When the default snapshot isn't loaded"
// @Router /health/ready [get]
func (h *Handler) ReadyCheck(c *gin.Context) {
	if !h.Registry.Ready() {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorRes("model not loaded"))
		return
	}
	c.JSON(http.StatusOK, types.NewOkRes("ready"))
}
