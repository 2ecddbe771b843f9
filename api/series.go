package api

import (
	"errors"
	"net/http"
	"strconv"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/gin-gonic/gin"
	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/series"
)

// AddPoint godoc
// @Summary Space weather ingestion endpoint
// @Description Will store the observations of a space weather update cloud event
// @Accept json
// @Produce json
// @Success 202 {object} types.SimpleRes
// @Failure 400 {object} types.SimpleRes "When the request body is formatted incorrectly"
// @Failure 500 {object} types.SimpleRes "When there is an error processing the update"
// @Router /series/process [post]
func (h *Handler) AddPoint(c *gin.Context) {
	event := cloudevents.NewEvent()

	err := c.ShouldBindJSON(&event)
	if err != nil {
		logger.Debug("Failed to unmarshal message (" + err.Error() + ")")
		c.JSON(http.StatusBadRequest, types.NewErrorRes("Wrong format"))
		return
	}

	stored, err := series.ProcessUpdate(event, h.PS, h.Metrics)
	if errors.Is(err, series.ErrUnsupportedEvent) {
		c.JSON(http.StatusBadRequest, types.NewErrorRes(err.Error()))
		return
	}
	if err != nil {
		logger.Error("Failed to process message", err)
		c.JSON(http.StatusInternalServerError, types.NewErrorRes("Error processing update, see logs for more info"))
		return
	}

	c.JSON(http.StatusAccepted, types.NewOkRes(strconv.Itoa(stored)+" observations stored"))
}

// DeleteSeries godoc
// @Summary Series deletion endpoint
// @Description Will delete the series with the specified ID
// @Produce json
// @Param id path string true "Series ID"
// @Success 200 {object} types.SimpleRes
// @Failure 404 {object} types.SimpleRes "When the series doesn't exist"
// @Failure 500 {object} types.SimpleRes "When there is an error deleting the series"
// @Router /series/{id} [delete]
func (h *Handler) DeleteSeries(c *gin.Context) {
	id := c.Param("id")
	delErr := types.NewErrorRes("Error deleting series, see logs for more info")
	found, err := h.PS.Exists(id)
	if err != nil {
		logger.Error("Failed to check if the series "+id+" exists in the store", err)
		c.JSON(http.StatusInternalServerError, delErr)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, types.NewErrorRes("Series with id "+id+" could not be found"))
		return
	}
	err = h.PS.DeleteSeries(id)
	if err != nil {
		logger.Error("Failed to delete series "+id, err)
		c.JSON(http.StatusInternalServerError, delErr)
		return
	}
	c.JSON(http.StatusOK, types.NewOkRes("Series "+id+" was successfully deleted"))
}

// ListPoints godoc
// @Summary Retrieve observations from series
// @Description Will return the last N observations of the given series
// @Produce json
// @Param id path string true "Series ID"
// @Param limit query int false "How many observations to fetch" default(10) maximum(500)
// @Success 200 {array} types.Observation
// @Failure 404 {object} types.SimpleRes "When the series doesn't exist"
// @Failure 500 {object} types.SimpleRes "When there is an error fetching the observations"
// @Router /series/{id}/points [get]
func (h *Handler) ListPoints(c *gin.Context) {
	raw := c.DefaultQuery("limit", "10")
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, types.NewErrorRes("limit must be a valid integer"))
		return
	}
	if limit > 500 {
		limit = 500 // So things won't get too much out of control
	}
	id := c.Param("id")
	exists, err := h.PS.Exists(id)
	if err != nil {
		logger.Error("Failed to check if series with id "+id+" exists", err)
		c.JSON(http.StatusInternalServerError, types.NewErrorRes("Error fetching points, see logs for more info"))
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, types.NewErrorRes("Series with id "+id+" could not be found"))
		return
	}

	points, err := h.PS.GetLastN(id, nil, limit)
	if err != nil {
		logger.Error("Failed to get points from series with id "+id, err)
		c.JSON(http.StatusInternalServerError, types.NewErrorRes("Error fetching points, see logs for more info"))
		return
	}
	observations := make([]types.Observation, 0, len(points))
	for _, p := range points {
		observations = append(observations, p.Observation())
	}
	c.JSON(http.StatusOK, observations)
}

// ListSeries godoc
// @Summary Retrieve list of series
// @Description Will return the list of series in the system
// @Produce json
// @Success 200 {array} types.BriefSeries
// @Failure 500 {object} types.SimpleRes "When there is an error fetching the list of series"
// @Router /series [get]
func (h *Handler) ListSeries(c *gin.Context) {
	list, err := h.PS.ListSeries()
	if err != nil {
		logger.Error("Failed to get list of series", err)
		c.JSON(http.StatusInternalServerError, types.NewErrorRes("Error getting list of series, see logs for more info"))
		return
	}
	c.JSON(http.StatusOK, list)
}
