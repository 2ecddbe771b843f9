package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/metrics"
	"github.com/qvantel/solapse/internal/norm"
	"github.com/qvantel/solapse/internal/predict"
)

// Predict godoc
// @Summary Density estimation endpoint
// @Description Will return the atmospheric density in g/cm³ estimated by the default snapshot. Missing space weather
// @Description indices are taken from the configured feed and inputs outside of the training domain are clamped to it.
// @Description Altitudes at or below 0 km always return 0
// @Accept json
// @Produce json
// @Param request body types.PredictRequest true "Query"
// @Success 200 {object} types.PredictResponse
// @Failure 400 {object} types.SimpleRes "When the request body is formatted incorrectly"
// @Failure 503 {object} types.SimpleRes "When no snapshot is loaded"
// @Router /predict [post]
func (h *Handler) Predict(c *gin.Context) {
	h.predict(c, "")
}

// PredictWith godoc
// @Summary Density estimation endpoint for a specific snapshot
// @Description Same as /predict but with the snapshot chosen by the caller
// @Accept json
// @Produce json
// @Param id path string true "Snapshot version"
// @Param request body types.PredictRequest true "Query"
// @Success 200 {object} types.PredictResponse
// @Failure 400 {object} types.SimpleRes "When the request body is formatted incorrectly"
// @Failure 404 {object} types.SimpleRes "When the snapshot isn't being served"
// @Router /nets/{id}/predict [post]
func (h *Handler) PredictWith(c *gin.Context) {
	h.predict(c, c.Param("id"))
}

func (h *Handler) predict(c *gin.Context, version string) {
	var pr types.PredictRequest
	err := c.ShouldBindJSON(&pr)
	if err != nil {
		logger.Debug("Failed to unmarshal message (" + err.Error() + ")")
		c.JSON(http.StatusBadRequest, types.NewErrorRes("Wrong format"))
		return
	}
	err = pr.Validate()
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorRes(err.Error()))
		return
	}
	if *pr.Altitude <= 0 {
		c.JSON(http.StatusOK, types.PredictResponse{Density: 0})
		return
	}

	var p *predict.Predictor
	if version == "" {
		p, err = h.Registry.Default()
		if err != nil {
			logger.Error("Density requested but the default snapshot isn't loaded", err)
			c.JSON(http.StatusServiceUnavailable, types.NewErrorRes(predict.ErrNotLoaded.Error()))
			return
		}
	} else {
		p, err = h.Registry.Get(version)
		if err != nil {
			c.JSON(http.StatusNotFound, types.NewErrorRes("Snapshot "+version+" isn't being served"))
			return
		}
	}

	s := norm.Sample{Altitude: *pr.Altitude}
	if pr.F107 == nil || pr.Kp == nil {
		w := h.Feed.Current(c.Request.Context())
		s.Flux, s.Kp = w.F107, w.Kp
	}
	if pr.F107 != nil {
		s.Flux = *pr.F107
	}
	if pr.Kp != nil {
		s.Kp = *pr.Kp
	}

	density, err := p.Predict(s)
	h.Metrics.Predictions.WithLabelValues(p.Version(), metrics.Outcome(err)).Inc()
	switch {
	case errors.Is(err, predict.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, types.NewErrorRes(err.Error()))
	case err != nil:
		logger.Error("Failed to estimate density with snapshot "+p.Version(), err)
		c.JSON(http.StatusInternalServerError, types.NewErrorRes("Error estimating density, see logs for more info"))
	default:
		c.JSON(http.StatusOK, types.PredictResponse{Density: density})
	}
}

// Weather godoc
// @Summary Space weather endpoint
// @Description Will return the F10.7 and Kp values used for queries that leave them out
// @Produce json
// @Success 200 {object} types.Weather
// @Router /weather [get]
func (h *Handler) Weather(c *gin.Context) {
	c.JSON(http.StatusOK, h.Feed.Current(c.Request.Context()))
}
