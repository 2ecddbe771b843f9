package api

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/metrics"
	"github.com/qvantel/solapse/internal/nets"
	"github.com/qvantel/solapse/internal/nets/paramstores"
	"github.com/qvantel/solapse/internal/norm"
	"github.com/qvantel/solapse/internal/predict"
	"github.com/qvantel/solapse/internal/series"
	"github.com/qvantel/solapse/internal/series/pointstores"
)

// Handler holds the API's state
type Handler struct {
	Conf     config.Config
	Feed     series.Feed
	Metrics  *metrics.Metrics
	NPS      paramstores.NetParamStore
	PS       pointstores.PointStore
	Registry *predict.Registry
	Router   *gin.Engine
	TServ    chan types.TrainRequest
}

// @title Solapse
// @version 1.0
// @description Solapse estimates atmospheric density with a physics-informed neural network.

// @host localhost:5400
// @BasePath /api/v1

// New initializes the Gin rest api and returns a handler. The point store is optional, without it the series
// endpoints aren't registered
func New(
	tServ chan types.TrainRequest,
	reg *predict.Registry,
	nps paramstores.NetParamStore,
	ps pointstores.PointStore,
	feed series.Feed,
	m *metrics.Metrics,
	conf config.Config,
) (*Handler, error) {
	// Unknown fields in a request body are a client error
	binding.EnableDecoderDisallowUnknownFields = true

	router := gin.New()

	h := Handler{
		Conf:     conf,
		Feed:     feed,
		Metrics:  m,
		NPS:      nps,
		PS:       ps,
		Registry: reg,
		Router:   router,
		TServ:    tServ,
	}

	// Global middleware
	router.Use(gin.LoggerWithFormatter(logger.GinFormatter))
	router.Use(gin.Recovery())
	router.Use(CORS())
	router.Use(metrics.GinMiddleware(m))

	// Routes
	router.POST("/predict", h.Predict)
	router.GET("/metrics", gin.WrapH(m.Handler()))
	v1 := router.Group("/api/v1")
	{
		health := v1.Group("/health")
		{
			health.GET("/startup", StartupCheck)
			health.GET("/ready", h.ReadyCheck)
		}
		v1.POST("/predict", h.Predict)
		v1.GET("/weather", h.Weather)
		nets := v1.Group("/nets")
		{
			nets.GET("", h.ListNets)
			nets.POST("", h.Train)
			nets.DELETE("/:id", h.DeleteNet)
			nets.POST("/:id/predict", h.PredictWith)
		}
		if ps != nil {
			series := v1.Group("/series")
			{
				series.GET("", h.ListSeries)
				series.DELETE("/:id", h.DeleteSeries)
				series.GET("/:id/points", h.ListPoints)
				series.POST("/process", h.AddPoint)
			}
		}
	}

	logger.Info("API initialized")
	return &h, nil
}

// loaded updates the gauge that tracks how many snapshots are being served
func (h *Handler) loaded() {
	h.Metrics.ModelsLoaded.Set(float64(len(h.Registry.Versions())))
}

// Publish returns the callback the training service uses to start serving a freshly trained snapshot
func (h *Handler) Publish(active norm.Convention) nets.PublishFunc {
	publish := h.Registry.Publish(active)
	return func(params paramstores.MLPParams) error {
		err := publish(params)
		h.loaded()
		return err
	}
}
