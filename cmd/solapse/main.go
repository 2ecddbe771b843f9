package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"syscall"

	"github.com/oklog/run"
	"github.com/qvantel/solapse/api"
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
	"github.com/segmentio/kafka-go"
)

func main() {
	// Get config
	conf, err := config.New()
	// Initialize logger (even if the previous statement returns an error, the logging part should be filled in)
	logger.Init(*conf)
	logger.Info("Initializing component")
	if err != nil {
		logger.Error("Error encountered while loading configuration", err)
		return
	}

	m := metrics.New()
	conv, err := norm.Lookup(conf.ML.Convention)
	if err != nil {
		logger.Error("Error encountered looking up the normalization convention", err)
		return
	}

	// Initialize stores
	nps, err := paramstores.New(*conf)
	if err != nil {
		logger.Error("Error encountered initializing net param store", err)
		return
	}
	ps, err := pointstores.New(*conf)
	if err != nil {
		logger.Error("Error encountered initializing point store", err)
		return
	}
	feed, err := series.NewFeed(*conf, ps, m)
	if err != nil {
		logger.Error("Error encountered initializing space weather feed", err)
		return
	}

	// Load the snapshots that should be served, the service keeps running without them and reports not ready
	reg := predict.NewRegistry(conf.ML.Versions[0])
	n, err := reg.LoadAll(nps, conf.ML.Versions, conv)
	if err != nil {
		logger.Error("Error encountered loading snapshots", err)
		return
	}
	m.ModelsLoaded.Set(float64(n))
	if !reg.Ready() {
		logger.Warning("Default snapshot " + conf.ML.Versions[0] + " isn't available, predictions will be refused")
	}
	logger.Info(strconv.Itoa(n) + " snapshot(s) loaded")

	var g run.Group
	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	// Initialize API
	tServ := make(chan types.TrainRequest, 10)
	h, err := api.New(tServ, reg, nps, ps, feed, m, *conf)
	if err != nil {
		logger.Error("Error encountered initializing API", err)
		return
	}

	// Initialize training service, the request channel is never closed since the API may still be sending to it
	tCtx, tCancel := context.WithCancel(context.Background())
	g.Add(func() error {
		return nets.Trainer(tCtx, tServ, nps, h.Publish(conv), m, *conf)
	}, func(error) {
		tCancel()
	})

	// Keep the space weather fresh away from the request path
	if r, ok := feed.(series.Refresher); ok {
		fCtx, fCancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return r.Run(fCtx)
		}, func(error) {
			fCancel()
		})
	}

	// Initialize consumer
	if len(conf.Series.Source.Brokers) != 0 {
		consumer := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  conf.Series.Source.Brokers,
			GroupID:  conf.Series.Source.GroupID,
			Topic:    conf.Series.Source.Topic,
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
		})
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return series.Consumer(ctx, consumer, ps, m, *conf)
		}, func(error) {
			cancel()
			consumer.Close()
		})
	}

	srv := &http.Server{
		Addr:    conf.API.Addr,
		Handler: h.Router,
	}
	g.Add(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), conf.API.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server forced to shutdown", err)
			os.Exit(1)
		}
	})

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info("Received " + sig.Signal.String() + ", shutting down")
		return
	}
	if err != nil {
		logger.Error("Critical error encountered, exiting", err)
	}
}
