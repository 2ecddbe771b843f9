package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/nets"
	"github.com/qvantel/solapse/internal/nets/paramstores"
)

func main() {
	// Store, convention and defaults come from the same environment the service reads
	conf, err := config.New()
	logger.Init(*conf)
	if err != nil {
		logger.Error("Error encountered while loading configuration", err)
		os.Exit(1)
	}

	// Get arguments, zero values fall back to the configured defaults
	var (
		noSkip   bool
		topology string
		tr       types.TrainRequest
	)
	flag.IntVar(&tr.BatchSize, "batch", 0, "Number of collocation points sampled every epoch")
	flag.StringVar(&tr.DataLoss, "data-loss", "", "Loss used for the boundary and proxy terms, mse or huber")
	flag.IntVar(&tr.Epochs, "epochs", 0, "Number of training epochs")
	flag.IntVar(&tr.Generations, "generations", 0, "Hyper-parameter search generations, 0 trains a single net")
	flag.Float64Var(&tr.LearningRate, "lr", 0, "Adam learning rate")
	flag.BoolVar(&noSkip, "no-skip", false, "Disable the skip connection between the first two hidden layers")
	flag.Float64Var(&tr.PhysicsWeight, "physics-weight", 0, "Weight of the physics residual in the composite loss")
	flag.StringVar(&tr.Regime, "regime", "", "Training regime, hydrostatic or exponential")
	flag.Int64Var(&tr.Seed, "seed", 0, "Random seed, 0 picks one from the clock")
	flag.StringVar(&topology, "topology", "", "Comma separated layer sizes, for example 3,64,64,64,1")
	flag.StringVar(&tr.Version, "version", "", "ID of the snapshot to produce")
	flag.Parse()

	if noSkip {
		skip := false
		tr.Skip = &skip
	}
	if topology != "" {
		tr.Topology, err = parseTopology(topology)
		if err != nil {
			fmt.Println("ERROR: " + err.Error())
			os.Exit(1)
		}
	}
	tr = nets.Resolve(tr, conf.ML)
	err = tr.Validate()
	if err != nil {
		fmt.Println("ERROR: " + err.Error())
		os.Exit(1)
	}

	nps, err := paramstores.New(*conf)
	if err != nil {
		logger.Error("Error encountered initializing net param store", err)
		os.Exit(1)
	}

	// An interrupt aborts the run between epochs, nothing is saved
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()
	net, err := nets.TrainVersion(ctx, tr, conf.ML)
	if err != nil {
		logger.Error("Training failed, nothing was saved", err)
		os.Exit(1)
	}
	params := net.Params().(*paramstores.MLPParams)
	params.Version = tr.Version
	err = nps.Save(tr.Version, params)
	if err != nil {
		logger.Error("Error encountered saving snapshot "+tr.Version, err)
		os.Exit(1)
	}
	fmt.Printf(
		"snapshot %s saved after %s (loss %.6f, data %.6f, physics %.6g)\n",
		tr.Version, time.Since(start).Round(time.Second), params.Loss, params.DataLoss, params.PhysicsLoss,
	)
}

func parseTopology(s string) ([]int, error) {
	fields := strings.Split(s, ",")
	sizes := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%q is not a valid layer size", f)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}
