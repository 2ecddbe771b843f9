// Package nets contains the physics-informed density model, the trainer that fits it and the service that handles
// training requests
package nets

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/metrics"
	"github.com/qvantel/solapse/internal/nets/paramstores"
	"github.com/qvantel/solapse/internal/norm"
)

// PublishFunc is called by the training service after a snapshot has been saved so it can be served
type PublishFunc func(params paramstores.MLPParams) error

// List encapsulates the logic required to fill in BriefNet objects from the IDs of nets in the store
func List(offset, limit int, pattern string, nps paramstores.NetParamStore) ([]types.BriefNet, int, error) {
	nets := []types.BriefNet{}
	ids, cursor, err := nps.List(offset, limit, pattern)
	if err != nil {
		return nil, 0, err
	}
	for _, id := range ids {
		var np paramstores.MLPParams
		found, err := nps.Load(id, &np)
		if err != nil {
			logger.Warning("Encountered unreadable snapshot in the store (" + id + ": " + err.Error() + ")")
			continue
		}
		if found {
			brief := np.Brief()
			brief.ID = id
			nets = append(nets, *brief)
		}
	}
	return nets, cursor, nil
}

// Resolve fills in the zero values of a training request with the configured defaults
func Resolve(tr types.TrainRequest, ml config.MLParams) types.TrainRequest {
	if tr.Version == "" && len(ml.Versions) > 0 {
		tr.Version = ml.Versions[0]
	}
	if tr.BatchSize <= 0 {
		tr.BatchSize = ml.BatchSize
	}
	if tr.DataLoss == "" {
		tr.DataLoss = ml.DataLoss
	}
	if tr.Epochs <= 0 {
		tr.Epochs = ml.Epochs
	}
	if tr.Generations <= 0 {
		tr.Generations = ml.Generations
	}
	if tr.LearningRate <= 0 {
		tr.LearningRate = ml.Alpha
	}
	if tr.PhysicsWeight <= 0 {
		tr.PhysicsWeight = ml.PhysicsWeight
	}
	if tr.Regime == "" {
		tr.Regime = ml.Regime
	}
	if tr.Seed == 0 {
		tr.Seed = ml.Seed
	}
	if tr.Skip == nil {
		skip := ml.Skip
		tr.Skip = &skip
	}
	return tr
}

// TrainVersion builds and trains a density model for the given (resolved) request. With generations it searches the
// hyper-parameters first and returns the best net found
func TrainVersion(ctx context.Context, tr types.TrainRequest, ml config.MLParams) (*MLP, error) {
	conv, err := norm.Lookup(ml.Convention)
	if err != nil {
		return nil, err
	}
	seed := tr.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	skip := tr.Skip != nil && *tr.Skip && canSkip(tr.Topology)
	chromosome := Chromosome{
		DataLoss:      tr.DataLoss,
		LearningRate:  tr.LearningRate,
		PhysicsWeight: tr.PhysicsWeight,
		Regime:        tr.Regime,
		Skip:          skip,
		Topology:      tr.Topology,
	}
	tp := TrainingParams{
		BatchSize: tr.BatchSize,
		Cutoff:    ml.Cutoff,
		DataLoss:  tr.DataLoss,
		Epochs:    tr.Epochs,
		LogEvery:  ml.LogEvery,
		Rand:      rng,
	}

	if tr.Generations > 0 {
		search := ml
		search.Generations = tr.Generations
		pop := NewPopulation(search, chromosome, conv, rng)
		return pop.Optimal(ctx, tr.Version, tp)
	}

	net, err := NewMLP(tr.Version, chromosome, conv, rng)
	if err != nil {
		return nil, err
	}
	_, err = net.Train(ctx, tp)
	if err != nil {
		return nil, err
	}
	return net, nil
}

// Trainer listens for requests to train density models, saves the resulting snapshots and publishes them. Runs are
// sequential, one request at a time. It returns once the channel is closed or the context ends, cancelling the context
// also aborts the run in progress. m may be nil
func Trainer(
	ctx context.Context,
	c <-chan types.TrainRequest,
	nps paramstores.NetParamStore,
	publish PublishFunc,
	m *metrics.Metrics,
	conf config.Config,
) error {
	logger.Info("Training service initialized")
	for {
		var tr types.TrainRequest
		select {
		case <-ctx.Done():
			logger.Info("Training service stopped")
			return nil
		case req, ok := <-c:
			if !ok {
				return nil
			}
			tr = Resolve(req, conf.ML)
		}
		err := train(ctx, tr, nps, publish, conf)
		if m != nil {
			m.TrainingRuns.WithLabelValues(metrics.Outcome(err)).Inc()
		}
		if err != nil {
			// We can't kill the whole service every time training fails
			logger.Error("Error training snapshot "+tr.Version, err)
		}
		if tr.Done != nil {
			tr.Done <- err
		}
	}
}

func train(
	ctx context.Context,
	tr types.TrainRequest,
	nps paramstores.NetParamStore,
	publish PublishFunc,
	conf config.Config,
) (e error) {
	// A bad request must not take the whole service down with it
	defer func() {
		if r := recover(); r != nil {
			e = fmt.Errorf("training snapshot %s panicked: %v", tr.Version, r)
		}
	}()
	start := time.Now()
	logger.Info("Training snapshot " + tr.Version + " in the " + tr.Regime + " regime")
	net, err := TrainVersion(ctx, tr, conf.ML)
	if err != nil {
		return err
	}
	params := net.params
	params.Version = tr.Version
	err = nps.Save(tr.Version, &params)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	logger.Info(fmt.Sprintf(
		"Training for snapshot %s completed in %s with a held-out loss of %.6f",
		tr.Version, time.Since(start).Round(time.Second), params.Loss,
	))
	if publish != nil {
		return publish(params)
	}
	return nil
}
