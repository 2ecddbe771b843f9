package nets

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/norm"
	"github.com/qvantel/solapse/internal/physics"
)

// ErrNonFiniteLoss is returned when the loss of a training run becomes NaN or infinite. The run is aborted and its
// weights must not be persisted
var ErrNonFiniteLoss = errors.New("non-finite training loss")

// TrainingParams holds the settings of a single training run that aren't part of the net's snapshot
type TrainingParams struct {
	BatchSize int
	Cutoff    float64 // Altitude in km above which the hydrostatic residual isn't enforced
	DataLoss  string  // mse or huber
	Epochs    int
	LogEvery  int // Epochs between progress logs, 0 disables them
	Rand      *rand.Rand
	Validate  int // Size of the held-out batch used to score the run, defaults to the batch size
}

// netSettings gathers what the loss needs to know about the run and the net
type netSettings struct {
	conv          norm.Convention
	cutoff        float64
	dataLoss      string
	physicsWeight float64
	regime        string
}

func (net *MLP) settings(tp TrainingParams) netSettings {
	cutoff := tp.Cutoff
	if cutoff <= 0 {
		cutoff = physics.HydrostaticCutoff
	}
	return netSettings{
		conv:          net.params.Convention,
		cutoff:        cutoff,
		dataLoss:      tp.DataLoss,
		physicsWeight: net.params.PhysicsWeight,
		regime:        net.params.Regime,
	}
}

// paramSlices returns the weights and biases of the net, in the same order gradients.slices uses
func (net *MLP) paramSlices() [][]float64 {
	res := make([][]float64, 0, 2*len(net.weights))
	res = append(res, net.params.Weights...)
	return append(res, net.params.Biases...)
}

func (g gradients) slices() [][]float64 {
	res := make([][]float64, 0, 2*len(g.weights))
	for _, w := range g.weights {
		res = append(res, w.RawMatrix().Data)
	}
	return append(res, g.biases...)
}

// lossFor evaluates the composite loss of the net for the given normalized samples without changing it
func (net *MLP) lossFor(s netSettings, xs []norm.Vector) lossTerms {
	if len(xs) == 0 {
		return lossTerms{}
	}
	p := net.forward(batchMatrix(xs), s.regime == config.HydrostaticRegime)
	var dy []float64
	if p.tans != nil {
		dy = p.dy()
	}
	return composite(s, xs, p.y(), dy)
}

// Loss evaluates the composite loss of the net for the given normalized samples without changing it
func (net *MLP) Loss(xs []norm.Vector, tp TrainingParams) (total, data, phys float64) {
	lt := net.lossFor(net.settings(tp), xs)
	return lt.total, lt.data, lt.physics
}

// Train fits the net to the physics of its regime with Adam, sampling a new batch every epoch. The returned value is
// the composite loss over a held-out batch. When the loss stops being finite the run is aborted with ErrNonFiniteLoss,
// when the context ends it is aborted with the context's error. Either way the net's metadata is left untouched
func (net *MLP) Train(ctx context.Context, tp TrainingParams) (float64, error) {
	if tp.Epochs <= 0 || tp.BatchSize <= 0 {
		return 0, errors.New("training requires a positive number of epochs and batch size")
	}
	if err := net.params.Convention.Validate(); err != nil {
		return 0, err
	}
	if net.params.Regime != config.HydrostaticRegime && net.params.Regime != config.ExponentialRegime {
		return 0, errors.New(net.params.Regime + " is not a valid training regime")
	}
	if tp.Rand == nil {
		tp.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := net.settings(tp)
	opt := NewAdam(net.params.LearningRate)
	params := net.paramSlices()
	tangent := s.regime == config.HydrostaticRegime

	logger.Debug(fmt.Sprintf(
		"[MLP %s] Training for %d epochs in the %s regime (batch %d, lr %g, physics weight %g)",
		net.id, tp.Epochs, s.regime, tp.BatchSize, net.params.LearningRate, s.physicsWeight,
	))
	var lt lossTerms
	for epoch := 1; epoch <= tp.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("training interrupted at epoch %d: %w", epoch, err)
		}
		xs := sampleBatch(tp.Rand, tp.BatchSize, s.regime)
		p := net.forward(batchMatrix(xs), tangent)
		var dy []float64
		if tangent {
			dy = p.dy()
		}
		lt = composite(s, xs, p.y(), dy)
		if !lt.finite() {
			return 0, fmt.Errorf(
				"%w at epoch %d (data: %g, physics: %g)", ErrNonFiniteLoss, epoch, lt.data, lt.physics,
			)
		}
		g := net.backward(p, lt.gy, lt.gt)
		opt.Step(params, g.slices())

		if tp.LogEvery > 0 && epoch%tp.LogEvery == 0 {
			logger.Info(fmt.Sprintf(
				"[MLP %s] Epoch %d | loss: %.6f (data: %.6f, physics: %.6g)",
				net.id, epoch, lt.total, lt.data, lt.physics,
			))
		}
	}

	size := tp.Validate
	if size <= 0 {
		size = tp.BatchSize
	}
	total, data, phys := net.Loss(sampleBatch(tp.Rand, size, s.regime), tp)
	if !(lossTerms{total: total, data: data, physics: phys}).finite() {
		return 0, fmt.Errorf("%w after training (data: %g, physics: %g)", ErrNonFiniteLoss, data, phys)
	}
	net.params.Epoch += tp.Epochs
	net.params.Loss = total
	net.params.DataLoss = data
	net.params.PhysicsLoss = phys
	net.params.TrainedAt = time.Now().Unix()
	logger.Debug(fmt.Sprintf("[MLP %s] Held-out loss: %.6f", net.id, total))
	return total, nil
}
