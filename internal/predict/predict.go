// Package predict turns trained snapshots into immutable density predictors and keeps track of the ones being served
package predict

import (
	"errors"
	"fmt"
	"math"

	"github.com/qvantel/solapse/internal/nets"
	"github.com/qvantel/solapse/internal/nets/paramstores"
	"github.com/qvantel/solapse/internal/norm"
)

var (
	// ErrMissingConvention is returned for snapshots that don't say how their inputs were normalized
	ErrMissingConvention = errors.New("snapshot has no normalization convention")
	// ErrConventionMismatch is returned for snapshots trained with a convention other than the active one
	ErrConventionMismatch = errors.New("snapshot normalization convention doesn't match the active one")
	// ErrInvalidInput is returned for samples with NaN or infinite components
	ErrInvalidInput = errors.New("input must be finite")
	// ErrNonFiniteOutput is returned when the model produces NaN or an infinite density
	ErrNonFiniteOutput = errors.New("model produced a non-finite density")
)

// Evaluator is what a Predictor needs from a density model: ln(density) for a normalized sample
type Evaluator interface {
	Evaluate(x norm.Vector) float64
}

// Predictor maps physical samples to densities in g/cm³ with a single model and convention. It is never mutated once
// built, so it can be shared between requests freely
type Predictor struct {
	version string
	brief   paramstores.MLPParams
	conv    norm.Convention
	model   Evaluator
}

// New builds a predictor for the given snapshot after making sure it was trained with the active convention
func New(version string, params paramstores.MLPParams, active norm.Convention) (*Predictor, error) {
	if params.Convention.Tag == "" {
		return nil, fmt.Errorf("%w (%s)", ErrMissingConvention, version)
	}
	if params.Convention != active {
		return nil, fmt.Errorf(
			"%w (%s was trained with %s, %s is active)",
			ErrConventionMismatch, version, params.Convention.Tag, active.Tag,
		)
	}
	net, err := nets.MLPFromParams(version, params)
	if err != nil {
		return nil, err
	}
	// Drop the weights from the copy kept for the metadata, the net owns them
	params.Weights, params.Biases = nil, nil
	return &Predictor{version: version, brief: params, conv: active, model: net}, nil
}

// NewWithEvaluator builds a predictor around any model that follows the given convention
func NewWithEvaluator(version string, conv norm.Convention, model Evaluator) *Predictor {
	return &Predictor{
		version: version,
		brief:   paramstores.MLPParams{Version: version, Convention: conv},
		conv:    conv,
		model:   model,
	}
}

// Version returns the ID of the snapshot behind the predictor
func (p *Predictor) Version() string {
	return p.version
}

// Params returns the snapshot metadata (without weights)
func (p *Predictor) Params() paramstores.MLPParams {
	return p.brief
}

// Predict returns the density in g/cm³ for a physical sample. Non-positive altitudes are answered with 0 without
// running the model, out of range inputs are clamped to the edges of the convention's domain
func (p *Predictor) Predict(s norm.Sample) (float64, error) {
	for _, v := range []float64{s.Altitude, s.Flux, s.Kp} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, ErrInvalidInput
		}
	}
	if s.Altitude <= 0 {
		return 0, nil
	}
	rho := p.conv.Inverse(p.model.Evaluate(p.conv.ForwardClamped(s)))
	if math.IsNaN(rho) || math.IsInf(rho, 0) {
		return 0, ErrNonFiniteOutput
	}
	return rho, nil
}
