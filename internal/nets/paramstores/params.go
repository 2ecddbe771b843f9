package paramstores

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/norm"
)

// MLPParams holds the minimum information required to rebuild the density model from scratch plus the training
// metadata the API and the predictor need. The normalization convention is embedded so a snapshot can never be served
// with coefficients other than the ones it was trained with
type MLPParams struct {
	Version       string
	Convention    norm.Convention
	Regime        string
	Topology      []int
	Skip          bool
	Weights       [][]float64 // One row-major (out x in) matrix per layer
	Biases        [][]float64
	Epoch         int
	Loss          float64
	DataLoss      float64
	PhysicsLoss   float64
	LearningRate  float64
	PhysicsWeight float64
	TrainedAt     int64
}

// Check makes sure that the weight and bias shapes match the topology
func (np MLPParams) Check() error {
	layers := len(np.Topology) - 1
	if layers < 1 {
		return errors.New("a net needs at least an input and an output layer")
	}
	if len(np.Weights) != layers || len(np.Biases) != layers {
		return fmt.Errorf("expected %d weight and bias layers, got %d and %d", layers, len(np.Weights), len(np.Biases))
	}
	for _, width := range np.Topology {
		if width < 1 {
			return fmt.Errorf("every layer needs at least one unit, got %v", np.Topology)
		}
	}
	for l := 0; l < layers; l++ {
		if len(np.Weights[l]) != np.Topology[l]*np.Topology[l+1] {
			return fmt.Errorf("layer %d should have %d weights, got %d", l, np.Topology[l]*np.Topology[l+1], len(np.Weights[l]))
		}
		if len(np.Biases[l]) != np.Topology[l+1] {
			return fmt.Errorf("layer %d should have %d biases, got %d", l, np.Topology[l+1], len(np.Biases[l]))
		}
	}
	if np.Skip && (layers < 3 || np.Topology[1] != np.Topology[2]) {
		return errors.New("a skip connection requires two hidden layers of the same width")
	}
	return nil
}

// Brief returns a standard summarized version of the net's params (not enough to rebuild it but enough to compare it)
func (np MLPParams) Brief() *types.BriefNet {
	return &types.BriefNet{
		ID:            np.Version,
		Convention:    np.Convention.Tag,
		DataLoss:      np.DataLoss,
		Epoch:         np.Epoch,
		HLayers:       len(np.Topology) - 2,
		LearningRate:  np.LearningRate,
		Loss:          np.Loss,
		PhysicsLoss:   np.PhysicsLoss,
		PhysicsWeight: np.PhysicsWeight,
		Regime:        np.Regime,
		Skip:          np.Skip,
		TrainedAt:     np.TrainedAt,
	}
}

// Unmarshal is used to tell the param store how to read a NetParams object for an MLP net
func (np *MLPParams) Unmarshal(b []byte) error {
	return json.Unmarshal(b, np)
}

// Marshal is used to tell the param store how to write a NetParams object for an MLP net
func (np *MLPParams) Marshal() ([]byte, error) {
	return json.Marshal(np)
}

func (np MLPParams) String() string {
	data, err := np.Marshal()
	if err != nil {
		logger.Error("There was an error marshalling the net params", err)
		return ""
	}
	return string(data)
}
