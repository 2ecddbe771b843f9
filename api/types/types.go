// Package types contains most of the objects that the API reads or writes
package types

import (
	"errors"
	"math"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	versionFormat = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
	validate      = validator.New()
)

// Limits of a training request, they keep a single request from exhausting the memory or the time of the service
const (
	MaxBatchSize   = 4096
	MaxEpochs      = 100000
	MaxGenerations = 50
	MaxLayers      = 10
	MaxLayerWidth  = 512
)

// PagedRes is a wrapper for a paged response where next can be provided as offset for the subsequent request and last
// can be used to determine when there is nothing left to read
type PagedRes struct {
	Last    bool        `json:"last"`
	Next    int         `json:"next"`
	Results interface{} `json:"results"`
}

// SimpleRes is used for errors and those cases where the response code would be sufficient but a JSON response helps
// consistency and user friendliness
type SimpleRes struct {
	Result string `json:"result"` // Possible values are "error" and "ok"
	Msg    string `json:"message"`
}

// NewOkRes is a shortcut for building a SimpleRes for a successful result
func NewOkRes(msg string) *SimpleRes {
	return &SimpleRes{Result: "ok", Msg: msg}
}

// NewErrorRes is a shortcut for building a SimpleRes for a failed result
func NewErrorRes(msg string) *SimpleRes {
	return &SimpleRes{Result: "error", Msg: msg}
}

// PredictRequest is the body of a density query. Only the altitude is required, missing space weather indices are
// filled in from the configured feed
type PredictRequest struct {
	Altitude *float64 `json:"altitude" example:"400"` // km
	F107     *float64 `json:"f107,omitempty" example:"150"`
	Kp       *float64 `json:"kp,omitempty" example:"2"`
}

// Validate makes sure that the request has an altitude and that every value provided is a finite number
func (pr PredictRequest) Validate() error {
	if pr.Altitude == nil {
		return errors.New("altitude is required")
	}
	for name, v := range map[string]*float64{"altitude": pr.Altitude, "f107": pr.F107, "kp": pr.Kp} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return errors.New(name + " must be a finite number")
		}
	}
	return nil
}

// PredictResponse holds the estimated mass density in g/cm³
type PredictResponse struct {
	Density float64 `json:"density"`
}

// BriefNet is a lightweight and standardized representation of a density model snapshot
type BriefNet struct {
	ID            string  `json:"id"`
	Convention    string  `json:"convention"`            // Tag of the normalization convention the snapshot was trained with
	DataLoss      float64 `json:"dataLoss"`              // Boundary or proxy part of the final loss
	Epoch         int     `json:"epoch"`                 // Number of epochs the snapshot was trained for
	HLayers       int     `json:"hLayers"`               // Number of hidden layers
	LearningRate  float64 `json:"learningRate"`          // Adam step size used during training
	Loaded        bool    `json:"loaded"`                // Whether the snapshot is currently being served
	Loss          float64 `json:"loss"`                  // Composite loss at the last epoch
	PhysicsLoss   float64 `json:"physicsLoss"`           // Mean squared hydrostatic residual at the last epoch
	PhysicsWeight float64 `json:"physicsWeight"`         // Weight of the physics term in the composite loss
	Regime        string  `json:"regime"`                // hydrostatic or exponential
	Skip          bool    `json:"skip"`                  // Whether the first two hidden layers are joined by a skip connection
	TrainedAt     int64   `json:"trainedAt" example:"0"` // Unix seconds
}

// TrainRequest as its name implies, is used to ask the training service to create or replace a snapshot. Zero values
// are replaced with the configured defaults
type TrainRequest struct {
	Version       string     `json:"version" validate:"omitempty,max=128"`
	BatchSize     int        `json:"batchSize" validate:"gte=0,lte=4096"`
	DataLoss      string     `json:"dataLoss" validate:"omitempty,oneof=mse huber"`
	Epochs        int        `json:"epochs" validate:"gte=0,lte=100000"`
	Generations   int        `json:"generations" validate:"gte=0,lte=50"` // Hyper-parameter search, 0 trains a single net
	LearningRate  float64    `json:"learningRate" validate:"gte=0"`
	PhysicsWeight float64    `json:"physicsWeight" validate:"gte=0"`
	Regime        string     `json:"regime" validate:"omitempty,oneof=hydrostatic exponential"`
	Seed          int64      `json:"seed"`
	Skip          *bool      `json:"skip,omitempty"`
	Topology      []int      `json:"topology,omitempty" validate:"omitempty,min=2,max=10,dive,gte=1,lte=512"`
	Done          chan error `json:"-"` // Optional, receives the outcome of the run
}

// Validate checks the values that can't be fixed by the configured defaults. Snapshot versions are used as storage
// keys so they are restricted to letters, digits, dots, dashes and underscores. A topology, when given, must go from
// the 3 inputs of a sample to a single output with every layer at least 1 wide
func (tr TrainRequest) Validate() error {
	if err := validate.Struct(tr); err != nil {
		return err
	}
	if tr.Version != "" && !versionFormat.MatchString(tr.Version) {
		return errors.New("version must only contain letters, digits, dots, dashes and underscores")
	}
	if len(tr.Topology) != 0 && (tr.Topology[0] != 3 || tr.Topology[len(tr.Topology)-1] != 1) {
		return errors.New("topology must start with 3 inputs and end with 1 output")
	}
	if math.IsNaN(tr.LearningRate) || math.IsNaN(tr.PhysicsWeight) {
		return errors.New("learningRate and physicsWeight must be numbers")
	}
	return nil
}

// BriefSeries is a lightweight representation of a time series
type BriefSeries struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Observation is a single space weather measurement. Either index can be missing if the source only reports the other
type Observation struct {
	F107      *float64 `json:"f107,omitempty"`
	Kp        *float64 `json:"kp,omitempty"`
	TimeStamp int64    `json:"timestamp"` // Unix seconds
}

// HasValues checks that the observation carries at least one valid index, F10.7 must be positive and Kp must be in
// the [0,9] range
func (o Observation) HasValues() bool {
	valid := false
	if o.F107 != nil {
		if *o.F107 <= 0 || math.IsNaN(*o.F107) || math.IsInf(*o.F107, 0) {
			return false
		}
		valid = true
	}
	if o.Kp != nil {
		if *o.Kp < 0 || *o.Kp > 9 || math.IsNaN(*o.Kp) {
			return false
		}
		valid = true
	}
	return valid
}

// WeatherUpdate bundles a set of space weather observations from a single source, it is the data of the cloud events
// that feed the space weather series
type WeatherUpdate struct {
	SeriesID     string            `json:"seriesID"`
	Labels       map[string]string `json:"labels"`
	Observations []Observation     `json:"observations"`
}

// Weather is the space weather currently used to fill in missing request fields
type Weather struct {
	F107      float64 `json:"f107"`
	Kp        float64 `json:"kp"`
	Source    string  `json:"source"`    // static, store, noaa or fallback
	UpdatedAt int64   `json:"updatedAt"` // Unix seconds
}
