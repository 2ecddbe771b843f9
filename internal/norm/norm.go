// Package norm maps physical inputs (km, solar flux units, Kp) to the unit cube the density model works in and maps
// the model output back to a density. The affine coefficients are not global: they belong to a versioned Convention
// that travels with every trained snapshot
package norm

import (
	"errors"
	"fmt"
	"math"
)

// LogDensity is the only supported output convention: the network emits ln(density) and Inverse exponentiates it
const LogDensity = "lnrho"

// Tags of the registered conventions
const (
	LEOTag      = "leo600-lnrho-v1"
	ExtendedTag = "ext19800-lnrho-v1"
)

var (
	// LEO covers 200-800 km, the low Earth orbit regime
	LEO = Convention{
		Tag:           LEOTag,
		RefAltitude:   200,
		AltitudeRange: 600,
		MinFlux:       70,
		FluxRange:     230,
		MaxKp:         9,
		Output:        LogDensity,
	}
	// Extended covers 200-20000 km
	Extended = Convention{
		Tag:           ExtendedTag,
		RefAltitude:   200,
		AltitudeRange: 19800,
		MinFlux:       70,
		FluxRange:     230,
		MaxKp:         9,
		Output:        LogDensity,
	}

	// ErrUnknownConvention is returned by Lookup for tags that aren't registered
	ErrUnknownConvention = errors.New("unknown normalization convention")
)

var registered = map[string]Convention{
	LEOTag:      LEO,
	ExtendedTag: Extended,
}

// Sample is a physical model input
type Sample struct {
	Altitude float64 `json:"altitude"` // km
	Flux     float64 `json:"f107"`     // F10.7 in solar flux units
	Kp       float64 `json:"kp"`
}

// Vector is a normalized sample {h_n, f_n, k_n}
type Vector [3]float64

// Convention holds the affine coefficients that bridge physical units and network inputs, plus the output convention.
// Two snapshots trained with different conventions are not interchangeable, hence the tag
type Convention struct {
	Tag           string  `json:"tag"`
	RefAltitude   float64 `json:"refAltitude"`
	AltitudeRange float64 `json:"altitudeRange"`
	MinFlux       float64 `json:"minFlux"`
	FluxRange     float64 `json:"fluxRange"`
	MaxKp         float64 `json:"maxKp"`
	Output        string  `json:"output"`
}

// Lookup returns the registered convention with the given tag
func Lookup(tag string) (Convention, error) {
	c, ok := registered[tag]
	if !ok {
		return Convention{}, fmt.Errorf("%w: %q", ErrUnknownConvention, tag)
	}
	return c, nil
}

// Validate checks that the convention can be used to normalize inputs
func (c Convention) Validate() error {
	if c.Tag == "" {
		return errors.New("normalization convention has no tag")
	}
	if c.AltitudeRange <= 0 || c.FluxRange <= 0 || c.MaxKp <= 0 {
		return errors.New("normalization convention " + c.Tag + " has a non-positive range")
	}
	if c.Output != LogDensity {
		return errors.New("normalization convention " + c.Tag + " has unsupported output " + c.Output)
	}
	return nil
}

// MaxAltitude is the highest altitude in km the convention maps inside the unit cube
func (c Convention) MaxAltitude() float64 {
	return c.RefAltitude + c.AltitudeRange
}

// Forward normalizes a physical sample without clamping, as used when the inputs are known to be in range
func (c Convention) Forward(s Sample) Vector {
	return Vector{
		(s.Altitude - c.RefAltitude) / c.AltitudeRange,
		(s.Flux - c.MinFlux) / c.FluxRange,
		s.Kp / c.MaxKp,
	}
}

// ForwardClamped normalizes a physical sample and clamps every component to [0,1] so the network never extrapolates
// outside of the domain it was trained on. Out of range inputs are answered with the value at the domain edge
func (c Convention) ForwardClamped(s Sample) Vector {
	return Clamp(c.Forward(s))
}

// Physical is the inverse of Forward
func (c Convention) Physical(v Vector) Sample {
	return Sample{
		Altitude: c.RefAltitude + v[0]*c.AltitudeRange,
		Flux:     c.MinFlux + v[1]*c.FluxRange,
		Kp:       v[2] * c.MaxKp,
	}
}

// Inverse maps a model output to a density in g/cm³
func (c Convention) Inverse(y float64) float64 {
	return math.Exp(y)
}

// Clamp limits every component of v to [0,1]. NaN components are left untouched so callers can detect them
func Clamp(v Vector) Vector {
	for i := range v {
		if v[i] < 0 {
			v[i] = 0
		} else if v[i] > 1 {
			v[i] = 1
		}
	}
	return v
}
