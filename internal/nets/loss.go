package nets

import (
	"math"
	"math/rand"

	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/norm"
	"github.com/qvantel/solapse/internal/physics"
)

const (
	// BoundaryWidth is the normalized altitude band where the hydrostatic regime anchors the density
	BoundaryWidth = 0.05
	// boundaryShare is the fraction of every hydrostatic batch drawn inside the boundary band
	boundaryShare = 0.25
	// huberDelta is where the Huber loss switches from quadratic to linear (in ln density units)
	huberDelta = 1.0
)

// lossTerms holds the value of the composite loss for a batch and its derivatives w.r.t. the output (gy) and the
// output's derivative w.r.t. the normalized altitude (gt) of each sample
type lossTerms struct {
	total   float64
	data    float64
	physics float64
	gy      []float64
	gt      []float64
}

// finite returns true when no term of the loss is NaN or infinite
func (lt lossTerms) finite() bool {
	for _, v := range []float64{lt.total, lt.data, lt.physics} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// sampleBatch draws n normalized samples uniformly from the unit cube. In the hydrostatic regime a share of the batch
// is drawn inside the boundary band so every batch carries data samples
func sampleBatch(rng *rand.Rand, n int, regime string) []norm.Vector {
	xs := make([]norm.Vector, n)
	boundary := 0
	if regime == config.HydrostaticRegime {
		boundary = int(math.Ceil(float64(n) * boundaryShare))
	}
	for i := range xs {
		h := rng.Float64()
		if i < boundary {
			h *= BoundaryWidth
		}
		xs[i] = norm.Vector{h, rng.Float64(), rng.Float64()}
	}
	return xs
}

// dataTerm adds the mean data loss of the selected samples to gy and returns its value
func dataTerm(kind string, y, target []float64, idx []int, gy []float64) float64 {
	if len(idx) == 0 {
		return 0
	}
	scale := 1 / float64(len(idx))
	sum := 0.0
	for k, i := range idx {
		diff := y[i] - target[k]
		if kind == config.HuberLoss && math.Abs(diff) > huberDelta {
			sum += huberDelta*math.Abs(diff) - 0.5*huberDelta*huberDelta
			gy[i] += scale * math.Copysign(huberDelta, diff)
			continue
		}
		if kind == config.HuberLoss {
			sum += 0.5 * diff * diff
			gy[i] += scale * diff
			continue
		}
		sum += diff * diff
		gy[i] += 2 * scale * diff
	}
	return sum * scale
}

// composite evaluates the training loss of a batch given the outputs of the net (y) and, in the hydrostatic regime,
// their derivatives w.r.t. the normalized altitude (dy)
func composite(np netSettings, xs []norm.Vector, y, dy []float64) lossTerms {
	lt := lossTerms{
		gy: make([]float64, len(xs)),
		gt: make([]float64, len(xs)),
	}
	var (
		idx     []int
		targets []float64
	)
	switch np.regime {
	case config.ExponentialRegime:
		idx = make([]int, len(xs))
		targets = make([]float64, len(xs))
		for i, x := range xs {
			s := np.conv.Physical(x)
			idx[i] = i
			targets[i] = physics.ProxyLogDensity(s.Altitude, s.Flux, x[2])
		}
		lt.data = dataTerm(np.dataLoss, y, targets, idx, lt.gy)
	default:
		var residual []int
		for i, x := range xs {
			s := np.conv.Physical(x)
			if x[0] < BoundaryWidth {
				idx = append(idx, i)
				targets = append(targets, physics.BoundaryLogDensity(s.Altitude, s.Flux, x[2]))
			}
			if s.Altitude < np.cutoff {
				residual = append(residual, i)
			}
		}
		lt.data = dataTerm(np.dataLoss, y, targets, idx, lt.gy)
		if len(residual) > 0 && dy != nil {
			// d ln rho/dh in 1/km is the derivative w.r.t. the normalized altitude over the altitude range
			scale := 1 / float64(len(residual))
			for _, i := range residual {
				s := np.conv.Physical(xs[i])
				r := physics.HydrostaticResidual(dy[i]/np.conv.AltitudeRange, s.Altitude, s.Flux)
				lt.physics += r * r * scale
				lt.gt[i] += np.physicsWeight * 2 * r * scale / np.conv.AltitudeRange
			}
		}
	}
	lt.total = lt.data + np.physicsWeight*lt.physics
	return lt
}
