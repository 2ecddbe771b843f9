package nets

import "math"

// Adam is the adaptive moment estimation optimizer. Moments are allocated on the first step to match the shape of the
// params it is given
type Adam struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64
	m       [][]float64
	v       [][]float64
	t       int
}

// NewAdam returns an Adam optimizer with the usual β1 = 0.9, β2 = 0.999 and ε = 1e-8
func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:      lr,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
	}
}

func (a *Adam) init(params [][]float64) {
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p))
		a.v[i] = make([]float64, len(p))
	}
	a.t = 0
}

// Step updates the params in place with the given gradients, both must have the same layout on every call
func (a *Adam) Step(params, grads [][]float64) {
	if a.m == nil {
		a.init(params)
	}
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		m := a.m[i]
		v := a.v[i]
		for j := range p {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g[j]
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g[j]*g[j]
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p[j] -= a.LR * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
}
