package nets

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/nets/paramstores"
	"github.com/qvantel/solapse/internal/norm"
	"github.com/qvantel/solapse/internal/physics"
	"gonum.org/v1/gonum/mat"
)

// DefaultTopology is the 3 -> 128 -> 128 -> 64 -> 1 layout of the density model
var DefaultTopology = []int{3, 128, 128, 64, 1}

// MLP is a fully connected tanh network with a linear output that represents ln(density). When Skip is set the
// activation of the first hidden layer is added to the one of the second (both must have the same width).
//
// The weights of each layer are kept in a mat.Dense that shares its backing array with the params, so anything that
// updates the matrices updates the snapshot too
type MLP struct {
	id      string
	params  paramstores.MLPParams
	weights []*mat.Dense
}

// pass holds everything a batched forward pass computes that the backward pass needs. Index l of acts and tans is the
// input of layer l, the last element is the output of the net
type pass struct {
	n    int
	acts []*mat.Dense // Activations
	tans []*mat.Dense // Derivatives of the activations w.r.t. the normalized altitude
	us   []*mat.Dense // tanh output of each hidden layer (before the skip connection)
	tzs  []*mat.Dense // Derivatives of the pre-activations w.r.t. the normalized altitude
}

// y returns the output of the net for each sample
func (p *pass) y() []float64 {
	return mat.Col(nil, 0, p.acts[len(p.acts)-1])
}

// dy returns the derivative of the output w.r.t. the normalized altitude for each sample
func (p *pass) dy() []float64 {
	return mat.Col(nil, 0, p.tans[len(p.tans)-1])
}

// NewMLP returns a density model built from scratch with the configuration of the given chromosome. Weights are drawn
// uniformly from ±1/sqrt(fan_in) and the output bias starts at the reference log-density so training begins close to
// the right order of magnitude
func NewMLP(id string, chromosome Chromosome, conv norm.Convention, rng *rand.Rand) (*MLP, error) {
	topology := chromosome.Topology
	if len(topology) == 0 {
		topology = DefaultTopology
	}
	if len(topology) < 2 || len(topology) > types.MaxLayers {
		return nil, fmt.Errorf("a density model needs between 2 and %d layers, got %v", types.MaxLayers, topology)
	}
	if topology[0] != len(norm.Vector{}) || topology[len(topology)-1] != 1 {
		return nil, fmt.Errorf("a density model needs %d inputs and 1 output, got %v", len(norm.Vector{}), topology)
	}
	for _, width := range topology {
		if width < 1 || width > types.MaxLayerWidth {
			return nil, fmt.Errorf("layer widths must be between 1 and %d, got %v", types.MaxLayerWidth, topology)
		}
	}
	params := paramstores.MLPParams{
		Version:       id,
		Convention:    conv,
		Regime:        chromosome.Regime,
		Topology:      append([]int(nil), topology...),
		Skip:          chromosome.Skip,
		LearningRate:  chromosome.LearningRate,
		PhysicsWeight: chromosome.PhysicsWeight,
	}
	layers := len(topology) - 1
	params.Weights = make([][]float64, layers)
	params.Biases = make([][]float64, layers)
	for l := 0; l < layers; l++ {
		in, out := topology[l], topology[l+1]
		bound := 1 / math.Sqrt(float64(in))
		params.Weights[l] = make([]float64, in*out)
		for i := range params.Weights[l] {
			params.Weights[l][i] = (rng.Float64()*2 - 1) * bound
		}
		params.Biases[l] = make([]float64, out)
		for i := range params.Biases[l] {
			params.Biases[l][i] = (rng.Float64()*2 - 1) * bound
		}
	}
	params.Biases[layers-1][0] = physics.RefLogDensity

	return MLPFromParams(id, params)
}

// MLPFromParams returns a density model initialized with the specified params after checking their shapes
func MLPFromParams(id string, np paramstores.MLPParams) (*MLP, error) {
	err := np.Check()
	if err != nil {
		return nil, err
	}
	if np.Topology[0] != len(norm.Vector{}) || np.Topology[len(np.Topology)-1] != 1 {
		return nil, errors.New("the snapshot doesn't have the inputs and outputs of a density model")
	}
	net := MLP{id: id, params: np}
	net.weights = make([]*mat.Dense, len(np.Weights))
	for l := range np.Weights {
		net.weights[l] = mat.NewDense(np.Topology[l+1], np.Topology[l], np.Weights[l])
	}
	return &net, nil
}

// ID is a getter for the ID field
func (net *MLP) ID() string {
	return net.id
}

// Params returns the network's params
func (net *MLP) Params() paramstores.NetParams {
	return &net.params
}

// Convention returns the normalization convention the net works with
func (net *MLP) Convention() norm.Convention {
	return net.params.Convention
}

// Evaluate returns ln(density) for a normalized sample
func (net *MLP) Evaluate(x norm.Vector) float64 {
	p := net.forward(mat.NewDense(1, len(x), x[:]), false)
	return p.acts[len(p.acts)-1].At(0, 0)
}

// EvaluateBatch returns ln(density) for every normalized sample
func (net *MLP) EvaluateBatch(xs []norm.Vector) []float64 {
	if len(xs) == 0 {
		return nil
	}
	return net.forward(batchMatrix(xs), false).y()
}

// skipAt returns true if layer l adds the input it receives to its activation
func (net *MLP) skipAt(l int) bool {
	return net.params.Skip && l == 1 && l < len(net.weights)-1
}

// forward runs a batch (one sample per row) through the net. With tangent set it also carries the derivative of every
// activation w.r.t. the normalized altitude (forward mode differentiation seeded with the first input column)
func (net *MLP) forward(x *mat.Dense, tangent bool) *pass {
	n, cols := x.Dims()
	layers := len(net.weights)
	p := &pass{
		n:    n,
		acts: make([]*mat.Dense, layers+1),
		us:   make([]*mat.Dense, layers-1),
	}
	p.acts[0] = x
	if tangent {
		p.tans = make([]*mat.Dense, layers+1)
		p.tzs = make([]*mat.Dense, layers-1)
		seed := mat.NewDense(n, cols, nil)
		for i := 0; i < n; i++ {
			seed.Set(i, 0, 1)
		}
		p.tans[0] = seed
	}

	for l, w := range net.weights {
		out, _ := w.Dims()
		b := net.params.Biases[l]
		z := mat.NewDense(n, out, nil)
		z.Mul(p.acts[l], w.T())
		z.Apply(func(i, j int, v float64) float64 { return v + b[j] }, z)
		var tz *mat.Dense
		if tangent {
			tz = mat.NewDense(n, out, nil)
			tz.Mul(p.tans[l], w.T())
		}
		if l == layers-1 {
			p.acts[l+1] = z
			if tangent {
				p.tans[l+1] = tz
			}
			break
		}

		u := mat.NewDense(n, out, nil)
		u.Apply(func(i, j int, v float64) float64 { return math.Tanh(v) }, z)
		p.us[l] = u
		a := mat.DenseCopyOf(u)
		if net.skipAt(l) {
			a.Add(a, p.acts[l])
		}
		p.acts[l+1] = a
		if tangent {
			// d tanh(z) = (1 - u²) dz
			p.tzs[l] = tz
			ta := mat.NewDense(n, out, nil)
			ta.Apply(func(i, j int, v float64) float64 {
				s := u.At(i, j)
				return (1 - s*s) * v
			}, tz)
			if net.skipAt(l) {
				ta.Add(ta, p.tans[l])
			}
			p.tans[l+1] = ta
		}
	}
	return p
}

// gradients holds the derivative of the loss w.r.t. every weight and bias, with the same layout as the params
type gradients struct {
	weights []*mat.Dense
	biases  [][]float64
}

// backward computes the gradient of Σ gy·y + gt·∂y/∂h_n w.r.t. the weights and biases. gy and gt are the derivatives
// of the loss w.r.t. the outputs and their altitude derivatives, the latter is ignored (and can be nil) when the
// forward pass wasn't run with a tangent. This is reverse mode differentiation through the forward mode computation, so
// the second order terms the physics residual depends on are exact
func (net *MLP) backward(p *pass, gy, gt []float64) gradients {
	layers := len(net.weights)
	withTangent := p.tans != nil && gt != nil
	g := gradients{
		weights: make([]*mat.Dense, layers),
		biases:  make([][]float64, layers),
	}

	// Adjoints of the activation of the current layer and of its tangent
	aBar := mat.NewDense(p.n, 1, append([]float64(nil), gy...))
	var taBar *mat.Dense
	if withTangent {
		taBar = mat.NewDense(p.n, 1, append([]float64(nil), gt...))
	}

	for l := layers - 1; l >= 0; l-- {
		w := net.weights[l]
		out, in := w.Dims()

		zBar, tzBar := aBar, taBar
		if l < layers-1 {
			// a = tanh(z), ta = (1-u²)·tz so
			// z̄ = (1-u²)·(ā - 2u·t̄a·tz) and t̄z = (1-u²)·t̄a
			u := p.us[l]
			zBar = mat.NewDense(p.n, out, nil)
			if withTangent {
				tz := p.tzs[l]
				tzBar = mat.NewDense(p.n, out, nil)
				zBar.Apply(func(i, j int, v float64) float64 {
					uv := u.At(i, j)
					s := 1 - uv*uv
					tb := taBar.At(i, j)
					tzBar.Set(i, j, s*tb)
					return s * (v - 2*uv*tb*tz.At(i, j))
				}, aBar)
			} else {
				zBar.Apply(func(i, j int, v float64) float64 {
					uv := u.At(i, j)
					return (1 - uv*uv) * v
				}, aBar)
			}
		}

		dW := mat.NewDense(out, in, nil)
		dW.Mul(zBar.T(), p.acts[l])
		if withTangent {
			var tdW mat.Dense
			tdW.Mul(tzBar.T(), p.tans[l])
			dW.Add(dW, &tdW)
		}
		g.weights[l] = dW
		db := make([]float64, out)
		for j := range db {
			db[j] = mat.Sum(zBar.ColView(j))
		}
		g.biases[l] = db
		if l == 0 {
			break
		}

		nextABar := mat.NewDense(p.n, in, nil)
		nextABar.Mul(zBar, w)
		var nextTABar *mat.Dense
		if withTangent {
			nextTABar = mat.NewDense(p.n, in, nil)
			nextTABar.Mul(tzBar, w)
		}
		// The skip connection sends the adjoints straight to the input of the layer as well
		if net.skipAt(l) {
			nextABar.Add(nextABar, aBar)
			if withTangent {
				nextTABar.Add(nextTABar, taBar)
			}
		}
		aBar, taBar = nextABar, nextTABar
	}
	return g
}

// batchMatrix stacks normalized samples into a matrix with one sample per row
func batchMatrix(xs []norm.Vector) *mat.Dense {
	data := make([]float64, 0, len(xs)*len(norm.Vector{}))
	for _, x := range xs {
		data = append(data, x[:]...)
	}
	return mat.NewDense(len(xs), len(norm.Vector{}), data)
}
