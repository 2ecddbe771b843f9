package nets

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/norm"
	"github.com/qvantel/solapse/internal/physics"
)

var smallTopology = []int{3, 32, 32, 16, 1}

func trainedNet(t *testing.T, regime string, epochs int) *MLP {
	net := testNet(t, smallTopology, true, regime)
	_, err := net.Train(context.Background(), TrainingParams{
		BatchSize: 128,
		DataLoss:  config.MSELoss,
		Epochs:    epochs,
		Rand:      rand.New(rand.NewSource(11)),
	})
	if err != nil {
		t.Fatalf("Training failed (%s)", err.Error())
	}
	return net
}

func logDensity(net *MLP, altitude, flux, kp float64) float64 {
	return net.Evaluate(norm.LEO.ForwardClamped(norm.Sample{Altitude: altitude, Flux: flux, Kp: kp}))
}

func TestTrainReducesLoss(t *testing.T) {
	for _, regime := range []string{config.HydrostaticRegime, config.ExponentialRegime} {
		net := testNet(t, []int{3, 16, 16, 8, 1}, true, regime)
		net.params.LearningRate = 0.01
		tp := TrainingParams{BatchSize: 64, DataLoss: config.MSELoss, Epochs: 500, Rand: rand.New(rand.NewSource(5))}
		xs := sampleBatch(rand.New(rand.NewSource(6)), 256, regime)
		before, _, _ := net.Loss(xs, tp)
		_, err := net.Train(context.Background(), tp)
		if err != nil {
			t.Fatalf("Training failed in the %s regime (%s)", regime, err.Error())
		}
		after, _, _ := net.Loss(xs, tp)
		if after >= 0.75*before {
			t.Errorf("Expected training to reduce the %s loss, went from %f to %f", regime, before, after)
		}
		if net.params.Epoch != 500 || net.params.TrainedAt == 0 {
			t.Errorf("Training metadata wasn't updated: epoch %d, trained at %d", net.params.Epoch, net.params.TrainedAt)
		}
	}
}

func TestTrainNonFiniteLoss(t *testing.T) {
	net := testNet(t, []int{3, 4, 4, 1}, false, config.HydrostaticRegime)
	net.params.Weights[0][0] = math.NaN()
	_, err := net.Train(context.Background(), TrainingParams{BatchSize: 8, Epochs: 10, Rand: rand.New(rand.NewSource(1))})
	if !errors.Is(err, ErrNonFiniteLoss) {
		t.Fatalf("Expected ErrNonFiniteLoss, got %v", err)
	}
	if net.params.Epoch != 0 {
		t.Error("An aborted run shouldn't update the training metadata")
	}
}

func TestTrainCancelled(t *testing.T) {
	net := testNet(t, []int{3, 4, 4, 1}, false, config.HydrostaticRegime)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := net.Train(ctx, TrainingParams{BatchSize: 8, Epochs: 100000, Rand: rand.New(rand.NewSource(1))})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected the run to stop with context.Canceled, got %v", err)
	}
	if net.params.Epoch != 0 || net.params.TrainedAt != 0 {
		t.Error("An interrupted run shouldn't update the training metadata")
	}
}

func TestTrainRejectsBadParams(t *testing.T) {
	net := testNet(t, []int{3, 4, 4, 1}, false, "isothermal")
	_, err := net.Train(context.Background(), TrainingParams{BatchSize: 8, Epochs: 1})
	if err == nil {
		t.Error("Expected an unknown regime to be rejected")
	}
	net = testNet(t, []int{3, 4, 4, 1}, false, config.HydrostaticRegime)
	_, err = net.Train(context.Background(), TrainingParams{BatchSize: 0, Epochs: 1})
	if err == nil {
		t.Error("Expected an empty batch to be rejected")
	}
}

func TestHydrostaticModel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full training run in short mode")
	}
	net := trainedNet(t, config.HydrostaticRegime, 2000)

	// 1e-13 to 1e-12 g/cm³
	ref := logDensity(net, 200, 150, 2)
	if ref < math.Log(1e-13) || ref > math.Log(1e-12) {
		t.Errorf("Density at 200 km is out of the expected band: %g g/cm³", math.Exp(ref))
	}

	low, mid, high := logDensity(net, 250, 150, 2), logDensity(net, 450, 150, 2), logDensity(net, 750, 150, 2)
	if !(low > mid && mid > high) {
		t.Errorf("Density should decay with altitude, got ln rho %f, %f, %f at 250, 450 and 750 km", low, mid, high)
	}

	storm := logDensity(net, 200, 150, 9) - logDensity(net, 200, 150, 0)
	if storm <= 0 {
		t.Error("A geomagnetic storm should increase the density at 200 km")
	}
	// The boundary condition raises ln rho by BoundaryKpGain over the Kp range
	if slope, want := storm/9, physics.BoundaryKpGain/9; slope < 0.6*want || slope > 1.4*want {
		t.Errorf("Expected the Kp response at 200 km to be close to %f per unit, got %f", want, slope)
	}

	// Above the domain the clamp answers with the value at the edge
	if logDensity(net, 5000, 150, 2) != logDensity(net, 800, 150, 2) {
		t.Error("Altitudes above the domain should be clamped to its upper edge")
	}
}

func TestExponentialModel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full training run in short mode")
	}
	net := trainedNet(t, config.ExponentialRegime, 1500)

	for _, h := range []float64{250, 400, 600} {
		want := -28.9 - (h-200)/65 + math.Log1p(0.1*2.0/9)
		got := logDensity(net, h, 150, 2)
		if math.Abs(got-want) > 0.5 {
			t.Errorf("ln density at %f km should be close to the proxy law, expected %f got %f", h, want, got)
		}
	}
	if logDensity(net, 300, 150, 2) <= logDensity(net, 500, 150, 2) {
		t.Error("Density should decay with altitude")
	}
}
