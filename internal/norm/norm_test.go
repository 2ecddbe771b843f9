package norm

import (
	"errors"
	"math"
	"testing"
)

func TestForward(t *testing.T) {
	got := LEO.Forward(Sample{Altitude: 500, Flux: 185, Kp: 4.5})
	want := Vector{0.5, 0.5, 0.5}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("Component %d is incorrect, expected %f got %f", i, want[i], got[i])
		}
	}
	got = Extended.Forward(Sample{Altitude: 20000, Flux: 70, Kp: 0})
	if got != (Vector{1, 0, 0}) {
		t.Errorf("Expected {1 0 0} for the top of the extended domain, got %v", got)
	}
}

func TestForwardClamped(t *testing.T) {
	extremes := []Sample{
		{Altitude: 35786, Flux: 1000, Kp: 12},
		{Altitude: 1, Flux: -50, Kp: -1},
		{Altitude: math.MaxFloat64, Flux: math.MaxFloat64, Kp: math.MaxFloat64},
	}
	for _, s := range extremes {
		v := LEO.ForwardClamped(s)
		for i := range v {
			if v[i] < 0 || v[i] > 1 {
				t.Errorf("Clamped component %d of %v is out of the unit interval: %f", i, s, v[i])
			}
		}
	}
}

func TestClampIdempotent(t *testing.T) {
	inside := []Vector{{0, 0, 0}, {1, 1, 1}, {0.25, 0.5, 0.999}}
	for _, v := range inside {
		if Clamp(v) != v {
			t.Errorf("Clamping an in-range vector changed it: %v -> %v", v, Clamp(v))
		}
		if Clamp(Clamp(v)) != Clamp(v) {
			t.Errorf("Clamp is not idempotent for %v", v)
		}
	}
	out := Vector{-3, 7, 0.5}
	if Clamp(Clamp(out)) != Clamp(out) {
		t.Errorf("Clamp is not idempotent for %v", out)
	}
}

func TestPhysicalRoundTrip(t *testing.T) {
	s := Sample{Altitude: 420, Flux: 133, Kp: 3}
	back := LEO.Physical(LEO.Forward(s))
	if math.Abs(back.Altitude-s.Altitude) > 1e-9 || math.Abs(back.Flux-s.Flux) > 1e-9 || math.Abs(back.Kp-s.Kp) > 1e-9 {
		t.Errorf("Expected %v after the round trip, got %v", s, back)
	}
}

func TestInverse(t *testing.T) {
	if LEO.Inverse(0) != 1 {
		t.Errorf("exp(0) should be 1, got %f", LEO.Inverse(0))
	}
	if LEO.Inverse(-1e6) < 0 {
		t.Error("Inverse must never return a negative density")
	}
}

func TestLookup(t *testing.T) {
	c, err := Lookup(ExtendedTag)
	if err != nil {
		t.Fatalf("Failed to look up a registered convention (%s)", err.Error())
	}
	if c.AltitudeRange != 19800 {
		t.Errorf("Expected the extended convention to span 19800 km, got %f", c.AltitudeRange)
	}
	_, err = Lookup("leo600")
	if !errors.Is(err, ErrUnknownConvention) {
		t.Errorf("Expected ErrUnknownConvention for an unregistered tag, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := LEO.Validate(); err != nil {
		t.Errorf("LEO should be valid (%s)", err.Error())
	}
	bad := LEO
	bad.Tag = ""
	if bad.Validate() == nil {
		t.Error("A convention without a tag should be invalid")
	}
	bad = LEO
	bad.Output = "density"
	if bad.Validate() == nil {
		t.Error("Only the log-density output is supported")
	}
}
