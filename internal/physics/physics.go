// Package physics holds the closed-form atmosphere relations the density model is trained against. Altitudes are in
// km, solar flux in solar flux units and log-densities are natural logarithms of g/cm³
package physics

import "math"

const (
	// EarthRadius is the mean Earth radius in km
	EarthRadius = 6371.0
	// GasConstant is the molar gas constant in J/(mol·K)
	GasConstant = 8.314
	// SurfaceGravity in m/s²
	SurfaceGravity = 9.81
	// SeaLevelMolecularMass is the mean molecular mass of air in g/mol
	SeaLevelMolecularMass = 28.96
	// MinMolecularMass is the atomic oxygen floor for the mean molecular mass in g/mol
	MinMolecularMass = 16.0
	// RefAltitude is the altitude in km where the boundary condition is anchored
	RefAltitude = 200.0
	// RefLogDensity is ln(density) at RefAltitude for quiet geomagnetic conditions
	RefLogDensity = -28.9
	// BoundaryKpGain is the ln(density) increase at RefAltitude between Kp 0 and Kp 9
	BoundaryKpGain = 0.5
	// ProxyKpGain is the relative density increase of the proxy law between Kp 0 and Kp 9
	ProxyKpGain = 0.1
	// HydrostaticCutoff is the altitude in km above which the hydrostatic residual isn't enforced
	HydrostaticCutoff = 2500.0
)

// Temperature returns the exospheric temperature in K for the given F10.7
func Temperature(f107 float64) float64 {
	return 600 + 3*(f107-70)
}

// MolecularMass returns the mean molecular mass in g/mol at altitude h, it decreases linearly until it reaches the
// atomic oxygen floor
func MolecularMass(h float64) float64 {
	return math.Max(SeaLevelMolecularMass-0.01*h, MinMolecularMass)
}

// Gravity returns the gravitational acceleration in m/s² at altitude h
func Gravity(h float64) float64 {
	r := EarthRadius / (EarthRadius + h)
	return SurfaceGravity * r * r
}

// ScaleHeight returns the ideal gas scale height R·T/(m·g). With m in g/mol the result is in km
func ScaleHeight(h, f107 float64) float64 {
	return GasConstant * Temperature(f107) / (MolecularMass(h) * Gravity(h))
}

// BoundaryLogDensity is the data target of the hydrostatic regime, kpN is the normalized Kp index
func BoundaryLogDensity(h, f107, kpN float64) float64 {
	return RefLogDensity - (h-RefAltitude)/ScaleHeight(h, f107) + BoundaryKpGain*kpN
}

// HydrostaticResidual is how far dLogRho (d ln rho/dh in 1/km) is from hydrostatic equilibrium at (h, f107)
func HydrostaticResidual(dLogRho, h, f107 float64) float64 {
	return dLogRho + 1/ScaleHeight(h, f107)
}

// ProxyScaleHeight is the Harris-Priester style scale height in km used by the exponential proxy law
func ProxyScaleHeight(f107 float64) float64 {
	return 50 + f107/10
}

// ProxyLogDensity is the log of the exponential decay proxy law rho0·exp(-(h-200)/Hp)·(1 + 0.1·kpN), computed in
// closed form so it never underflows
func ProxyLogDensity(h, f107, kpN float64) float64 {
	return RefLogDensity - (h-RefAltitude)/ProxyScaleHeight(f107) + math.Log1p(ProxyKpGain*kpN)
}
