package transform

import (
	"fmt"
	"math"

	"github.com/BaPSF/bapsf-motion/units"
)

// Droop fit coefficients [a0, a1, a2, a3], in cm units. Determined by FEA
// of a stainless 304 tube, .375" OD x 0.035" wall, held at the feedthru
// and extended a radius r with gravity applied at angle theta:
//
//	droop = (a3 r^3 + a2 r^2 + a1 r + a0) * r * cos(theta)
var droopCoeffs = [4]float64{6.209e-06, -2.211e-07, 2.084e-09, -5.491e-09}

const (
	droopDamping = -1.5
	droopAtol    = 1e-8
	droopMaxIter = 100
)

// ConvergenceWarning reports that the droop inverse hit its iteration cap.
// The accompanying value is the best available estimate; callers may
// treat this error as advisory.
type ConvergenceWarning struct {
	Iterations int
	Residual   float64
}

func (e *ConvergenceWarning) Error() string {
	return fmt.Sprintf("droop inverse did not converge after %d iterations (residual %g)",
		e.Iterations, e.Residual)
}

// IsConvergenceWarning reports whether err is (or wraps) a
// *ConvergenceWarning.
func IsConvergenceWarning(err error) bool {
	for err != nil {
		if _, ok := err.(*ConvergenceWarning); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// droopModel evaluates gravity sag of the probe shaft in the ball-valve
// frame. The fit lives in cm; points are converted in and out of the
// deployment unit around each evaluation.
type droopModel struct {
	coeffs          [4]float64
	pivotToFeedthru float64 // cm
	toCM            float64
	fromCM          float64
}

func newDroopModel(unitName string, pivotToFeedthru float64) (*droopModel, error) {
	if unitName == "" {
		unitName = "cm"
	}
	u, err := units.Get(unitName)
	if err != nil {
		return nil, err
	}
	cm, _ := units.Get("cm")
	toCM, err := units.Factor(u, cm)
	if err != nil {
		return nil, err
	}
	return &droopModel{
		coeffs:          droopCoeffs,
		pivotToFeedthru: pivotToFeedthru * toCM,
		toCM:            toCM,
		fromCM:          1 / toCM,
	}, nil
}

// toDroop maps an ideal (rigid-shaft) ball-valve point to where the
// sagging shaft actually sits. Closed form.
func (m *droopModel) toDroop(x, y float64) (float64, float64) {
	cx, cy := x*m.toCM, y*m.toCM

	r := math.Hypot(cx, cy) + m.pivotToFeedthru
	theta := math.Tan(cy / cx)

	delta := (m.coeffs[3]*r*r*r + m.coeffs[2]*r*r + m.coeffs[1]*r + m.coeffs[0]) * r * math.Cos(theta)
	// delta is always downward in the ball-valve frame
	cx += -delta * math.Sin(theta)
	cy += delta * math.Cos(theta)

	return cx * m.fromCM, cy * m.fromCM
}

// toNonDroop recovers the ideal point whose drooped image is (x, y).
// There is no closed form; a damped fixed-point iteration nudges a
// running guess by droopDamping times the residual. Hitting the
// iteration cap returns the best estimate plus a *ConvergenceWarning.
func (m *droopModel) toNonDroop(x, y float64) (float64, float64, error) {
	gx, gy := x, y
	tx, ty := m.toDroop(gx, gy)

	i := 0
	for math.Abs(tx-x) > droopAtol || math.Abs(ty-y) > droopAtol {
		i++
		gx += droopDamping * (tx - x)
		gy += droopDamping * (ty - y)
		tx, ty = m.toDroop(gx, gy)

		if i == droopMaxIter {
			return gx, gy, &ConvergenceWarning{
				Iterations: i,
				Residual:   math.Max(math.Abs(tx-x), math.Abs(ty-y)),
			}
		}
	}
	return gx, gy, nil
}
