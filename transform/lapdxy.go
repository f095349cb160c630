package transform

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func init() {
	Register("lapd_xy", newLaPDXY)
}

// LaPDXY is the coordinate transform for a LaPD XY probe drive mounted on
// a ball valve. The swing angle depends on where the probe is, so every
// point gets its own matrix.
type LaPDXY struct {
	pivotToCenter   float64
	pivotToDrive    float64
	probeAxisOffset float64

	drivePolarity  [2]float64
	mspacePolarity [2]float64

	// deployedSide is derived from the sign of the configured
	// pivot_to_center: East for >= 0, West otherwise.
	deployedSide string

	droop *droopModel
}

func newLaPDXY(cfg Config, naxes int) (Transform, error) {
	if naxes != 2 {
		return nil, errors.Errorf("lapd_xy transform serves 2-axis drives, got %d axes", naxes)
	}

	t := &LaPDXY{deployedSide: "East", pivotToCenter: cfg.PivotToCenter}
	if cfg.PivotToCenter < 0 {
		t.deployedSide = "West"
		t.pivotToCenter = -cfg.PivotToCenter
	}

	t.pivotToDrive = absWithWarning("pivot_to_drive", cfg.PivotToDrive)
	t.probeAxisOffset = absWithWarning("probe_axis_offset", cfg.ProbeAxisOffset)

	var err error
	if t.drivePolarity, err = polarity("drive_polarity", cfg.DrivePolarity, [2]float64{1, 1}); err != nil {
		return nil, err
	}
	if t.mspacePolarity, err = polarity("mspace_polarity", cfg.MSpacePolarity, [2]float64{-1, 1}); err != nil {
		return nil, err
	}

	if cfg.DroopCorrect {
		if t.droop, err = newDroopModel(cfg.Units, cfg.PivotToFeedthru); err != nil {
			return nil, errors.Wrap(err, "droop correction")
		}
	}
	return t, nil
}

func absWithWarning(key string, v float64) float64 {
	if v < 0 {
		logrus.Warnf("keyword %q is not supposed to be negative, assuming the absolute value %g", key, -v)
		return -v
	}
	return v
}

func polarity(key string, vals []int, def [2]float64) ([2]float64, error) {
	if vals == nil {
		return def, nil
	}
	if len(vals) != 2 {
		return [2]float64{}, errors.Errorf(
			"keyword %q is supposed to be a 2-element array specifying the polarity of the axes, got %d elements",
			key, len(vals))
	}
	var out [2]float64
	for i, v := range vals {
		if v != 1 && v != -1 {
			return [2]float64{}, errors.Errorf(
				"keyword %q is supposed to be a 2-element array of 1 or -1, got %d", key, v)
		}
		out[i] = float64(v)
	}
	return out, nil
}

func (t *LaPDXY) Type() string        { return "lapd_xy" }
func (t *LaPDXY) Dimensionality() int { return 2 }

// DeployedSide reports which side of the machine the drive is mounted on.
func (t *LaPDXY) DeployedSide() string { return t.deployedSide }

// PivotToCenter returns the (absolute) pivot-to-machine-center distance.
func (t *LaPDXY) PivotToCenter() float64 { return t.pivotToCenter }

// ToDrive converts motion-space targets into drive-axis coordinates. With
// droop correction enabled, each target is first mapped back to the ideal
// rigid-shaft point that sags onto it; a *ConvergenceWarning from that
// inverse is returned alongside the (still usable) result.
func (t *LaPDXY) ToDrive(points []MotionPoint) ([]DrivePoint, error) {
	out := make([]DrivePoint, len(points))
	var warn error
	for i, p := range points {
		if err := checkDims(len(p), 2, "motion-space"); err != nil {
			return nil, err
		}
		x, y := p[0], p[1]
		if t.droop != nil {
			var err error
			x, y, err = t.undroopMotionPoint(x, y)
			if err != nil {
				if !IsConvergenceWarning(err) {
					return nil, err
				}
				warn = err
			}
		}
		dx, dy := t.matrixToDrive(x, y).apply(x, y)
		out[i] = DrivePoint{dx, dy}
	}
	return out, warn
}

// ToMotionSpace converts drive-axis coordinates into motion-space
// positions, applying the closed-form droop sag when enabled.
func (t *LaPDXY) ToMotionSpace(points []DrivePoint) ([]MotionPoint, error) {
	out := make([]MotionPoint, len(points))
	for i, p := range points {
		if err := checkDims(len(p), 2, "drive"); err != nil {
			return nil, err
		}
		x, y := t.matrixToMotionSpace(p[0], p[1]).apply(p[0], p[1])
		if t.droop != nil {
			x, y = t.droopMotionPoint(x, y)
		}
		out[i] = MotionPoint{x, y}
	}
	return out, nil
}

// matrixToDrive builds the homogeneous matrix for one motion-space point.
// The polarity diagonals bracket a pure translation whose terms encode
// the radial insertion distance and the vertical offset of the swing.
func (t *LaPDXY) matrixToDrive(x, y float64) mat3 {
	// the swing angle is computed in polarity-adjusted coordinates
	px := t.mspacePolarity[0] * x
	py := t.mspacePolarity[1] * y

	theta := -math.Atan(py / (px + t.pivotToCenter))

	var t0 mat3
	t0[0][2] = math.Sqrt(py*py+(t.pivotToCenter+px)*(t.pivotToCenter+px)) - t.pivotToCenter
	t0[1][2] = t.pivotToDrive*math.Tan(theta) + t.probeAxisOffset*(1-1/math.Cos(theta))
	t0[2][2] = 1

	return diagMat3(t.drivePolarity[0], t.drivePolarity[1]).
		mul(t0).
		mul(diagMat3(t.mspacePolarity[0], t.mspacePolarity[1]))
}

// matrixToMotionSpace solves the swing geometry from the drive-side
// knowns. With theta the shaft angle and beta the angle of the drive
// pivot point on the vertical axis, alpha = beta - theta and
// sin(alpha) is fixed by the probe-axis offset.
func (t *LaPDXY) matrixToMotionSpace(x, y float64) mat3 {
	pd1 := t.drivePolarity[1] * y

	sineAlpha := t.probeAxisOffset / math.Sqrt(
		t.pivotToDrive*t.pivotToDrive+(pd1-t.probeAxisOffset)*(pd1-t.probeAxisOffset))
	tanBeta := (pd1 - t.probeAxisOffset) / -t.pivotToDrive
	theta := math.Atan(tanBeta) - math.Asin(sineAlpha)

	sin, cos := math.Sincos(theta)

	var t0 mat3
	t0[0][0] = cos
	t0[0][2] = -t.pivotToCenter * (1 - cos)
	t0[1][0] = sin
	t0[1][2] = t.pivotToCenter * sin
	t0[2][2] = 1

	return diagMat3(t.mspacePolarity[0], t.mspacePolarity[1]).
		mul(t0).
		mul(diagMat3(t.drivePolarity[0], t.drivePolarity[1]))
}

// droopMotionPoint maps an ideal motion-space point to where the sagging
// probe tip actually sits. The droop model works in the ball-valve frame,
// so coordinates are backtracked to the pivot first.
func (t *LaPDXY) droopMotionPoint(x, y float64) (float64, float64) {
	sign := 1.0
	if t.deployedSide == "West" {
		sign = -1
	}
	bx := math.Abs(sign*t.pivotToCenter - x)
	dx, dy := t.droop.toDroop(bx, y)
	return sign * (t.pivotToCenter - dx), dy
}

// undroopMotionPoint recovers the ideal motion-space point whose sagging
// image is (x, y).
func (t *LaPDXY) undroopMotionPoint(x, y float64) (float64, float64, error) {
	sign := 1.0
	if t.deployedSide == "West" {
		sign = -1
	}
	bx := math.Abs(sign*t.pivotToCenter - x)
	nx, ny, err := t.droop.toNonDroop(bx, y)
	return sign * (t.pivotToCenter - nx), ny, err
}
