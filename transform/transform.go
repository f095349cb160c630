// Package transform maps motion-space coordinates to and from the native
// coordinates of a probe drive. Transforms are stateless once built; the
// shipped set is closed ("identity", "lapd_xy") and registered at init.
package transform

import (
	"fmt"

	"github.com/pkg/errors"
)

// MotionPoint is a position in the physical coordinate system of
// interest (e.g. chamber-relative X/Y).
type MotionPoint []float64

// DrivePoint is a position in the probe drive's native axis coordinates.
// It is a distinct type from MotionPoint on purpose: mixing the two
// spaces is the classic bug in this domain.
type DrivePoint []float64

// Transform converts batches of points between motion space and drive
// space. Implementations build one homogeneous matrix per point, since
// several geometries are position-dependent.
type Transform interface {
	// Type is the registry tag of the transform.
	Type() string

	// Dimensionality is the fixed point size, or -1 when the transform
	// morphs to the drive it serves.
	Dimensionality() int

	ToDrive(points []MotionPoint) ([]DrivePoint, error)
	ToMotionSpace(points []DrivePoint) ([]MotionPoint, error)
}

// Config carries the deployment geometry for any transform type; fields
// not used by a type are ignored by it.
type Config struct {
	Type string `yaml:"type"`

	PivotToCenter   float64 `yaml:"pivot_to_center"`
	PivotToDrive    float64 `yaml:"pivot_to_drive"`
	ProbeAxisOffset float64 `yaml:"probe_axis_offset"`
	PivotToFeedthru float64 `yaml:"pivot_to_feedthru"`

	DrivePolarity  []int `yaml:"drive_polarity"`
	MSpacePolarity []int `yaml:"mspace_polarity"`

	DroopCorrect bool `yaml:"droop_correct"`

	// Units names the physical unit the deployment geometry (and the
	// drive axes) are expressed in. Defaults to cm.
	Units string `yaml:"units"`
}

// Factory builds a transform for a drive with naxes axes.
type Factory func(cfg Config, naxes int) (Transform, error)

var registry = map[string]Factory{}

// Register adds a transform type to the registry. It is called from
// init() functions; the transform set is closed and small.
func Register(typ string, f Factory) {
	if _, ok := registry[typ]; ok {
		panic(fmt.Sprintf("transform type %q registered twice", typ))
	}
	registry[typ] = f
}

// New builds the transform named by cfg.Type.
func New(cfg Config, naxes int) (Transform, error) {
	f, ok := registry[cfg.Type]
	if !ok {
		return nil, errors.Errorf("unknown transform type %q", cfg.Type)
	}
	return f(cfg, naxes)
}

// mat3 is a homogeneous 2D transform matrix; the third row/column
// carries translation.
type mat3 [3][3]float64

func diagMat3(x, y float64) mat3 {
	return mat3{{x, 0, 0}, {0, y, 0}, {0, 0, 1}}
}

func (m mat3) mul(o mat3) mat3 {
	var r mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				r[i][j] += m[i][k] * o[k][j]
			}
		}
	}
	return r
}

// apply multiplies the matrix with the homogeneous extension of (x, y).
func (m mat3) apply(x, y float64) (float64, float64) {
	return m[0][0]*x + m[0][1]*y + m[0][2],
		m[1][0]*x + m[1][1]*y + m[1][2]
}

func checkDims(n int, want int, kind string) error {
	if n != want {
		return errors.Errorf("expected %d-element %s point, got %d elements", want, kind, n)
	}
	return nil
}
