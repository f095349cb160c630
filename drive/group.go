package drive

import (
	"github.com/pkg/errors"

	"github.com/BaPSF/bapsf-motion/internal/actor"
	"github.com/BaPSF/bapsf-motion/transform"
	"github.com/BaPSF/bapsf-motion/units"
)

// MotionGroup couples a drive with the coordinate transform of its
// deployment, so callers work in motion-space coordinates and never see
// drive-axis values.
type MotionGroup struct {
	actor.Actor
	drive *Drive
	tr    transform.Transform
}

// NewMotionGroup pairs a drive with a transform. The transform's
// dimensionality must match the drive's axis count (or be adaptive).
func NewMotionGroup(name string, d *Drive, tr transform.Transform) (*MotionGroup, error) {
	if dim := tr.Dimensionality(); dim != -1 && dim != d.NAxes() {
		return nil, errors.Errorf(
			"transform %q handles %d axes, drive %q has %d",
			tr.Type(), dim, d.Name(), d.NAxes())
	}
	return &MotionGroup{
		Actor: actor.New("motion_group", name),
		drive: d,
		tr:    tr,
	}, nil
}

// Drive returns the underlying drive.
func (g *MotionGroup) Drive() *Drive { return g.drive }

// Transform returns the group's coordinate transform.
func (g *MotionGroup) Transform() transform.Transform { return g.tr }

// Position reads the drive and reports the probe position in motion
// space.
func (g *MotionGroup) Position() ([]float64, units.Unit, error) {
	dpos, u, err := g.drive.Position()
	if err != nil {
		return nil, units.Unit{}, err
	}
	mpos, err := g.tr.ToMotionSpace([]transform.DrivePoint{transform.DrivePoint(dpos)})
	if err != nil {
		return nil, units.Unit{}, errors.Wrap(err, "to motion space")
	}
	return []float64(mpos[0]), u, nil
}

// MoveTo converts a motion-space target to drive coordinates and moves
// the drive there. A droop convergence warning from the transform is
// logged and the move proceeds with the best estimate; any other
// transform error aborts the move.
func (g *MotionGroup) MoveTo(target []float64) error {
	dpts, err := g.tr.ToDrive([]transform.MotionPoint{transform.MotionPoint(target)})
	if err != nil {
		if !transform.IsConvergenceWarning(err) {
			return errors.Wrap(err, "to drive")
		}
		g.Log().Warnf("moving to best available estimate: %v", err)
	}
	return g.drive.MoveTo([]float64(dpts[0]))
}

// Stop halts the drive immediately. The stop never routes through the
// transform.
func (g *MotionGroup) Stop() error { return g.drive.Stop() }

// IsMoving reports whether any drive axis is moving.
func (g *MotionGroup) IsMoving() bool { return g.drive.IsMoving() }

// Run starts the drive heartbeats.
func (g *MotionGroup) Run() { g.drive.Run() }

// Close terminates the drive. Idempotent.
func (g *MotionGroup) Close() error { return g.drive.Close() }
