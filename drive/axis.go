// Package drive composes motor clients into axes, multi-axis drives, and
// transform-aware motion groups.
package drive

import (
	"math"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/BaPSF/bapsf-motion/internal/actor"
	"github.com/BaPSF/bapsf-motion/motor"
	"github.com/BaPSF/bapsf-motion/units"
)

// Controller is the slice of *motor.Client an Axis needs. Tests substitute
// a fake.
type Controller interface {
	Name() string
	StepsPerRev() int
	Status() motor.DeviceStatus
	RefreshStatus() (motor.DeviceStatus, error)
	Position() (int, error)
	MoveTo(steps int) error
	Stop() error
	SendCommand(name string, args ...float64) (string, error)
	Run()
	Close() error
}

var _ Controller = (*motor.Client)(nil)

// Conversion carries the outbound (units → wire) and inbound (wire →
// units) value conversions for one command.
type Conversion struct {
	Out func(float64) float64
	In  func(float64) float64
}

// Axis exposes motion of one motor in physical units.
type Axis struct {
	actor.Actor
	ctl Controller

	mu          sync.Mutex
	unit        units.Unit
	unitsPerRev float64
}

// NewAxis wraps a controller with a unit conversion. The unit name must
// be known to the units package.
func NewAxis(ctl Controller, unitName string, unitsPerRev float64) (*Axis, error) {
	u, err := units.Get(unitName)
	if err != nil {
		return nil, errors.Wrap(err, "axis units")
	}
	if unitsPerRev <= 0 {
		return nil, errors.New("units_per_rev must be positive")
	}
	return &Axis{
		Actor:       actor.New("axis", ctl.Name()),
		ctl:         ctl,
		unit:        u,
		unitsPerRev: unitsPerRev,
	}, nil
}

// Units returns the axis's current physical unit.
func (a *Axis) Units() units.Unit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unit
}

// UnitsPerRev returns the axis travel per motor revolution.
func (a *Axis) UnitsPerRev() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unitsPerRev
}

// SetUnits changes the axis unit, rescaling units-per-rev by the
// conversion factor. The physical dimension must not change; on failure
// the axis state is untouched. Both fields change together.
func (a *Axis) SetUnits(unitName string) error {
	nu, err := units.Get(unitName)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	factor, err := units.Factor(a.unit, nu)
	if err != nil {
		return err
	}
	a.unit = nu
	a.unitsPerRev *= factor
	return nil
}

// Position reads the native step position and reports it in axis units,
// rounded to 2 decimal places to match the device display precision.
func (a *Axis) Position() (float64, units.Unit, error) {
	steps, err := a.ctl.Position()
	if err != nil {
		return 0, units.Unit{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	v := float64(steps) * a.unitsPerRev / float64(a.ctl.StepsPerRev())
	return math.Round(v*100) / 100, a.unit, nil
}

// MoveTo commands an absolute move to a position given in axis units.
func (a *Axis) MoveTo(v float64) error {
	return a.ctl.MoveTo(int(v * float64(a.ctl.StepsPerRev()) / a.UnitsPerRev()))
}

// Stop halts the axis immediately.
func (a *Axis) Stop() error { return a.ctl.Stop() }

// IsMoving reports the cached moving flag without blocking.
func (a *Axis) IsMoving() bool { return a.ctl.Status().Moving }

// Status returns the last known controller status.
func (a *Axis) Status() motor.DeviceStatus { return a.ctl.Status() }

// Controller returns the wrapped motor controller.
func (a *Axis) Controller() Controller { return a.ctl }

// Conversions returns the unit conversion pair for a command, or ok=false
// when the command's values travel unconverted.
//
// Speed/accel/decel are revolutions-based on the wire, so they convert
// through units-per-rev only; converting them through the steps relation
// would silently scale motion commands by a factor of steps-per-rev.
// Position-like commands convert through the full steps↔units relation.
func (a *Axis) Conversions(command string) (Conversion, bool) {
	upr := a.UnitsPerRev()
	switch command {
	case "acceleration", "deceleration", "speed":
		return Conversion{
			Out: func(v float64) float64 { return v / upr },
			In:  func(v float64) float64 { return v * upr },
		}, true
	case "move_to", "target_distance", "get_position":
		spr := float64(a.ctl.StepsPerRev())
		return Conversion{
			Out: func(v float64) float64 { return v * spr / upr },
			In:  func(v float64) float64 { return v * upr / spr },
		}, true
	}
	return Conversion{}, false
}

// SendCommand forwards a command to the controller, applying the axis's
// outbound conversion to the argument and the inbound conversion to a
// numeric reply.
func (a *Axis) SendCommand(name string, args ...float64) (float64, error) {
	conv, ok := a.Conversions(name)
	if ok {
		converted := make([]float64, len(args))
		for i, v := range args {
			converted[i] = conv.Out(v)
		}
		args = converted
	}

	text, err := a.ctl.SendCommand(name, args...)
	if err != nil {
		return 0, err
	}

	v, perr := strconv.ParseFloat(text, 64)
	if perr != nil {
		// ack-only reply
		return 0, nil
	}
	if ok {
		v = conv.In(v)
	}
	return v, nil
}

// Run starts the controller heartbeat.
func (a *Axis) Run() { a.ctl.Run() }

// Close terminates the underlying controller. Idempotent.
func (a *Axis) Close() error { return a.ctl.Close() }
