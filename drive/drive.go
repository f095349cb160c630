package drive

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/BaPSF/bapsf-motion/internal/actor"
	"github.com/BaPSF/bapsf-motion/motor"
	"github.com/BaPSF/bapsf-motion/units"
)

// Spawner builds the controller for one axis. The default dials a motor
// client at the configured IP; tests substitute fakes.
type Spawner func(cfg AxisConfig) (Controller, error)

func dialMotor(cfg AxisConfig) (Controller, error) {
	// durations were validated with the rest of the config
	base, _ := time.ParseDuration(cfg.HeartrateBase)
	active, _ := time.ParseDuration(cfg.HeartrateActive)
	return motor.Dial(motor.Config{
		IP:        cfg.IP,
		Name:      cfg.Name,
		Heartrate: motor.Heartrate{Base: base, Active: active},
	})
}

// Option customizes drive construction.
type Option func(*options)

type options struct {
	spawn Spawner
}

// WithSpawner overrides how axis controllers are created.
func WithSpawner(s Spawner) Option {
	return func(o *options) { o.spawn = s }
}

// Drive is an ordered assembly of axes moved as one unit. Axis order is
// config order and fixes the meaning of every position vector.
type Drive struct {
	actor.Actor
	axes []*Axis
}

// New validates the configuration, spawns a controller per axis, and
// wraps each in an Axis. Construction is all-or-nothing: a failed axis
// tears down the ones already connected.
func New(cfg Config, opts ...Option) (*Drive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{spawn: dialMotor}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Drive{
		Actor: actor.New("drive", cfg.Name),
		axes:  make([]*Axis, 0, len(cfg.Axes)),
	}
	for i, axc := range cfg.Axes {
		ctl, err := o.spawn(axc)
		if err != nil {
			d.teardown()
			return nil, errors.Wrapf(err, "axis %q", axc.Name)
		}
		ax, err := NewAxis(ctl, axc.Units, axc.UnitsPerRev)
		if err != nil {
			ctl.Close()
			d.teardown()
			return nil, errors.Wrapf(err, "axis %q", axc.Name)
		}
		d.axes = append(d.axes, ax)

		if i > 0 && axc.Units != cfg.Axes[0].Units {
			d.Log().Warnf(
				"axis %q uses units %q while axis %q uses %q; position vectors are reported in the first axis's units",
				axc.Name, axc.Units, cfg.Axes[0].Name, cfg.Axes[0].Units)
		}
	}
	return d, nil
}

func (d *Drive) teardown() {
	for _, ax := range d.axes {
		ax.Close()
	}
	d.axes = nil
}

// NAxes returns the number of axes.
func (d *Drive) NAxes() int { return len(d.axes) }

// Axes returns the drive's axes in config order.
func (d *Drive) Axes() []*Axis { return d.axes }

// Axis returns the axis at index i.
func (d *Drive) Axis(i int) *Axis { return d.axes[i] }

// Position reads every axis and returns the position vector, in config
// order, labeled with the first axis's unit.
func (d *Drive) Position() ([]float64, units.Unit, error) {
	pos := make([]float64, len(d.axes))
	var u units.Unit
	for i, ax := range d.axes {
		v, au, err := ax.Position()
		if err != nil {
			return nil, units.Unit{}, errors.Wrapf(err, "axis %q position", ax.Name())
		}
		if i == 0 {
			u = au
		}
		pos[i] = v
	}
	return pos, u, nil
}

// IsMoving reports whether any axis is moving, from cached status.
func (d *Drive) IsMoving() bool {
	for _, ax := range d.axes {
		if ax.IsMoving() {
			return true
		}
	}
	return false
}

// MoveTo commands an absolute move of all axes to the target vector, in
// each axis's own units. Every axis is attempted; failures accumulate.
func (d *Drive) MoveTo(target []float64) error {
	if len(target) != len(d.axes) {
		return errors.Errorf("target has %d components for a %d-axis drive", len(target), len(d.axes))
	}
	var err error
	for i, ax := range d.axes {
		err = multierr.Append(err, errors.Wrapf(ax.MoveTo(target[i]), "axis %q", ax.Name()))
	}
	return err
}

// Stop halts every axis immediately. All axes are attempted regardless
// of individual failures.
func (d *Drive) Stop() error {
	var err error
	for _, ax := range d.axes {
		err = multierr.Append(err, errors.Wrapf(ax.Stop(), "axis %q", ax.Name()))
	}
	return err
}

// Run starts the heartbeat of every axis controller.
func (d *Drive) Run() {
	for _, ax := range d.axes {
		ax.Run()
	}
}

// StopRunning cascades shutdown to every axis controller, heartbeats
// included, and aggregates the failures. Idempotent.
func (d *Drive) StopRunning() error {
	var err error
	for _, ax := range d.axes {
		err = multierr.Append(err, ax.Close())
	}
	return err
}

// Close terminates every axis controller. Idempotent.
func (d *Drive) Close() error { return d.StopRunning() }
