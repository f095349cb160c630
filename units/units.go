// Package units defines the small set of physical units the probe drives
// are deployed in and the conversions between them.
package units

import "fmt"

// Dimension is the physical type of a unit. Converting between units is
// only allowed within one dimension.
type Dimension int

const (
	Length Dimension = iota
	Angle
)

func (d Dimension) String() string {
	switch d {
	case Length:
		return "length"
	case Angle:
		return "angle"
	}
	return fmt.Sprintf("dimension(%d)", int(d))
}

// Unit is a named physical unit. Factor is the size of the unit expressed
// in the dimension's base unit (cm for lengths, rad for angles).
type Unit struct {
	Name      string
	Dimension Dimension
	Factor    float64
}

var table = map[string]Unit{
	"mm":   {Name: "mm", Dimension: Length, Factor: 0.1},
	"cm":   {Name: "cm", Dimension: Length, Factor: 1},
	"m":    {Name: "m", Dimension: Length, Factor: 100},
	"inch": {Name: "inch", Dimension: Length, Factor: 2.54},
	"rad":  {Name: "rad", Dimension: Angle, Factor: 1},
	"deg":  {Name: "deg", Dimension: Angle, Factor: 0.017453292519943295},
}

// Get looks up a unit by name.
func Get(name string) (Unit, error) {
	u, ok := table[name]
	if !ok {
		return Unit{}, fmt.Errorf("unknown unit %q", name)
	}
	return u, nil
}

// UnitError reports an attempt to convert across physical dimensions.
type UnitError struct {
	From, To Unit
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("cannot convert %s (%s) to %s (%s)",
		e.From.Name, e.From.Dimension, e.To.Name, e.To.Dimension)
}

// Factor returns the multiplier that converts a value in from-units to
// to-units. Fails with a *UnitError when the dimensions differ.
func Factor(from, to Unit) (float64, error) {
	if from.Dimension != to.Dimension {
		return 0, &UnitError{From: from, To: to}
	}
	return from.Factor / to.Factor, nil
}

// Convert converts a value from one unit to another.
func Convert(v float64, from, to Unit) (float64, error) {
	f, err := Factor(from, to)
	if err != nil {
		return 0, err
	}
	return v * f, nil
}
