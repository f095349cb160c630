package transform

func init() {
	Register("identity", func(cfg Config, naxes int) (Transform, error) {
		return &Identity{naxes: naxes}, nil
	})
}

// Identity maps motion space onto drive space one-to-one. It morphs to
// any drive dimensionality.
type Identity struct {
	naxes int
}

func (t *Identity) Type() string        { return "identity" }
func (t *Identity) Dimensionality() int { return -1 }

func (t *Identity) ToDrive(points []MotionPoint) ([]DrivePoint, error) {
	out := make([]DrivePoint, len(points))
	for i, p := range points {
		if err := checkDims(len(p), t.naxes, "motion-space"); err != nil {
			return nil, err
		}
		q := make(DrivePoint, len(p))
		copy(q, p)
		out[i] = q
	}
	return out, nil
}

func (t *Identity) ToMotionSpace(points []DrivePoint) ([]MotionPoint, error) {
	out := make([]MotionPoint, len(points))
	for i, p := range points {
		if err := checkDims(len(p), t.naxes, "drive"); err != nil {
			return nil, err
		}
		q := make(MotionPoint, len(p))
		copy(q, p)
		out[i] = q
	}
	return out, nil
}
