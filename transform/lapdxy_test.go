package transform

import (
	"math"
	"testing"
)

// Geometry of a real LaPD XY deployment, in cm.
func lapdConfig() Config {
	return Config{
		Type:            "lapd_xy",
		PivotToCenter:   62.94,
		PivotToDrive:    133.51,
		ProbeAxisOffset: 20.16,
	}
}

func TestLaPDXYRoundTrip(t *testing.T) {
	tr, err := New(lapdConfig(), 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	points := []MotionPoint{
		{0, 0},
		{30, -10},
		{-15, 25},
		{10.5, 0},
		{0, -30},
	}
	dpts, err := tr.ToDrive(points)
	if err != nil {
		t.Fatalf("ToDrive: %v", err)
	}
	back, err := tr.ToMotionSpace(dpts)
	if err != nil {
		t.Fatalf("ToMotionSpace: %v", err)
	}
	for i, p := range points {
		for j := range p {
			if math.Abs(back[i][j]-p[j]) > 1e-6 {
				t.Errorf("point %v round-tripped to %v", p, back[i])
				break
			}
		}
	}
}

func TestLaPDXYOrigin(t *testing.T) {
	tr, err := New(lapdConfig(), 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// with the probe at machine center the shaft is fully inserted and
	// level: drive x equals pivot-to-center travel, drive y is zero
	dpts, err := tr.ToDrive([]MotionPoint{{0, 0}})
	if err != nil {
		t.Fatalf("ToDrive: %v", err)
	}
	if math.Abs(dpts[0][0]) > 1e-9 || math.Abs(dpts[0][1]) > 1e-9 {
		t.Errorf("drive point for machine center = %v, want (0, 0)", dpts[0])
	}
}

func TestLaPDXYPolarity(t *testing.T) {
	cfg := lapdConfig()
	cfg.DrivePolarity = []int{-1, 1}
	tr, err := New(cfg, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base, err := New(lapdConfig(), 2)
	if err != nil {
		t.Fatalf("New base: %v", err)
	}

	p := []MotionPoint{{20, 5}}
	got, err := tr.ToDrive(p)
	if err != nil {
		t.Fatalf("ToDrive: %v", err)
	}
	want, err := base.ToDrive(p)
	if err != nil {
		t.Fatalf("ToDrive base: %v", err)
	}
	if math.Abs(got[0][0]+want[0][0]) > 1e-9 || math.Abs(got[0][1]-want[0][1]) > 1e-9 {
		t.Errorf("flipped drive polarity: got %v, base %v", got[0], want[0])
	}

	// and the round trip still closes
	back, err := tr.ToMotionSpace(got)
	if err != nil {
		t.Fatalf("ToMotionSpace: %v", err)
	}
	if math.Abs(back[0][0]-20) > 1e-6 || math.Abs(back[0][1]-5) > 1e-6 {
		t.Errorf("round trip with polarity = %v, want (20, 5)", back[0])
	}
}

func TestLaPDXYPolarityValidation(t *testing.T) {
	cfg := lapdConfig()
	cfg.DrivePolarity = []int{1, 1, 1}
	if _, err := New(cfg, 2); err == nil {
		t.Error("expected error for 3-element polarity")
	}

	cfg = lapdConfig()
	cfg.MSpacePolarity = []int{2, 1}
	if _, err := New(cfg, 2); err == nil {
		t.Error("expected error for polarity value 2")
	}
}

func TestLaPDXYDeployedSide(t *testing.T) {
	tr, err := New(lapdConfig(), 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := tr.(*LaPDXY).DeployedSide(); got != "East" {
		t.Errorf("DeployedSide() = %q, want East", got)
	}

	cfg := lapdConfig()
	cfg.PivotToCenter = -cfg.PivotToCenter
	tr, err = New(cfg, 2)
	if err != nil {
		t.Fatalf("New west: %v", err)
	}
	west := tr.(*LaPDXY)
	if got := west.DeployedSide(); got != "West" {
		t.Errorf("DeployedSide() = %q, want West", got)
	}
	if got := west.PivotToCenter(); got != 62.94 {
		t.Errorf("PivotToCenter() = %g, want the absolute value 62.94", got)
	}
}

func TestLaPDXYNegativeGeometry(t *testing.T) {
	cfg := lapdConfig()
	cfg.PivotToDrive = -cfg.PivotToDrive
	cfg.ProbeAxisOffset = -cfg.ProbeAxisOffset
	tr, err := New(cfg, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base, _ := New(lapdConfig(), 2)
	p := []MotionPoint{{12, -7}}
	got, _ := tr.ToDrive(p)
	want, _ := base.ToDrive(p)
	if math.Abs(got[0][0]-want[0][0]) > 1e-9 || math.Abs(got[0][1]-want[0][1]) > 1e-9 {
		t.Errorf("negative geometry not folded to absolute: got %v, want %v", got[0], want[0])
	}
}

func TestLaPDXYDimensionality(t *testing.T) {
	if _, err := New(lapdConfig(), 3); err == nil {
		t.Error("expected error for a 3-axis drive")
	}

	tr, err := New(lapdConfig(), 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.ToDrive([]MotionPoint{{1, 2, 3}}); err == nil {
		t.Error("expected error for 3-element point")
	}
	if _, err := tr.ToMotionSpace([]DrivePoint{{1}}); err == nil {
		t.Error("expected error for 1-element point")
	}
}

func TestLaPDXYDroopRoundTrip(t *testing.T) {
	cfg := lapdConfig()
	cfg.DroopCorrect = true
	cfg.PivotToFeedthru = 21.6
	tr, err := New(cfg, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	points := []MotionPoint{
		{0, 0},
		{25, -12},
		{-20, 8},
	}
	dpts, err := tr.ToDrive(points)
	if err != nil && !IsConvergenceWarning(err) {
		t.Fatalf("ToDrive: %v", err)
	}
	back, err := tr.ToMotionSpace(dpts)
	if err != nil {
		t.Fatalf("ToMotionSpace: %v", err)
	}
	for i, p := range points {
		for j := range p {
			if math.Abs(back[i][j]-p[j]) > 1e-6 {
				t.Errorf("point %v round-tripped to %v", p, back[i])
				break
			}
		}
	}
}

func TestUnknownTransformType(t *testing.T) {
	if _, err := New(Config{Type: "polar"}, 2); err == nil {
		t.Error("expected error for unknown transform type")
	}
}

func TestIdentityTransform(t *testing.T) {
	tr, err := New(Config{Type: "identity"}, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Dimensionality() != -1 {
		t.Errorf("Dimensionality() = %d, want -1", tr.Dimensionality())
	}

	dpts, err := tr.ToDrive([]MotionPoint{{1, 2, 3}})
	if err != nil {
		t.Fatalf("ToDrive: %v", err)
	}
	if dpts[0][0] != 1 || dpts[0][1] != 2 || dpts[0][2] != 3 {
		t.Errorf("ToDrive = %v, want [1 2 3]", dpts[0])
	}

	if _, err := tr.ToDrive([]MotionPoint{{1, 2}}); err == nil {
		t.Error("expected error for 2-element point on a 3-axis identity")
	}
}
