package scan

import (
	"math"
	"testing"
)

func TestFractionalTransform(t *testing.T) {
	m := Mul(NewTranslation(100, 40, -20), RotationZDeg(90))

	if !ApproxEqual(FractionalTransform(m, 0), Identity(), 1e-12) {
		t.Error("fraction 0 should be identity")
	}
	if !ApproxEqual(FractionalTransform(m, 1), m, 1e-12) {
		t.Error("fraction 1 should be the full transform")
	}

	half := FractionalTransform(m, 0.5)
	if math.Abs(half.YawDeg()-45) > 1e-6 {
		t.Errorf("half of a 90° rotation should yaw 45°, got %f", half.YawDeg())
	}
	tr := half.Translation()
	if math.Abs(tr.X-50) > 1e-9 || math.Abs(tr.Y-20) > 1e-9 || math.Abs(tr.Z+10) > 1e-9 {
		t.Errorf("half translation = (%f, %f, %f)", tr.X, tr.Y, tr.Z)
	}
	if !half.IsRigid(1e-9) {
		t.Error("interpolated transform must stay rigid")
	}
}

func TestFractionalTransform_PureTranslation(t *testing.T) {
	m := NewTranslation(90, 0, 0)
	third := FractionalTransform(m, 1.0/3.0)
	if math.Abs(third.Translation().X-30) > 1e-9 {
		t.Errorf("third of 90mm = %f", third.Translation().X)
	}
}

// gridFrame builds a frame with a widely spaced planar grid so nearest
// neighbour matching is unambiguous for small offsets.
func gridFrame(index int, spacing float64, side int) Frame {
	f := Frame{Index: index}
	for x := 0; x < side; x++ {
		for y := 0; y < side; y++ {
			f.Points = append(f.Points, Point3{
				X: float64(x) * spacing,
				Y: float64(y) * spacing,
				Z: float64((x + y) % 3 * 50),
			})
		}
	}
	return f
}

func TestChainCorrector_EmptyBoundary(t *testing.T) {
	frames := []Frame{gridFrame(0, 200, 4), gridFrame(1, 200, 4), gridFrame(2, 200, 4)}
	transforms := []Mat4{Identity(), Identity(), Identity()}
	keypoints := make([]Keypoints, len(frames))

	corrector := NewChainCorrector()
	corrections, _, err := corrector.Correct(frames, keypoints, transforms, Keypoints{})
	if err != nil {
		t.Fatalf("Correct failed: %v", err)
	}

	// No boundary anchor means no measurable residual
	for i, c := range corrections {
		if !ApproxEqual(c, Identity(), 1e-12) {
			t.Errorf("correction %d should be identity without a boundary", i)
		}
	}
}

func TestChainCorrector_DistributesResidual(t *testing.T) {
	last := gridFrame(4, 300, 5)
	frames := []Frame{gridFrame(0, 300, 5), gridFrame(1, 300, 5), gridFrame(2, 300, 5), gridFrame(3, 300, 5), last}
	transforms := make([]Mat4, len(frames))
	keypoints := make([]Keypoints, len(frames))
	for i := range transforms {
		transforms[i] = Identity()
	}

	// The anchor sits 30mm from where the chain ended; the full residual
	// must be absorbed by the last frame, none by the first.
	boundary := Keypoints{
		Source: last.Points,
		Target: ApplyAll(last.Points, NewTranslation(30, 0, 0)),
	}

	corrector := NewChainCorrector()
	corrections, corrected, err := corrector.Correct(frames, keypoints, transforms, boundary)
	if err != nil {
		t.Fatalf("Correct failed: %v", err)
	}

	if !ApproxEqual(corrections[0], Identity(), 1e-12) {
		t.Error("corrections[0] must stay identity")
	}

	lastTr := corrections[len(corrections)-1].Translation()
	if math.Abs(lastTr.X-30) > 2 {
		t.Errorf("final correction should close the 30mm residual, got %f", lastTr.X)
	}

	// Fractions grow monotonically along the chain
	prev := -1.0
	for i, c := range corrections {
		x := c.Translation().X
		if x < prev-1e-9 {
			t.Errorf("correction %d regressed: %f after %f", i, x, prev)
		}
		prev = x
	}

	if len(corrected) != len(keypoints) {
		t.Errorf("corrected keypoints length = %d, want %d", len(corrected), len(keypoints))
	}
}

func TestChainCorrector_Errors(t *testing.T) {
	corrector := NewChainCorrector()
	if _, _, err := corrector.Correct(nil, nil, nil, Keypoints{}); err == nil {
		t.Error("empty loop should error")
	}
	frames := []Frame{gridFrame(0, 100, 3)}
	if _, _, err := corrector.Correct(frames, nil, []Mat4{Identity(), Identity()}, Keypoints{}); err == nil {
		t.Error("transform count mismatch should error")
	}
}

func TestRelaxCorrector_PullsTowardPredecessor(t *testing.T) {
	f0 := gridFrame(0, 300, 4)
	f1 := gridFrame(1, 300, 4)
	frames := []Frame{f0, f1}
	transforms := []Mat4{Identity(), Identity()}

	// Frame 1's matched points sit 10mm off frame 0's: the relaxation
	// must move frame 1 toward agreement.
	keypoints := []Keypoints{
		{
			Source: f0.Points,
			Target: ApplyAll(f0.Points, NewTranslation(10, 0, 0)),
		},
	}

	corrector := &RelaxCorrector{Sweeps: 1, Damping: 1.0}
	corrections, _, err := corrector.Correct(frames, keypoints, transforms, Keypoints{})
	if err != nil {
		t.Fatalf("Correct failed: %v", err)
	}

	if !ApproxEqual(corrections[0], Identity(), 1e-12) {
		t.Error("corrections[0] must stay identity")
	}
	if got := corrections[1].Translation().X; math.Abs(got+10) > 1e-6 {
		t.Errorf("frame 1 correction = %f, want -10", got)
	}
}

func TestRelaxCorrector_DampedConvergence(t *testing.T) {
	f0 := gridFrame(0, 300, 4)
	frames := []Frame{f0, gridFrame(1, 300, 4)}
	transforms := []Mat4{Identity(), Identity()}
	keypoints := []Keypoints{
		{Source: f0.Points, Target: ApplyAll(f0.Points, NewTranslation(8, 0, 0))},
	}

	corrector := NewRelaxCorrector()
	corrections, _, err := corrector.Correct(frames, keypoints, transforms, Keypoints{})
	if err != nil {
		t.Fatalf("Correct failed: %v", err)
	}

	// Three damped sweeps remove most of the 8mm residual but not all
	got := corrections[1].Translation().X
	if got > -4 || got < -8.5 {
		t.Errorf("damped correction = %f, want between -8 and -4", got)
	}
}

func TestRelaxCorrector_SkipsSparseCorrespondence(t *testing.T) {
	frames := []Frame{gridFrame(0, 300, 4), gridFrame(1, 300, 4)}
	transforms := []Mat4{Identity(), Identity()}
	// Fewer than 3 pairs: nothing to fit
	keypoints := []Keypoints{
		{Source: []Point3{{X: 1}, {X: 2}}, Target: []Point3{{X: 3}, {X: 4}}},
	}

	corrector := NewRelaxCorrector()
	corrections, _, err := corrector.Correct(frames, keypoints, transforms, Keypoints{})
	if err != nil {
		t.Fatalf("Correct failed: %v", err)
	}
	if !ApproxEqual(corrections[1], Identity(), 1e-12) {
		t.Error("sparse correspondence should leave the correction at identity")
	}
}

func TestApplyCorrections_SpaceConvention(t *testing.T) {
	kp := []Keypoints{
		{Source: []Point3{{X: 0}}, Target: []Point3{{X: 0}}},
	}
	corrections := []Mat4{NewTranslation(1, 0, 0), NewTranslation(2, 0, 0)}

	out := applyCorrections(kp, corrections)
	// Source follows correction i, Target correction i+1
	if out[0].Source[0].X != 1 {
		t.Errorf("Source moved by %f, want 1", out[0].Source[0].X)
	}
	if out[0].Target[0].X != 2 {
		t.Errorf("Target moved by %f, want 2", out[0].Target[0].X)
	}
}
