package scan

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func rendererChains() map[string]*PoseChain {
	chain := &PoseChain{}
	for i := 0; i < 8; i++ {
		chain.Poses = append(chain.Poses, Pose{
			FrameIndex: i,
			Transform:  NewTranslation(float64(i)*500, float64(i%3)*200, 0),
		})
	}
	return map[string]*PoseChain{"handheld1": chain}
}

func TestCalculateBounds(t *testing.T) {
	r := NewTrajectoryRenderer(rendererChains())

	minX, minY, maxX, maxY := r.CalculateBounds()
	if minX != 0 || minY != 0 || maxX != 3500 || maxY != 400 {
		t.Errorf("bounds = (%f, %f) .. (%f, %f)", minX, minY, maxX, maxY)
	}
}

func TestCalculateBounds_Empty(t *testing.T) {
	r := NewTrajectoryRenderer(map[string]*PoseChain{})

	minX, minY, maxX, maxY := r.CalculateBounds()
	if minX != 0 || minY != 0 || maxX != 0 || maxY != 0 {
		t.Errorf("empty bounds should collapse to zero, got (%f, %f) .. (%f, %f)", minX, minY, maxX, maxY)
	}
}

func TestRender(t *testing.T) {
	r := NewTrajectoryRenderer(rendererChains())
	r.Edges["handheld1"] = []int{3, 6}

	img := r.Render()
	if img == nil {
		t.Fatal("Render returned nil")
	}
	b := img.Bounds()
	if b.Dx() <= 2*r.Padding || b.Dy() <= 2*r.Padding {
		t.Errorf("image too small: %v", b)
	}
}

func TestRender_SizeCap(t *testing.T) {
	chain := &PoseChain{Poses: []Pose{
		{Transform: Identity()},
		{Transform: NewTranslation(1e6, 1e6, 0)},
	}}
	r := NewTrajectoryRenderer(map[string]*PoseChain{"s1": chain})
	r.MaxSize = 500

	img := r.Render()
	b := img.Bounds()
	if b.Dx() > 500 || b.Dy() > 500 {
		t.Errorf("size cap not enforced: %v", b)
	}
}

func TestSavePNG(t *testing.T) {
	r := NewTrajectoryRenderer(rendererChains())
	path := filepath.Join(t.TempDir(), "trajectory.png")

	if err := r.SavePNG(path); err != nil {
		t.Fatalf("SavePNG failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("output is not a valid PNG: %v", err)
	}
}
