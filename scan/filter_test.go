package scan

import (
	"math/rand"
	"testing"
)

func TestVoxelDownsample(t *testing.T) {
	// Four points in one 100mm voxel collapse to their centroid
	points := []Point3{
		{X: 10, Y: 10, Z: 10},
		{X: 20, Y: 20, Z: 20},
		{X: 30, Y: 30, Z: 30},
		{X: 40, Y: 40, Z: 40},
	}
	out := voxelDownsample(points, 100)
	if len(out) != 1 {
		t.Fatalf("got %d points, want 1", len(out))
	}
	if out[0].X != 25 || out[0].Y != 25 || out[0].Z != 25 {
		t.Errorf("voxel centroid = %+v", out[0])
	}

	// Zero leaf size disables downsampling
	if got := voxelDownsample(points, 0); len(got) != 4 {
		t.Errorf("leaf 0 should be a no-op, got %d points", len(got))
	}
}

func TestVoxelDownsample_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	points := createCloud3(Point3{}, 500, 1000, rng)

	a := voxelDownsample(points, 50)
	b := voxelDownsample(points, 50)
	if len(a) != len(b) {
		t.Fatalf("nondeterministic size: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("nondeterministic order at %d", i)
		}
	}
}

func TestRemoveOutliers(t *testing.T) {
	// A tight cluster plus one stray point
	points := []Point3{
		{X: 0}, {X: 10}, {X: 20}, {X: 30},
		{X: 5000},
	}
	out := removeOutliers(points, 50, 2)
	if len(out) != 4 {
		t.Fatalf("got %d points, want 4", len(out))
	}
	for _, p := range out {
		if p.X == 5000 {
			t.Error("stray point survived outlier removal")
		}
	}
}

func TestRemoveOutliers_Disabled(t *testing.T) {
	points := []Point3{{X: 0}, {X: 5000}}
	if got := removeOutliers(points, 0, 2); len(got) != 2 {
		t.Error("zero radius should disable removal")
	}
	if got := removeOutliers(points, 50, 0); len(got) != 2 {
		t.Error("zero neighbour count should disable removal")
	}
}

func TestFilter_Apply(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	frames := []Frame{
		{Index: 0, Points: createCloud3(Point3{}, 400, 500, rng)},
		{Index: 1, Points: createCloud3(Point3{}, 400, 500, rng)},
	}
	before0 := len(frames[0].Points)

	f := NewFilter(FilterConfig{VoxelSize: 100, OutlierRadius: 500, MinNeighbours: 1})
	f.Apply(frames)

	if len(frames) != 2 {
		t.Fatal("frame count must be preserved")
	}
	if frames[0].Index != 0 || frames[1].Index != 1 {
		t.Error("frame order must be preserved")
	}
	if len(frames[0].Points) >= before0 {
		t.Errorf("filter did not reduce the cloud: %d -> %d", before0, len(frames[0].Points))
	}
}

func TestNewFilter_Defaults(t *testing.T) {
	f := NewFilter(FilterConfig{})
	def := DefaultFilterConfig()
	if f.cfg.VoxelSize != def.VoxelSize || f.cfg.OutlierRadius != def.OutlierRadius || f.cfg.MinNeighbours != def.MinNeighbours {
		t.Errorf("zero config should pick up defaults, got %+v", f.cfg)
	}
}
