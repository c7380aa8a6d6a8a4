package scan

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func zigzagChain() *PoseChain {
	// Poses walking along X with a small Y wiggle every other frame.
	chain := &PoseChain{}
	for i := 0; i < 10; i++ {
		y := 0.0
		if i%2 == 1 {
			y = 5.0
		}
		chain.Poses = append(chain.Poses, Pose{
			FrameIndex: i * 2,
			Transform:  NewTranslation(float64(i)*100, y, 0),
		})
	}
	return chain
}

func TestTrajectoryFromChain(t *testing.T) {
	traj := TrajectoryFromChain(zigzagChain())

	if len(traj.Line) != 10 || len(traj.Indices) != 10 {
		t.Fatalf("got %d vertices and %d indices, want 10 each", len(traj.Line), len(traj.Indices))
	}
	if traj.Indices[3] != 6 {
		t.Errorf("index 3 = %d, want 6", traj.Indices[3])
	}
	if traj.Line[4][0] != 400 || traj.Line[4][1] != 0 {
		t.Errorf("vertex 4 = %v, want (400, 0)", traj.Line[4])
	}
}

func TestTrajectory_Length(t *testing.T) {
	chain := &PoseChain{Poses: []Pose{
		{Transform: Identity()},
		{Transform: NewTranslation(300, 0, 0)},
		{Transform: NewTranslation(300, 400, 0)},
	}}
	traj := TrajectoryFromChain(chain)

	if got := traj.Length(); math.Abs(got-700) > 1e-9 {
		t.Errorf("length = %f, want 700", got)
	}
}

func TestTrajectory_Simplified(t *testing.T) {
	traj := TrajectoryFromChain(zigzagChain())

	// Zero tolerance is a passthrough.
	if got := traj.Simplified(0); len(got) != len(traj.Line) {
		t.Errorf("zero tolerance changed vertex count: %d", len(got))
	}

	// A tolerance above the wiggle amplitude flattens the path.
	simplified := traj.Simplified(25)
	if len(simplified) >= len(traj.Line) {
		t.Errorf("simplification kept all %d vertices", len(simplified))
	}
	if len(simplified) < 2 {
		t.Fatal("simplification must keep endpoints")
	}
	first, last := simplified[0], simplified[len(simplified)-1]
	if first[0] != 0 || last[0] != 900 {
		t.Errorf("endpoints moved: %v .. %v", first, last)
	}
}

func TestTrajectory_Bound(t *testing.T) {
	traj := TrajectoryFromChain(zigzagChain())
	b := traj.Bound()

	want := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{900, 5}}
	if b != want {
		t.Errorf("bound = %v, want %v", b, want)
	}
}

func TestTrajectory_ToGeoJSON(t *testing.T) {
	traj := TrajectoryFromChain(zigzagChain())

	data, err := traj.ToGeoJSON(0, 5)
	if err != nil {
		t.Fatalf("ToGeoJSON failed: %v", err)
	}

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}

	if fc.Type != "FeatureCollection" {
		t.Errorf("type = %s", fc.Type)
	}
	// One LineString plus waypoints at vertex 0 and 5.
	if len(fc.Features) != 3 {
		t.Fatalf("got %d features, want 3", len(fc.Features))
	}
	if fc.Features[0].Geometry.Type != "LineString" {
		t.Errorf("first feature = %s, want LineString", fc.Features[0].Geometry.Type)
	}
	if fc.Features[1].Geometry.Type != "Point" || fc.Features[2].Geometry.Type != "Point" {
		t.Error("waypoints should be Points")
	}
	if got := fc.Features[2].Properties["frameIndex"].(float64); got != 10 {
		t.Errorf("second waypoint frame index = %v, want 10", got)
	}
}
