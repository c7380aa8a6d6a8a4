package scan

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// Trajectory is the top-down (X, Y) camera path extracted from a pose
// chain, in mm.
type Trajectory struct {
	Line    orb.LineString
	Indices []int // frame index per vertex, parallel to Line
}

// TrajectoryFromChain projects every pose's translation onto the ground
// plane in frame order.
func TrajectoryFromChain(chain *PoseChain) Trajectory {
	traj := Trajectory{
		Line:    make(orb.LineString, 0, chain.Len()),
		Indices: make([]int, 0, chain.Len()),
	}
	for _, pose := range chain.Poses {
		t := pose.Transform.Translation()
		traj.Line = append(traj.Line, orb.Point{t.X, t.Y})
		traj.Indices = append(traj.Indices, pose.FrameIndex)
	}
	return traj
}

// Simplified returns a Douglas-Peucker simplification of the path for
// rendering and export. Tolerance is in mm; zero returns the path as-is.
func (t Trajectory) Simplified(tolerance float64) orb.LineString {
	if tolerance <= 0 || len(t.Line) < 3 {
		return t.Line
	}
	return simplify.DouglasPeucker(tolerance).Simplify(t.Line.Clone()).(orb.LineString)
}

// Bound returns the bounding box of the path
func (t Trajectory) Bound() orb.Bound {
	return t.Line.Bound()
}

// Length returns the total walked path length in mm
func (t Trajectory) Length() float64 {
	total := 0.0
	for i := 1; i < len(t.Line); i++ {
		total += planarDistance(t.Line[i-1], t.Line[i])
	}
	return total
}

func planarDistance(a, b orb.Point) float64 {
	dx, dy := a[0]-b[0], a[1]-b[1]
	return math.Sqrt(dx*dx + dy*dy)
}

// geojsonGeometry is a minimal GeoJSON geometry wrapper
type geojsonGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// geojsonFeature is a minimal GeoJSON feature
type geojsonFeature struct {
	Type       string                 `json:"type"`
	Geometry   geojsonGeometry        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// geojsonCollection is a minimal GeoJSON FeatureCollection
type geojsonCollection struct {
	Type     string           `json:"type"`
	Features []geojsonFeature `json:"features"`
}

// ToGeoJSON exports the trajectory as a GeoJSON FeatureCollection: one
// LineString for the (simplified) path and one Point per loop-size-th
// pose as waypoint markers.
func (t Trajectory) ToGeoJSON(tolerance float64, waypointEvery int) ([]byte, error) {
	line := t.Simplified(tolerance)
	coords := make([][2]float64, len(line))
	for i, p := range line {
		coords[i] = [2]float64{p[0], p[1]}
	}
	lineCoords, err := json.Marshal(coords)
	if err != nil {
		return nil, fmt.Errorf("marshaling path coordinates: %w", err)
	}

	fc := geojsonCollection{
		Type: "FeatureCollection",
		Features: []geojsonFeature{
			{
				Type:     "Feature",
				Geometry: geojsonGeometry{Type: "LineString", Coordinates: lineCoords},
				Properties: map[string]interface{}{
					"kind":     "trajectory",
					"lengthMM": t.Length(),
					"poses":    len(t.Line),
				},
			},
		},
	}

	if waypointEvery > 0 {
		for i := 0; i < len(t.Line); i += waypointEvery {
			ptCoords, err := json.Marshal([2]float64{t.Line[i][0], t.Line[i][1]})
			if err != nil {
				return nil, fmt.Errorf("marshaling waypoint: %w", err)
			}
			fc.Features = append(fc.Features, geojsonFeature{
				Type:     "Feature",
				Geometry: geojsonGeometry{Type: "Point", Coordinates: ptCoords},
				Properties: map[string]interface{}{
					"kind":       "waypoint",
					"frameIndex": t.Indices[i],
				},
			})
		}
	}

	return json.MarshalIndent(fc, "", "  ")
}

// WriteGeoJSON writes the trajectory export to a file
func (t Trajectory) WriteGeoJSON(path string, tolerance float64, waypointEvery int) error {
	data, err := t.ToGeoJSON(tolerance, waypointEvery)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing trajectory file: %w", err)
	}
	return nil
}
