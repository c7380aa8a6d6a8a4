package scan

import (
	"encoding/json"
	"fmt"
	"os"
)

// ParseFrameFile reads and parses a frame export JSON file
func ParseFrameFile(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseFrameJSON(data)
}

// ParseFrameJSON parses frame JSON data
func ParseFrameJSON(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if len(f.Points) == 0 {
		return nil, fmt.Errorf("frame %d has no points", f.Index)
	}
	return &f, nil
}

// EncodeFrame serializes a frame to JSON
func EncodeFrame(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshaling frame %d: %w", f.Index, err)
	}
	return data, nil
}

// FrameSummary describes a parsed frame for inspection output
type FrameSummary struct {
	Index      int
	DeviceID   string
	PointCount int
	Centroid   Point3
	MinBound   Point3
	MaxBound   Point3
}

// Summarize computes a summary of a frame's point cloud
func Summarize(f *Frame) FrameSummary {
	s := FrameSummary{
		Index:      f.Index,
		DeviceID:   f.DeviceID,
		PointCount: len(f.Points),
		Centroid:   Centroid3(f.Points),
	}
	if len(f.Points) == 0 {
		return s
	}
	s.MinBound = f.Points[0]
	s.MaxBound = f.Points[0]
	for _, p := range f.Points[1:] {
		if p.X < s.MinBound.X {
			s.MinBound.X = p.X
		}
		if p.Y < s.MinBound.Y {
			s.MinBound.Y = p.Y
		}
		if p.Z < s.MinBound.Z {
			s.MinBound.Z = p.Z
		}
		if p.X > s.MaxBound.X {
			s.MaxBound.X = p.X
		}
		if p.Y > s.MaxBound.Y {
			s.MaxBound.Y = p.Y
		}
		if p.Z > s.MaxBound.Z {
			s.MaxBound.Z = p.Z
		}
	}
	return s
}
