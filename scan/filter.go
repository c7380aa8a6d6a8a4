package scan

import "math"

// DefaultFilterConfig returns the filter defaults used ahead of
// registration. Values are in mm.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		VoxelSize:     25.0,
		OutlierRadius: 120.0,
		MinNeighbours: 2,
	}
}

// Filter reduces and cleans point clouds before registration. It operates
// in place on a frame slice: frame order and count are preserved, only
// each frame's point set shrinks.
type Filter struct {
	cfg FilterConfig
}

// NewFilter creates a filter, falling back to defaults for zero fields
func NewFilter(cfg FilterConfig) *Filter {
	def := DefaultFilterConfig()
	if cfg.VoxelSize <= 0 {
		cfg.VoxelSize = def.VoxelSize
	}
	if cfg.OutlierRadius <= 0 {
		cfg.OutlierRadius = def.OutlierRadius
	}
	if cfg.MinNeighbours <= 0 {
		cfg.MinNeighbours = def.MinNeighbours
	}
	return &Filter{cfg: cfg}
}

// Apply filters every frame in place
func (f *Filter) Apply(frames []Frame) {
	for i := range frames {
		pts := voxelDownsample(frames[i].Points, f.cfg.VoxelSize)
		pts = removeOutliers(pts, f.cfg.OutlierRadius, f.cfg.MinNeighbours)
		frames[i].Points = pts
	}
}

type voxelKey struct {
	x, y, z int32
}

// voxelDownsample replaces each occupied voxel with the centroid of its
// points. Leaf size of zero disables downsampling.
func voxelDownsample(points []Point3, leaf float64) []Point3 {
	if leaf <= 0 || len(points) == 0 {
		return points
	}

	type acc struct {
		sum   Point3
		count int
	}
	cells := make(map[voxelKey]*acc)
	order := make([]voxelKey, 0, len(points)/4)

	for _, p := range points {
		key := voxelKey{
			x: int32(math.Floor(p.X / leaf)),
			y: int32(math.Floor(p.Y / leaf)),
			z: int32(math.Floor(p.Z / leaf)),
		}
		a, ok := cells[key]
		if !ok {
			a = &acc{}
			cells[key] = a
			order = append(order, key)
		}
		a.sum.X += p.X
		a.sum.Y += p.Y
		a.sum.Z += p.Z
		a.count++
	}

	// Iterate in first-seen order so the result is deterministic.
	result := make([]Point3, 0, len(order))
	for _, key := range order {
		a := cells[key]
		n := float64(a.count)
		result = append(result, Point3{X: a.sum.X / n, Y: a.sum.Y / n, Z: a.sum.Z / n})
	}
	return result
}

// removeOutliers drops points with fewer than minNeighbours other points
// within radius. Brute force over the (already voxel-reduced) cloud.
func removeOutliers(points []Point3, radius float64, minNeighbours int) []Point3 {
	if radius <= 0 || minNeighbours <= 0 || len(points) <= minNeighbours {
		return points
	}

	r2 := radius * radius
	result := make([]Point3, 0, len(points))
	for i, p := range points {
		neighbours := 0
		for j, q := range points {
			if i == j {
				continue
			}
			if SquaredDistance3(p, q) <= r2 {
				neighbours++
				if neighbours >= minNeighbours {
					break
				}
			}
		}
		if neighbours >= minNeighbours {
			result = append(result, p)
		}
	}
	return result
}
