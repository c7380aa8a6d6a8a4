package scan

// DistanceMetric measures how far the sensor moved between two
// consecutive frames. The camera-centroid metric is the default; the
// type exists so tests can substitute a deterministic metric.
type DistanceMetric func(prev, next Frame) float64

// CentroidDistance approximates camera motion by the displacement of the
// cloud centroid between consecutive frames.
func CentroidDistance(prev, next Frame) float64 {
	return Distance3(Centroid3(prev.Points), Centroid3(next.Points))
}

// EdgeBalancer chooses edge positions so that cumulative inter-frame
// distance between consecutive edges is approximately equal. Positions
// are indices into the strided stream, not raw frame indices.
type EdgeBalancer struct {
	Metric DistanceMetric
}

// NewEdgeBalancer creates a balancer with the centroid distance metric
func NewEdgeBalancer() *EdgeBalancer {
	return &EdgeBalancer{Metric: CentroidDistance}
}

// Balance walks the stream once, accumulating inter-frame distance, and
// returns targetCount edge positions. The first and last stream
// positions are always edges, and interior edges sit at the positions
// whose cumulative distance first reaches each equal share of the total.
// Streams shorter than targetCount yield fewer edges.
func (b *EdgeBalancer) Balance(stream FrameStream, targetCount int) ([]uint, error) {
	metric := b.Metric
	if metric == nil {
		metric = CentroidDistance
	}

	// cumulative[i] is the distance walked from position 0 up to i
	var cumulative []float64
	var prev Frame
	first := true
	for {
		f, ok, err := stream.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if first {
			cumulative = append(cumulative, 0)
			first = false
		} else {
			cumulative = append(cumulative, cumulative[len(cumulative)-1]+metric(prev, f))
		}
		prev = f
	}

	n := len(cumulative)
	if n == 0 {
		return nil, nil
	}

	target := targetCount
	if target < 2 || n < 2 {
		return []uint{0, uint(n - 1)}, nil
	}
	if target > n {
		target = n
	}

	total := cumulative[n-1]
	positions := []uint{0}
	pos := 1
	for k := 1; k < target-1; k++ {
		share := total * float64(k) / float64(target-1)
		for pos < n-1 && cumulative[pos] < share {
			pos++
		}
		// Never reuse a position: each edge must advance.
		if int(positions[len(positions)-1]) >= pos {
			pos = int(positions[len(positions)-1]) + 1
			if pos >= n-1 {
				break
			}
		}
		positions = append(positions, uint(pos))
	}
	positions = append(positions, uint(n-1))
	return positions, nil
}
