package scan

import "math"

// SamplePoints reduces a point cloud to at most max points by uniform
// index sampling. Returns the input slice unchanged when it already fits.
func SamplePoints(points []Point3, max int) []Point3 {
	if max <= 0 || len(points) <= max {
		return points
	}
	result := make([]Point3, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(float64(i) * step)
		result[i] = points[idx]
	}
	return result
}

// ExtractKeypoints selects salient points from a frame for registration.
// Points far from the local centroid carry the structural signal (edges
// and protrusions discriminate pose much better than flat interior
// regions), so sampling is biased toward them: the cloud is ranked by
// distance from the centroid and the upper half is merged with a uniform
// sample of the remainder.
func ExtractKeypoints(f Frame, max int) []Point3 {
	if len(f.Points) <= max || max <= 0 {
		return f.Points
	}

	c := Centroid3(f.Points)

	// Partition around the median centroid distance without a full sort:
	// two passes, one to find an approximate threshold and one to split.
	var sum float64
	for _, p := range f.Points {
		sum += Distance3(p, c)
	}
	mean := sum / float64(len(f.Points))

	var outer, inner []Point3
	for _, p := range f.Points {
		if Distance3(p, c) >= mean {
			outer = append(outer, p)
		} else {
			inner = append(inner, p)
		}
	}

	outerQuota := max * 2 / 3
	if outerQuota > len(outer) {
		outerQuota = len(outer)
	}
	result := SamplePoints(outer, outerQuota)
	result = append(result, SamplePoints(inner, max-len(result))...)
	return result
}

// MeanNearestDistance returns the average nearest-neighbour distance from
// source points into target points. Used as a cheap alignment error
// metric during coarse candidate evaluation.
func MeanNearestDistance(source, target []Point3) float64 {
	if len(source) == 0 || len(target) == 0 {
		return math.MaxFloat64
	}
	total := 0.0
	for _, sp := range source {
		minDist := math.MaxFloat64
		for _, tp := range target {
			if d := SquaredDistance3(sp, tp); d < minDist {
				minDist = d
			}
		}
		total += math.Sqrt(minDist)
	}
	return total / float64(len(source))
}

// InlierScore calculates a robust alignment score for source points
// already transformed into target space. Higher is better. Returns the
// score, the inlier fraction and the average inlier distance.
func InlierScore(source, target []Point3, maxDist float64) (float64, float64, float64) {
	inlierCount := 0
	totalDist := 0.0

	for _, sp := range source {
		minDist := math.MaxFloat64
		for _, tp := range target {
			if d := SquaredDistance3(sp, tp); d < minDist {
				minDist = d
			}
		}
		minDist = math.Sqrt(minDist)
		if minDist <= maxDist {
			inlierCount++
			totalDist += minDist
		}
	}

	if inlierCount == 0 {
		return 0, 0, math.MaxFloat64
	}

	inlierFraction := float64(inlierCount) / float64(len(source))
	avgInlierDist := totalDist / float64(inlierCount)

	// High fraction and low distance both push the score up; the
	// denominator normalizes distance against the search tolerance.
	score := inlierFraction / (1.0 + avgInlierDist/(2*maxDist))
	return score, inlierFraction, avgInlierDist
}
