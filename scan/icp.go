package scan

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ICPConfig holds configuration for the ICP refinement strategy.
// All distance thresholds are in mm.
type ICPConfig struct {
	MaxIterations     int     // Maximum number of iterations per scale
	ConvergenceThresh float64 // Stop when error improvement is below this (mm)
	MaxCorrespondDist float64 // Maximum distance for point correspondence (mm)
	SamplePoints      int     // Number of keypoints to use per frame
	OutlierPercentile float64 // Reject correspondences above this percentile (0-1)
	MultiScale        bool    // Progressive tightening of the correspondence radius
}

// DefaultICPConfig returns refinement defaults for consecutive scanner
// frames that already carry a coarse seed.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:     30,
		ConvergenceThresh: 0.5,
		MaxCorrespondDist: 800.0,
		SamplePoints:      400,
		OutlierPercentile: 0.8,
		MultiScale:        true,
	}
}

// ICP is the refinement pairwise registration strategy: iterative
// nearest-neighbour correspondence with percentile outlier rejection and
// distance-weighted rigid estimation, optionally over a coarse-to-fine
// correspondence schedule.
type ICP struct {
	cfg ICPConfig
}

// NewICP creates the refinement strategy, defaulting zero fields
func NewICP(cfg ICPConfig) *ICP {
	def := DefaultICPConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.ConvergenceThresh <= 0 {
		cfg.ConvergenceThresh = def.ConvergenceThresh
	}
	if cfg.MaxCorrespondDist <= 0 {
		cfg.MaxCorrespondDist = def.MaxCorrespondDist
	}
	if cfg.SamplePoints <= 0 {
		cfg.SamplePoints = def.SamplePoints
	}
	if cfg.OutlierPercentile <= 0 {
		cfg.OutlierPercentile = def.OutlierPercentile
	}
	return &ICP{cfg: cfg}
}

// Name identifies the strategy in errors and logs
func (r *ICP) Name() string { return "icp" }

// Register refines the transform of source against target starting from
// initial. When a coarse seed correspondence is provided its points are
// promoted into the working set so refinement starts from the matches the
// coarse pass already trusted.
func (r *ICP) Register(source, target Frame, initial Mat4, seed *Keypoints) (PairResult, error) {
	srcPts := ExtractKeypoints(source, r.cfg.SamplePoints)
	tgtPts := ExtractKeypoints(target, r.cfg.SamplePoints)

	if seed != nil && seed.Len() >= 3 {
		// Seed.Target points live in the coarse-aligned space of the
		// source frame; pull them back to raw source coordinates before
		// merging so the iteration transforms everything uniformly.
		inv := Invert(initial)
		srcPts = append(ApplyAll(seed.Target, inv), srcPts...)
		tgtPts = append(seed.Source, tgtPts...)
		srcPts = SamplePoints(srcPts, r.cfg.SamplePoints)
		tgtPts = SamplePoints(tgtPts, r.cfg.SamplePoints)
	}

	if len(srcPts) < 3 || len(tgtPts) < 3 {
		return PairResult{Transform: initial, Fitness: 0}, nil
	}

	current := initial
	if r.cfg.MultiScale {
		// Annealing schedule: wide search first to absorb the coarse
		// seed's residual, then progressively tighter locking.
		scales := []struct {
			maxDist    float64
			iterations int
			threshold  float64
		}{
			{r.cfg.MaxCorrespondDist, 10, 2.0},
			{r.cfg.MaxCorrespondDist / 2, 10, 1.0},
			{r.cfg.MaxCorrespondDist / 4, r.cfg.MaxIterations, r.cfg.ConvergenceThresh},
		}
		for _, scale := range scales {
			cfg := r.cfg
			cfg.MaxCorrespondDist = scale.maxDist
			cfg.MaxIterations = scale.iterations
			cfg.ConvergenceThresh = scale.threshold
			current, _ = runICP(srcPts, tgtPts, current, cfg)
		}
	} else {
		current, _ = runICP(srcPts, tgtPts, current, r.cfg)
	}

	transformed := ApplyAll(srcPts, current)
	fitness, _, _ := InlierScore(transformed, tgtPts, r.cfg.MaxCorrespondDist)
	kpSource, kpTarget := matchWithin(tgtPts, transformed, r.cfg.MaxCorrespondDist)

	return PairResult{
		Transform: current,
		Fitness:   fitness,
		Keypoints: Keypoints{Source: kpSource, Target: kpTarget},
	}, nil
}

// runICP performs the ICP iteration loop. It refuses moves that degrade
// the physical inlier score: least-squares steps can reduce summed error
// while pulling the cloud off structure, and backtracking catches that.
func runICP(sourcePoints, targetPoints []Point3, initialTransform Mat4, cfg ICPConfig) (Mat4, bool) {
	current := initialTransform

	transformed := ApplyAll(sourcePoints, current)
	prevScore, _, prevError := InlierScore(transformed, targetPoints, cfg.MaxCorrespondDist)

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		transformed = ApplyAll(sourcePoints, current)

		srcCorr, tgtCorr, distances := findCorrespondences(transformed, targetPoints, cfg.MaxCorrespondDist)
		if len(srcCorr) < 3 {
			return current, false
		}

		srcCorr, tgtCorr = rejectOutliers(srcCorr, tgtCorr, distances, cfg.OutlierPercentile)
		if len(srcCorr) < 3 {
			return current, false
		}

		// Soft proximity weighting focuses the fit on the
		// high-confidence skeleton instead of letting moderately far
		// pairs pull.
		weights := make([]float64, len(srcCorr))
		for i := range srcCorr {
			d := Distance3(srcCorr[i], tgtCorr[i])
			weights[i] = 1.0 / (1.0 + d*d/1000.0)
		}
		incremental := RigidFromPairs(srcCorr, tgtCorr, weights)
		next := Mul(incremental, current)

		testTransformed := ApplyAll(sourcePoints, next)
		newScore, _, newError := InlierScore(testTransformed, targetPoints, cfg.MaxCorrespondDist)

		if newScore < prevScore*0.98 {
			return current, false
		}

		improvement := prevError - newError
		if improvement < cfg.ConvergenceThresh && improvement >= 0 {
			return next, true
		}

		if newError > prevError*1.5 {
			return current, false
		}

		prevError = newError
		prevScore = newScore
		current = next
	}

	return current, false
}

// findCorrespondences finds nearest-neighbour pairs within maxDist and
// returns their distances
func findCorrespondences(source, target []Point3, maxDist float64) (srcCorr, tgtCorr []Point3, distances []float64) {
	for _, sp := range source {
		minDist := math.MaxFloat64
		var nearest Point3
		for _, tp := range target {
			if d := SquaredDistance3(sp, tp); d < minDist {
				minDist = d
				nearest = tp
			}
		}
		minDist = math.Sqrt(minDist)
		if minDist <= maxDist {
			srcCorr = append(srcCorr, sp)
			tgtCorr = append(tgtCorr, nearest)
			distances = append(distances, minDist)
		}
	}
	return
}

// rejectOutliers removes correspondences with distances above the given
// percentile
func rejectOutliers(srcCorr, tgtCorr []Point3, distances []float64, percentile float64) ([]Point3, []Point3) {
	if len(distances) == 0 || percentile >= 1.0 {
		return srcCorr, tgtCorr
	}

	sortedDists := make([]float64, len(distances))
	copy(sortedDists, distances)
	sort.Float64s(sortedDists)
	threshold := stat.Quantile(percentile, stat.Empirical, sortedDists, nil)

	var filteredSrc, filteredTgt []Point3
	for i, d := range distances {
		if d <= threshold {
			filteredSrc = append(filteredSrc, srcCorr[i])
			filteredTgt = append(filteredTgt, tgtCorr[i])
		}
	}
	return filteredSrc, filteredTgt
}
