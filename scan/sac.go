package scan

import (
	"math"
	"math/rand"
	"sync"
)

// SaCConfig tunes the coarse sample-consensus registration. Distances are
// in mm.
type SaCConfig struct {
	SamplePoints  int        // Keypoints sampled per frame
	Candidates    int        // Random translation candidates evaluated
	YawSearchDeg  float64    // Half-width of the yaw candidate grid (0 disables)
	YawStepDeg    float64    // Grid step for yaw candidates
	MatchDist     float64    // Distance below which a candidate pair counts as matched
	MinMatches    int        // Candidates with fewer matches are penalized hard
	CorrespondDist float64   // Correspondence radius for the result keypoints
	RNG           *rand.Rand // Deterministic candidate sampling when seeded
}

// DefaultSaCConfig returns coarse-registration defaults for handheld
// scanner motion: consecutive frames overlap heavily and rotate little,
// so a translation-dominated candidate search suffices.
func DefaultSaCConfig() SaCConfig {
	return SaCConfig{
		SamplePoints:   300,
		Candidates:     250,
		YawSearchDeg:   10.0,
		YawStepDeg:     5.0,
		MatchDist:      400.0,
		MinMatches:     10,
		CorrespondDist: 600.0,
		RNG:            rand.New(rand.NewSource(1)),
	}
}

// SampleConsensus is the coarse pairwise registration strategy. It seeds
// the refinement stage with an approximate transform found by scoring
// random keypoint-pair translation candidates, optionally across a small
// yaw grid.
type SampleConsensus struct {
	cfg SaCConfig

	// rngMu serializes candidate sampling: loops are processed
	// concurrently and rand.Rand is not safe for concurrent use.
	rngMu sync.Mutex
}

// NewSampleConsensus creates the coarse strategy, defaulting zero fields
func NewSampleConsensus(cfg SaCConfig) *SampleConsensus {
	def := DefaultSaCConfig()
	if cfg.SamplePoints <= 0 {
		cfg.SamplePoints = def.SamplePoints
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = def.Candidates
	}
	if cfg.YawStepDeg <= 0 {
		cfg.YawStepDeg = def.YawStepDeg
	}
	if cfg.MatchDist <= 0 {
		cfg.MatchDist = def.MatchDist
	}
	if cfg.MinMatches <= 0 {
		cfg.MinMatches = def.MinMatches
	}
	if cfg.CorrespondDist <= 0 {
		cfg.CorrespondDist = def.CorrespondDist
	}
	if cfg.RNG == nil {
		cfg.RNG = rand.New(rand.NewSource(1))
	}
	return &SampleConsensus{cfg: cfg}
}

// Name identifies the strategy in errors and logs
func (s *SampleConsensus) Name() string { return "sac" }

// Register finds an approximate transform for source against target. The
// seed argument is ignored: sample consensus is always the first stage.
func (s *SampleConsensus) Register(source, target Frame, initial Mat4, seed *Keypoints) (PairResult, error) {
	srcKp := ExtractKeypoints(source, s.cfg.SamplePoints)
	tgtKp := ExtractKeypoints(target, s.cfg.SamplePoints)

	if len(srcKp) < 3 || len(tgtKp) < 3 {
		// Too sparse to estimate anything; fall through with the prior
		// transform so refinement still gets a chain to work on.
		return PairResult{Transform: initial, Fitness: 0}, nil
	}

	yaws := []float64{0}
	if s.cfg.YawSearchDeg > 0 {
		for y := s.cfg.YawStepDeg; y <= s.cfg.YawSearchDeg; y += s.cfg.YawStepDeg {
			yaws = append(yaws, y, -y)
		}
	}

	best := initial
	bestScore := math.MaxFloat64

	for _, yawDeg := range yaws {
		base := Mul(RotationZDeg(yawDeg), initial)
		rotated := ApplyAll(srcKp, base)
		centroidDelta := deltaTranslation(Centroid3(tgtKp), Centroid3(rotated))

		// Candidate translations: centroid alignment plus random
		// source/target pairings.
		candidates := []Point3{centroidDelta, {}}
		s.rngMu.Lock()
		for i := 0; i < s.cfg.Candidates; i++ {
			sp := rotated[s.cfg.RNG.Intn(len(rotated))]
			tp := tgtKp[s.cfg.RNG.Intn(len(tgtKp))]
			candidates = append(candidates, Point3{X: tp.X - sp.X, Y: tp.Y - sp.Y, Z: tp.Z - sp.Z})
		}
		s.rngMu.Unlock()

		// A thin evaluation subset keeps the candidate loop cheap.
		evalSrc := SamplePoints(rotated, 80)

		for _, trans := range candidates {
			score, matches := s.scoreCandidate(evalSrc, tgtKp, trans)
			if matches < s.cfg.MinMatches {
				score += 1e6
			}
			if score < bestScore {
				bestScore = score
				best = Mul(NewTranslation(trans.X, trans.Y, trans.Z), base)
			}
		}
	}

	transformed := ApplyAll(srcKp, best)
	fitness, _, _ := InlierScore(transformed, tgtKp, s.cfg.CorrespondDist)
	kpSource, kpTarget := matchWithin(tgtKp, transformed, s.cfg.CorrespondDist)

	return PairResult{
		Transform: best,
		Fitness:   fitness,
		Keypoints: Keypoints{Source: kpSource, Target: kpTarget},
	}, nil
}

// scoreCandidate measures a translation candidate by trimmed mean
// nearest-neighbour distance and rewards match count.
func (s *SampleConsensus) scoreCandidate(source, target []Point3, trans Point3) (float64, int) {
	score := 0.0
	matches := 0
	limit := s.cfg.MatchDist * s.cfg.MatchDist

	for _, sp := range source {
		p := Point3{X: sp.X + trans.X, Y: sp.Y + trans.Y, Z: sp.Z + trans.Z}
		minDist := math.MaxFloat64
		for _, tp := range target {
			if d := SquaredDistance3(p, tp); d < minDist {
				minDist = d
			}
		}
		if minDist < limit {
			score += math.Sqrt(minDist)
			matches++
		}
	}

	if matches == 0 {
		return math.MaxFloat64, 0
	}
	score = score/float64(matches) - float64(matches)*0.1
	return score, matches
}

// matchWithin pairs each target point with its nearest source point
// inside maxDist. Source and Target outputs are index-parallel.
func matchWithin(targetCloud, sourceCloud []Point3, maxDist float64) ([]Point3, []Point3) {
	var src, tgt []Point3
	limit := maxDist * maxDist
	for _, tp := range targetCloud {
		minDist := math.MaxFloat64
		var nearest Point3
		for _, sp := range sourceCloud {
			if d := SquaredDistance3(tp, sp); d < minDist {
				minDist = d
				nearest = sp
			}
		}
		if minDist <= limit {
			src = append(src, tp)
			tgt = append(tgt, nearest)
		}
	}
	return src, tgt
}

func deltaTranslation(to, from Point3) Point3 {
	return Point3{X: to.X - from.X, Y: to.Y - from.Y, Z: to.Z - from.Z}
}
