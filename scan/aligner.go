package scan

import "fmt"

// PairResult is the outcome of registering one frame against the prior
// frame of a sequence.
type PairResult struct {
	// Transform places the source frame into the common aligned space.
	Transform Mat4
	// Fitness is a scalar registration quality score in [0, 1].
	Fitness float64
	// Keypoints carries the matched correspondence found during
	// registration: Source points belong to the prior (target) frame,
	// Target points to the newly registered frame, both in aligned space.
	Keypoints Keypoints
}

// PairwiseRegistration estimates the rigid transform of a new frame given
// the previous, already-aligned frame. Exactly two implementations exist:
// SampleConsensus (coarse) and ICP (refinement); they always run in that
// order.
type PairwiseRegistration interface {
	Name() string
	// Register aligns source against target. initial is the absolute
	// transform guess for source (typically the prior frame's transform).
	// seed optionally carries the correspondence found by an earlier
	// coarse pass.
	Register(source, target Frame, initial Mat4, seed *Keypoints) (PairResult, error)
}

// AlignResult is the per-frame output of aligning an ordered frame
// sequence. All four slices are index-parallel with the input frames; the
// Keypoints entry at i holds the correspondence between frames i and i+1
// (the final entry stays empty).
type AlignResult struct {
	Transforms    []Mat4
	FitnessScores []float64
	Transformed   []Frame
	Keypoints     []Keypoints
}

// SequentialAligner chains a pairwise registration strategy over an
// ordered frame sequence, accumulating absolute transforms frame by
// frame.
type SequentialAligner struct {
	strategy PairwiseRegistration
	seed     []Keypoints
}

// NewSequentialAligner creates an aligner for the given strategy
func NewSequentialAligner(strategy PairwiseRegistration) *SequentialAligner {
	return &SequentialAligner{strategy: strategy}
}

// SeedKeypoints provides per-pair correspondences from an earlier coarse
// pass, indexed like AlignResult.Keypoints.
func (a *SequentialAligner) SeedKeypoints(kp []Keypoints) {
	a.seed = kp
}

// Align registers every frame of the sequence. The first frame is pinned
// to initial; each following frame is registered against its transformed
// predecessor, so drift accumulates along the chain until a loop-closure
// corrector removes it.
func (a *SequentialAligner) Align(frames []Frame, initial Mat4) (*AlignResult, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s: no frames to align", a.strategy.Name())
	}

	res := &AlignResult{
		Transforms:    make([]Mat4, len(frames)),
		FitnessScores: make([]float64, len(frames)),
		Transformed:   make([]Frame, len(frames)),
		Keypoints:     make([]Keypoints, len(frames)),
	}

	res.Transforms[0] = initial
	res.Transformed[0] = ApplyFrame(frames[0], initial)
	res.FitnessScores[0] = 1.0

	for i := 1; i < len(frames); i++ {
		var seed *Keypoints
		if a.seed != nil && i-1 < len(a.seed) && !a.seed[i-1].Empty() {
			seed = &a.seed[i-1]
		}

		pr, err := a.strategy.Register(frames[i], res.Transformed[i-1], res.Transforms[i-1], seed)
		if err != nil {
			return nil, fmt.Errorf("%s: frame %d: %w", a.strategy.Name(), frames[i].Index, err)
		}

		res.Transforms[i] = pr.Transform
		res.Transformed[i] = ApplyFrame(frames[i], pr.Transform)
		res.FitnessScores[i] = pr.Fitness

		kp := pr.Keypoints
		kp.FrameIndex = frames[i-1].Index
		res.Keypoints[i-1] = kp
	}

	return res, nil
}
