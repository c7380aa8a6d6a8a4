package scan

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Pipeline is the edge-based registration pipeline: it partitions the
// frame sequence into loops bounded by edge frames, globally aligns the
// edge frames, registers each loop's interior against its starting edge
// and closes each loop before assembling the flat per-frame pose chain.
type Pipeline struct {
	Source   FrameSource
	Filter   *Filter
	Coarse   PairwiseRegistration
	Refine   PairwiseRegistration
	Balancer *EdgeBalancer

	// Correctors run strictly in order on every loop when loop closure
	// is enabled; the second consumes the first's corrected keypoints.
	Correctors []LoopCorrector

	Capture CaptureConfig
	Config  PipelineConfig
}

// NewPipeline wires the standard pipeline: sample-consensus coarse
// registration, ICP refinement, chain + relax loop-closure correction.
func NewPipeline(source FrameSource, capture CaptureConfig, cfg PipelineConfig, filterCfg FilterConfig) *Pipeline {
	return &Pipeline{
		Source:     source,
		Filter:     NewFilter(filterCfg),
		Coarse:     NewSampleConsensus(SaCConfig{}),
		Refine:     NewICP(ICPConfig{}),
		Balancer:   NewEdgeBalancer(),
		Correctors: []LoopCorrector{NewChainCorrector(), NewRelaxCorrector()},
		Capture:    capture,
		Config:     cfg,
	}
}

// PrepareLoops selects edge indices, builds the loop set and globally
// aligns the edge frames, populating every loop's boundary frames,
// transforms and keypoints. It must complete before any loop is
// processed.
func (p *Pipeline) PrepareLoops() (LoopSet, error) {
	if p.Config.LoopSize <= 0 {
		return nil, fmt.Errorf("loop size must be positive, got %d", p.Config.LoopSize)
	}

	var (
		edges      []int
		edgeFrames []Frame
		err        error
	)

	if p.Config.EdgeBalancing {
		edges, err = SelectBalancedEdges(p.Source, p.Balancer, p.Capture.ReadFrom, p.Capture.ReadTo, p.Capture.ReadStep, p.Config.LoopSize)
		if err != nil {
			return nil, err
		}
		edgeFrames, err = p.collectFrames(edges)
	} else {
		edges, err = SelectFixedEdges(p.Capture.ReadFrom, p.Capture.ReadTo, p.Capture.ReadStep, p.Config.LoopSize)
		if err != nil {
			return nil, err
		}
		// Fixed edges are arithmetic, so one strided stream hits each
		// edge index exactly. The end edge itself must be read, hence
		// the +1 on the exclusive bound.
		stride := p.Config.LoopSize * p.Capture.ReadStep
		stream, serr := p.Source.Stream(edges[0], edges[len(edges)-1]+1, stride)
		if serr != nil {
			return nil, serr
		}
		edgeFrames, err = Collect(stream)
	}
	if err != nil {
		return nil, fmt.Errorf("collecting edge frames: %w", err)
	}

	loops, err := BuildLoops(edges)
	if err != nil {
		return nil, err
	}

	// Edge Selector and Frame Source must agree on range semantics; a
	// mismatch here would corrupt every boundary assignment below.
	if len(loops)+1 != len(edgeFrames) {
		return nil, fmt.Errorf("edge consistency violation: %d loops but %d edge frames", len(loops), len(edgeFrames))
	}

	p.Filter.Apply(edgeFrames)

	log.Printf("Aligning %d edge frames across %d loops", len(edgeFrames), len(loops))

	coarseAligner := NewSequentialAligner(p.Coarse)
	coarseRes, err := coarseAligner.Align(edgeFrames, Identity())
	if err != nil {
		return nil, fmt.Errorf("edge coarse alignment: %w", err)
	}

	refineAligner := NewSequentialAligner(p.Refine)
	refineAligner.SeedKeypoints(coarseRes.Keypoints)
	refineRes, err := refineAligner.Align(coarseRes.Transformed, Identity())
	if err != nil {
		return nil, fmt.Errorf("edge refinement: %w", err)
	}

	for i := 1; i < len(edgeFrames); i++ {
		loop := loops[i-1]
		loop.EdgeFrames[0] = edgeFrames[i-1]
		loop.EdgeFrames[1] = edgeFrames[i]
		loop.EdgeTransforms[0] = Mul(refineRes.Transforms[i-1], coarseRes.Transforms[i-1])
		loop.EdgeTransforms[1] = Mul(refineRes.Transforms[i], coarseRes.Transforms[i])
		loop.EdgeKeypoints = coarseRes.Keypoints[i-1]
	}

	return loops, nil
}

// collectFrames reads the frames at the given (not necessarily
// arithmetic) indices by walking the full strided range once.
func (p *Pipeline) collectFrames(indices []int) ([]Frame, error) {
	wanted := make(map[int]bool, len(indices))
	last := indices[0]
	for _, idx := range indices {
		wanted[idx] = true
		if idx > last {
			last = idx
		}
	}

	stream, err := p.Source.Stream(p.Capture.ReadFrom, last+1, p.Capture.ReadStep)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	for {
		f, ok, err := stream.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if wanted[f.Index] {
			frames = append(frames, f)
		}
	}
	return frames, nil
}

// ProcessLoop registers a loop's interior frames against its starting
// edge and applies loop-closure correction, populating the loop's
// interior transforms and fitness scores.
func (p *Pipeline) ProcessLoop(loop *Loop) error {
	stream, err := p.Source.Stream(loop.Start, loop.End, p.Capture.ReadStep)
	if err != nil {
		return fmt.Errorf("loop [%d, %d): %w", loop.Start, loop.End, err)
	}
	frames, err := Collect(stream)
	if err != nil {
		return fmt.Errorf("loop [%d, %d): %w", loop.Start, loop.End, err)
	}
	if len(frames) == 0 {
		return fmt.Errorf("loop [%d, %d): no interior frames collected", loop.Start, loop.End)
	}

	p.Filter.Apply(frames)

	// Interior alignment is anchored to the loop's globally placed
	// starting edge, not identity: the whole chain inherits its global
	// placement from frame 0.
	coarseAligner := NewSequentialAligner(p.Coarse)
	coarseRes, err := coarseAligner.Align(frames, loop.EdgeTransforms[0])
	if err != nil {
		return fmt.Errorf("loop [%d, %d) coarse: %w", loop.Start, loop.End, err)
	}

	refineAligner := NewSequentialAligner(p.Refine)
	refineAligner.SeedKeypoints(coarseRes.Keypoints)
	refineRes, err := refineAligner.Align(coarseRes.Transformed, Identity())
	if err != nil {
		return fmt.Errorf("loop [%d, %d) refine: %w", loop.Start, loop.End, err)
	}

	result := make([]Mat4, len(frames))
	for i := range frames {
		result[i] = Mul(refineRes.Transforms[i], coarseRes.Transforms[i])
	}

	if p.Config.LoopClosure {
		keypoints := refineRes.Keypoints
		for _, corrector := range p.Correctors {
			corrections, corrected, err := corrector.Correct(refineRes.Transformed, keypoints, result, loop.EdgeKeypoints)
			if err != nil {
				return fmt.Errorf("loop [%d, %d) %s correction: %w", loop.Start, loop.End, corrector.Name(), err)
			}
			if len(corrections) != len(frames) {
				return fmt.Errorf("loop [%d, %d) %s correction returned %d transforms for %d frames",
					loop.Start, loop.End, corrector.Name(), len(corrections), len(frames))
			}
			// Index 0 stays pinned to the global edge transform; the
			// corrector's first entry is never applied.
			for i := 1; i < len(result); i++ {
				result[i] = Mul(corrections[i], result[i])
			}
			keypoints = corrected
		}
	}

	loop.InteriorTransforms = result
	// Fitness reflects registration quality only; correction does not
	// update it.
	loop.InteriorFitness = refineRes.FitnessScores
	return nil
}

// Run executes the full pipeline and assembles the flat per-frame pose
// chain. Loops are processed independently after edge alignment; any
// stage failure aborts the whole run.
func (p *Pipeline) Run() (*PoseChain, error) {
	started := time.Now()

	loops, err := p.PrepareLoops()
	if err != nil {
		return nil, err
	}
	if err := loops.Validate(); err != nil {
		return nil, err
	}

	workers := p.Config.ParallelLoops
	if workers <= 0 {
		workers = 1
	}
	if workers > len(loops) {
		workers = len(loops)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	errs := make([]error, len(loops))

	for i := range loops {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			log.Printf("Processing loop %d/%d [%d, %d)", idx+1, len(loops), loops[idx].Start, loops[idx].End)
			errs[idx] = p.ProcessLoop(loops[idx])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("loop %d: %w", i, err)
		}
	}

	chain := AssembleChain(loops, p.Capture.ReadStep)
	log.Printf("Pipeline finished: %d poses from %d loops in %s", chain.Len(), len(loops), time.Since(started).Round(time.Millisecond))
	return chain, nil
}

// AssembleChain concatenates every loop's interior transforms in loop
// order into one flat per-frame pose sequence.
func AssembleChain(loops LoopSet, readStep int) *PoseChain {
	chain := &PoseChain{CreatedAt: time.Now().Unix()}
	for _, loop := range loops {
		for i, t := range loop.InteriorTransforms {
			fitness := 0.0
			if i < len(loop.InteriorFitness) {
				fitness = loop.InteriorFitness[i]
			}
			chain.Poses = append(chain.Poses, Pose{
				FrameIndex: loop.Start + i*readStep,
				Transform:  t,
				Fitness:    fitness,
			})
		}
	}
	return chain
}
