package scan

import "fmt"

// Loop represents one contiguous segment [Start, End) of the frame
// sequence, bounded by two edge frames. Edge fields are written exactly
// once by the global edge alignment; interior fields exactly once by the
// loop processor. Everything else is immutable after construction.
type Loop struct {
	Start int
	End   int

	EdgeFrames     [2]Frame
	EdgeTransforms [2]Mat4
	EdgeKeypoints  Keypoints

	InteriorTransforms []Mat4
	InteriorFitness    []float64
}

// NewLoop constructs a loop over [start, end). A zero-length or inverted
// range is invalid.
func NewLoop(start, end int) (*Loop, error) {
	if end <= start {
		return nil, fmt.Errorf("loop range [%d, %d) has no frames", start, end)
	}
	return &Loop{
		Start:          start,
		End:            end,
		EdgeTransforms: [2]Mat4{Identity(), Identity()},
	}, nil
}

// Processed reports whether the loop processor has run on this loop
func (l *Loop) Processed() bool {
	return len(l.InteriorTransforms) > 0
}

// LoopSet is the ordered sequence of loops covering the read range
// contiguously.
type LoopSet []*Loop

// Validate checks that the loops cover a contiguous range without gaps:
// each loop ends where the next begins.
func (ls LoopSet) Validate() error {
	for i := 0; i < len(ls)-1; i++ {
		if ls[i].End != ls[i+1].Start {
			return fmt.Errorf("loop %d ends at %d but loop %d starts at %d", i, ls[i].End, i+1, ls[i+1].Start)
		}
	}
	return nil
}
