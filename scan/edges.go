package scan

import "fmt"

// SelectFixedEdges partitions [readFrom, readTo) into fixed-size loops of
// loopSize strided frames each. Edge indices step by loopSize*readStep; a
// trailing remainder that does not fill a whole loop is dropped, never
// emitted as a short loop.
func SelectFixedEdges(readFrom, readTo, readStep, loopSize int) ([]int, error) {
	if readStep <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", readStep)
	}
	if loopSize <= 0 {
		return nil, fmt.Errorf("loop size must be positive, got %d", loopSize)
	}
	if readFrom >= readTo {
		return nil, fmt.Errorf("empty read range [%d, %d)", readFrom, readTo)
	}

	step := loopSize * readStep
	var edges []int
	for i := readFrom; i <= readTo; i += step {
		edges = append(edges, i)
	}
	if len(edges) < 2 {
		return nil, fmt.Errorf("read range [%d, %d) shorter than one loop of %d frames", readFrom, readTo, loopSize)
	}
	return edges, nil
}

// SelectBalancedEdges asks the balancer for loopSize stream positions
// with approximately equal cumulative camera distance between them, then
// converts positions of the strided stream back to raw frame indices.
func SelectBalancedEdges(source FrameSource, balancer *EdgeBalancer, readFrom, readTo, readStep, loopSize int) ([]int, error) {
	if readStep <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", readStep)
	}
	if loopSize <= 0 {
		return nil, fmt.Errorf("loop size must be positive, got %d", loopSize)
	}

	stream, err := source.Stream(readFrom, readTo, readStep)
	if err != nil {
		return nil, fmt.Errorf("balanced edge selection: %w", err)
	}
	positions, err := balancer.Balance(stream, loopSize)
	if err != nil {
		return nil, fmt.Errorf("balanced edge selection: %w", err)
	}
	if len(positions) < 2 {
		return nil, fmt.Errorf("balancer returned %d positions, need at least 2", len(positions))
	}

	edges := make([]int, len(positions))
	for i, pos := range positions {
		edges[i] = int(pos)*readStep + readFrom
	}
	return edges, nil
}

// BuildLoops creates the loop set bounded by consecutive edge indices
func BuildLoops(edges []int) (LoopSet, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("need at least 2 edge indices, got %d", len(edges))
	}
	loops := make(LoopSet, 0, len(edges)-1)
	for i := 1; i < len(edges); i++ {
		loop, err := NewLoop(edges[i-1], edges[i])
		if err != nil {
			return nil, err
		}
		loops = append(loops, loop)
	}
	return loops, nil
}
