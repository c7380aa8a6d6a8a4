package scan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultPosesCachePath is the default path for the computed pose chain
const DefaultPosesCachePath = ".poses-cache.json"

// LoadPoseChain loads a previously computed pose chain from a JSON cache
// file. A missing file is not an error; it returns nil.
func LoadPoseChain(path string) (*PoseChain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading poses file: %w", err)
	}

	var chain PoseChain
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("parsing poses file: %w", err)
	}
	return &chain, nil
}

// SavePoseChain saves a pose chain to a JSON cache file
func SavePoseChain(path string, chain *PoseChain) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating poses directory: %w", err)
	}

	chain.CreatedAt = time.Now().Unix()

	data, err := json.MarshalIndent(chain, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pose chain: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing poses file: %w", err)
	}
	return nil
}

// PoseAt returns the pose for a frame index, or false if the chain does
// not contain it
func (pc *PoseChain) PoseAt(frameIndex int) (Pose, bool) {
	if pc == nil {
		return Pose{}, false
	}
	for _, p := range pc.Poses {
		if p.FrameIndex == frameIndex {
			return p, true
		}
	}
	return Pose{}, false
}

// Stale reports whether the chain is older than maxAge and should be
// recomputed
func (pc *PoseChain) Stale(maxAge time.Duration) bool {
	if pc == nil || pc.CreatedAt == 0 {
		return true
	}
	return time.Since(time.Unix(pc.CreatedAt, 0)) > maxAge
}
