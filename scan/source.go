package scan

import (
	"fmt"
	"os"
	"path/filepath"
)

// FrameExportPattern is the filename layout for captured frames. The
// MQTT capture service and DirSource agree on it.
const FrameExportPattern = "FrameExport-%05d.json"

// FrameStream is a finite, forward-only iterator over frames. A stream is
// exhausted when Next returns ok == false with a nil error.
type FrameStream interface {
	Next() (Frame, bool, error)
}

// FrameSource produces an ordered, restartable sequence of frames for an
// index range and stride. A fresh stream may be created per pipeline stage.
type FrameSource interface {
	// Stream iterates frames with indices from (inclusive) to to
	// (exclusive) at the given stride.
	Stream(from, to, step int) (FrameStream, error)
}

// DirSource reads FrameExport-*.json files from a capture directory
type DirSource struct {
	Dir string
}

// NewDirSource creates a frame source over a capture directory
func NewDirSource(dir string) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("capture dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("capture dir %s is not a directory", dir)
	}
	return &DirSource{Dir: dir}, nil
}

// Stream returns an iterator over frame files in [from, to) at the given
// stride. Missing frame files surface as errors from Next, not here: a
// stream is cheap to create and the pipeline restarts streams per stage.
func (s *DirSource) Stream(from, to, step int) (FrameStream, error) {
	if step <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", step)
	}
	if from >= to {
		return nil, fmt.Errorf("empty frame range [%d, %d)", from, to)
	}
	return &dirStream{dir: s.Dir, next: from, to: to, step: step}, nil
}

type dirStream struct {
	dir  string
	next int
	to   int
	step int
}

func (st *dirStream) Next() (Frame, bool, error) {
	if st.next >= st.to {
		return Frame{}, false, nil
	}
	index := st.next
	st.next += st.step

	path := filepath.Join(st.dir, fmt.Sprintf(FrameExportPattern, index))
	f, err := ParseFrameFile(path)
	if err != nil {
		return Frame{}, false, fmt.Errorf("frame %d: %w", index, err)
	}
	// The file's own index field wins only if it agrees; a mismatch means
	// the capture directory is corrupt.
	if f.Index != 0 && f.Index != index {
		return Frame{}, false, fmt.Errorf("frame file %s carries index %d", path, f.Index)
	}
	f.Index = index
	return *f, true, nil
}

// Collect drains a stream into a slice
func Collect(st FrameStream) ([]Frame, error) {
	var frames []Frame
	for {
		f, ok, err := st.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return frames, nil
		}
		frames = append(frames, f)
	}
}

// WriteFrameFile stores a frame in the capture directory under the
// standard export name
func WriteFrameFile(dir string, f *Frame) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating capture dir: %w", err)
	}
	data, err := EncodeFrame(f)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf(FrameExportPattern, f.Index))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing frame file: %w", err)
	}
	return path, nil
}
