package scan

// Point3 represents a 3D coordinate in scanner space (millimeters)
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Frame is a single captured point-cloud sample with its sequence index.
// Frames are read-only after construction; every pipeline stage that needs
// a modified copy (filtering, transforming) allocates a new Frame.
type Frame struct {
	Index     int      `json:"index"`
	DeviceID  string   `json:"deviceId,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
	Points    []Point3 `json:"points"`
}

// Keypoints holds the salient points of one frame together with their
// corresponding points in the following frame of a registration step.
// Source[i] matches Target[i]. Produced by an aligner, consumed by the
// loop-closure correctors.
type Keypoints struct {
	FrameIndex int      `json:"frameIndex"`
	Source     []Point3 `json:"source"`
	Target     []Point3 `json:"target"`
}

// Empty reports whether the correspondence carries no points.
func (k Keypoints) Empty() bool {
	return len(k.Source) == 0
}

// Len returns the number of correspondences.
func (k Keypoints) Len() int {
	return len(k.Source)
}

// Pose is a frame index paired with its final rigid transform and the
// registration fitness score it was accepted with.
type Pose struct {
	FrameIndex int     `json:"frameIndex"`
	Transform  Mat4    `json:"transform"`
	Fitness    float64 `json:"fitness"`
}

// PoseChain is the flat, ordered per-frame transform sequence the pipeline
// hands to downstream reconstruction.
type PoseChain struct {
	Poses     []Pose `json:"poses"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// Len returns the number of poses in the chain.
func (pc *PoseChain) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Poses)
}

// Transforms returns the bare transform sequence in frame order.
func (pc *PoseChain) Transforms() []Mat4 {
	out := make([]Mat4, len(pc.Poses))
	for i, p := range pc.Poses {
		out[i] = p.Transform
	}
	return out
}

// CaptureConfig locates the frame sequence on disk and bounds the read.
type CaptureConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	ReadFrom int    `yaml:"readFrom" json:"readFrom"`
	ReadTo   int    `yaml:"readTo" json:"readTo"`
	ReadStep int    `yaml:"readStep" json:"readStep"`
}

// PipelineConfig carries the loop partitioning and correction switches.
type PipelineConfig struct {
	LoopSize       int  `yaml:"loopSize" json:"loopSize"`
	EdgeBalancing  bool `yaml:"edgeBalancing" json:"edgeBalancing"`
	LoopClosure    bool `yaml:"loopClosure" json:"loopClosure"`
	ParallelLoops  int  `yaml:"parallelLoops,omitempty" json:"parallelLoops,omitempty"`
	PosesCachePath string `yaml:"posesCachePath,omitempty" json:"posesCachePath,omitempty"`
}

// FilterConfig tunes the pre-registration cloud filter.
type FilterConfig struct {
	VoxelSize      float64 `yaml:"voxelSize,omitempty" json:"voxelSize,omitempty"`
	OutlierRadius  float64 `yaml:"outlierRadius,omitempty" json:"outlierRadius,omitempty"`
	MinNeighbours  int     `yaml:"minNeighbours,omitempty" json:"minNeighbours,omitempty"`
}

// MQTTConfig holds MQTT connection settings for live frame capture and
// pose publishing.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// ScannerConfig defines one scanner device feeding frames over MQTT.
type ScannerConfig struct {
	ID    string `yaml:"id" json:"id"`
	Topic string `yaml:"topic" json:"topic"`
}

// RenderConfig tunes trajectory rendering output.
type RenderConfig struct {
	GridSpacing      float64 `yaml:"gridSpacing,omitempty" json:"gridSpacing,omitempty"`           // Grid line spacing in mm (default 1000)
	VectorResolution float64 `yaml:"vectorResolution,omitempty" json:"vectorResolution,omitempty"` // Vector PNG DPI (default 300)
}

// Config is the unified configuration loaded from YAML
type Config struct {
	Capture  CaptureConfig   `yaml:"capture" json:"capture"`
	Pipeline PipelineConfig  `yaml:"pipeline" json:"pipeline"`
	Filter   FilterConfig    `yaml:"filter,omitempty" json:"filter,omitempty"`
	MQTT     MQTTConfig      `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Scanners []ScannerConfig `yaml:"scanners,omitempty" json:"scanners,omitempty"`
	Archive  string          `yaml:"archive,omitempty" json:"archive,omitempty"` // SQLite run archive path; empty disables
	Render   RenderConfig    `yaml:"render,omitempty" json:"render,omitempty"`
}

// GetScannerByID returns the scanner config for the given ID
func (c *Config) GetScannerByID(id string) *ScannerConfig {
	for i := range c.Scanners {
		if c.Scanners[i].ID == id {
			return &c.Scanners[i]
		}
	}
	return nil
}
