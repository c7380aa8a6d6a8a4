package scan

import (
	"os"
	"path/filepath"
	"testing"
)

const testConfigYAML = `capture:
  dir: /data/frames
  readFrom: 0
  readTo: 200
  readStep: 2
pipeline:
  loopSize: 10
  edgeBalancing: true
  loopClosure: true
  parallelLoops: 4
filter:
  voxelSize: 30
mqtt:
  broker: mqtt://localhost:1883
  publishPrefix: scanreg
scanners:
  - id: handheld1
    topic: scanner/handheld1/frames
archive: runs.db
render:
  gridSpacing: 500
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(writeTestConfig(t, testConfigYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Capture.Dir != "/data/frames" || config.Capture.ReadTo != 200 || config.Capture.ReadStep != 2 {
		t.Errorf("capture config mismatch: %+v", config.Capture)
	}
	if config.Pipeline.LoopSize != 10 || !config.Pipeline.EdgeBalancing || !config.Pipeline.LoopClosure {
		t.Errorf("pipeline config mismatch: %+v", config.Pipeline)
	}
	if config.Pipeline.ParallelLoops != 4 {
		t.Errorf("parallelLoops = %d, want 4", config.Pipeline.ParallelLoops)
	}
	if config.MQTT.Broker != "mqtt://localhost:1883" {
		t.Errorf("broker = %s", config.MQTT.Broker)
	}
	if len(config.Scanners) != 1 || config.Scanners[0].ID != "handheld1" {
		t.Errorf("scanners mismatch: %+v", config.Scanners)
	}
	if config.Archive != "runs.db" {
		t.Errorf("archive = %s", config.Archive)
	}
	if config.Render.GridSpacing != 500 {
		t.Errorf("gridSpacing = %f", config.Render.GridSpacing)
	}

	if sc := config.GetScannerByID("handheld1"); sc == nil || sc.Topic != "scanner/handheld1/frames" {
		t.Errorf("GetScannerByID = %+v", sc)
	}
	if sc := config.GetScannerByID("nope"); sc != nil {
		t.Error("unknown scanner should return nil")
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing config file should error")
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	if _, err := LoadConfig(writeTestConfig(t, "capture: [not a mapping")); err == nil {
		t.Error("malformed YAML should error")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Capture:  CaptureConfig{Dir: "/data", ReadFrom: 0, ReadTo: 100, ReadStep: 1},
			Pipeline: PipelineConfig{LoopSize: 10},
		}
	}

	if err := ValidateConfig(valid()); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	c := valid()
	c.Capture.Dir = ""
	if err := ValidateConfig(c); err == nil {
		t.Error("missing capture dir should fail")
	}

	c = valid()
	c.Capture.ReadStep = 0
	if err := ValidateConfig(c); err == nil {
		t.Error("zero read step should fail")
	}

	c = valid()
	c.Capture.ReadFrom = 100
	if err := ValidateConfig(c); err == nil {
		t.Error("empty read range should fail")
	}

	c = valid()
	c.Pipeline.LoopSize = 0
	if err := ValidateConfig(c); err == nil {
		t.Error("zero loop size should fail")
	}

	c = valid()
	c.Scanners = []ScannerConfig{{ID: "", Topic: "t"}}
	if err := ValidateConfig(c); err == nil {
		t.Error("scanner without ID should fail")
	}

	c = valid()
	c.Scanners = []ScannerConfig{{ID: "s1", Topic: ""}}
	if err := ValidateConfig(c); err == nil {
		t.Error("scanner without topic should fail")
	}
}

func TestSaveConfig_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	original := &Config{
		Capture:  CaptureConfig{Dir: "/data", ReadTo: 50, ReadStep: 1},
		Pipeline: PipelineConfig{LoopSize: 5, LoopClosure: true},
		Scanners: []ScannerConfig{{ID: "s1", Topic: "scanner/s1/frames"}},
	}

	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Capture.Dir != "/data" || loaded.Pipeline.LoopSize != 5 || !loaded.Pipeline.LoopClosure {
		t.Errorf("roundtrip mismatch: %+v", loaded)
	}
}
