package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/kwv/scanreg/scan"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *scan.Config
	StateTracker *scan.StateTracker
	MQTTClient   *scan.MQTTClient
	Publisher    *scan.Publisher
	Store        *scan.Store

	// CLI flags (effectively dependencies)
	ConfigFile   string
	DataDir      string
	PosesCache   string
	OutputFile   string
	RenderFormat string
	VectorFormat string
	GridSpacing  float64
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: scan.NewStateTracker(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.PosesCache = opts.PosesCache
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.VectorFormat = opts.VectorFormat
	a.GridSpacing = opts.GridSpacing
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// resolvePath resolves default-valued paths relative to the data dir
func (a *App) resolvePath(path, defaultName string) string {
	if a.DataDir != "." && path == defaultName {
		return filepath.Join(a.DataDir, defaultName)
	}
	return path
}

// loadConfig loads and validates the configuration file
func (a *App) loadConfig() error {
	resolved := a.resolvePath(a.ConfigFile, "config.yaml")
	config, err := scan.LoadConfig(resolved)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Printf("Loaded config from %s", resolved)
	a.Config = config
	return nil
}

// RunParseOnly finds and parses all frame exports in the data directory
func (a *App) RunParseOnly() error {
	files, err := findFrameExports(a.DataDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no FrameExport-*.json files found in %s", a.DataDir)
	}

	fmt.Printf("Found %d frame export(s)\n\n", len(files))

	for _, file := range files {
		parseAndPrint(file)
	}
	return nil
}

func parseAndPrint(path string) {
	fmt.Printf("=== %s ===\n", filepath.Base(path))

	f, err := scan.ParseFrameFile(path)
	if err != nil {
		fmt.Printf("ERROR: %v\n\n", err)
		return
	}

	summary := scan.Summarize(f)

	fmt.Printf("Frame Index: %d\n", summary.Index)
	if summary.DeviceID != "" {
		fmt.Printf("Device: %s\n", summary.DeviceID)
	}
	fmt.Printf("Points: %d\n", summary.PointCount)
	fmt.Printf("Centroid: (%.0f, %.0f, %.0f)\n",
		summary.Centroid.X, summary.Centroid.Y, summary.Centroid.Z)
	fmt.Printf("Bounds: (%.0f, %.0f, %.0f) to (%.0f, %.0f, %.0f)\n",
		summary.MinBound.X, summary.MinBound.Y, summary.MinBound.Z,
		summary.MaxBound.X, summary.MaxBound.Y, summary.MaxBound.Z)
	fmt.Println()
}

// RunRegister runs the full registration pipeline against the capture
// directory and caches the resulting pose chain
func (a *App) RunRegister() error {
	if err := a.loadConfig(); err != nil {
		return err
	}

	captureDir := a.Config.Capture.Dir
	if captureDir == "" {
		captureDir = a.DataDir
	}

	source, err := scan.NewDirSource(captureDir)
	if err != nil {
		return fmt.Errorf("opening capture directory: %w", err)
	}

	if a.Config.Archive != "" && a.Store == nil {
		store, err := scan.NewStore(a.resolvePath(a.Config.Archive, a.Config.Archive))
		if err != nil {
			log.Printf("Warning: run archive unavailable: %v", err)
		} else {
			a.Store = store
			defer func() { _ = a.Store.Close() }()
		}
	}

	chain, err := a.registerAndArchive(source, a.scannerID())
	if err != nil {
		return err
	}

	cachePath := a.posesCachePath()
	if err := scan.SavePoseChain(cachePath, chain); err != nil {
		return fmt.Errorf("saving pose chain: %w", err)
	}
	fmt.Printf("Registered %d poses, cached to %s\n", chain.Len(), cachePath)
	return nil
}

// registerAndArchive runs the pipeline and records the run in the
// archive when one is configured
func (a *App) registerAndArchive(source scan.FrameSource, scannerID string) (*scan.PoseChain, error) {
	pipeline := scan.NewPipeline(source, a.Config.Capture, a.Config.Pipeline, a.Config.Filter)

	var runID int64
	if a.Store != nil {
		id, err := a.Store.RecordRunStart(scannerID, *a.Config, 0)
		if err != nil {
			log.Printf("Warning: failed to record run start: %v", err)
		} else {
			runID = id
		}
	}

	a.StateTracker.StartRun(0)
	a.StateTracker.SetPhase(scan.PhaseProcessing)

	chain, err := pipeline.Run()
	if err != nil {
		a.StateTracker.SetError(err)
		if a.Store != nil && runID != 0 {
			_ = a.Store.RecordRunResult(runID, "failed", err.Error())
		}
		return nil, fmt.Errorf("registration pipeline: %w", err)
	}

	a.StateTracker.SetChain(scannerID, chain)

	if a.Store != nil && runID != 0 {
		if err := a.Store.SaveChain(runID, *chain); err != nil {
			log.Printf("Warning: failed to archive pose chain: %v", err)
		}
		_ = a.Store.RecordRunResult(runID, "done", "")
	}

	return chain, nil
}

// RunRender renders the cached pose chain as a trajectory image
func (a *App) RunRender() error {
	cachePath := a.posesCachePath()
	chain, err := scan.LoadPoseChain(cachePath)
	if err != nil {
		return fmt.Errorf("loading pose chain: %w", err)
	}
	if chain == nil || chain.Len() == 0 {
		return fmt.Errorf("no cached poses at %s, run -register first", cachePath)
	}

	scannerID := a.scannerID()
	fmt.Printf("Rendering trajectory of %d poses to %s...\n", chain.Len(), a.OutputFile)

	format := a.RenderFormat
	if format != "raster" && format != "vector" && format != "both" {
		return fmt.Errorf("invalid format: %s (must be raster, vector, or both)", format)
	}

	if format == "raster" || format == "both" {
		renderer := scan.NewTrajectoryRenderer(map[string]*scan.PoseChain{scannerID: chain})
		if a.GridSpacing > 0 {
			renderer.GridSize = a.GridSpacing
		}

		outputPath := a.OutputFile
		if format == "both" && !strings.HasSuffix(outputPath, ".png") {
			outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".png"
		}

		if err := renderer.SavePNG(outputPath); err != nil {
			return fmt.Errorf("rendering raster: %w", err)
		}
		fmt.Printf("Created raster: %s\n", outputPath)
	}

	if format == "vector" || format == "both" {
		trajectory := scan.TrajectoryFromChain(chain)
		vectorRenderer := scan.NewVectorTrajectoryRenderer(map[string]*scan.Trajectory{scannerID: &trajectory})
		if a.GridSpacing > 0 {
			vectorRenderer.GridSpacing = a.GridSpacing
			vectorRenderer.Padding = a.GridSpacing / 2
		}

		ext := ".svg"
		if a.VectorFormat == "png" {
			ext = ".png"
		}
		outputPath := a.OutputFile
		if format == "both" || !strings.HasSuffix(outputPath, ext) {
			outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ext
		}

		outFile, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating output file %s: %w", outputPath, err)
		}
		defer func() { _ = outFile.Close() }()

		switch a.VectorFormat {
		case "svg":
			if err := vectorRenderer.RenderToSVG(outFile); err != nil {
				return fmt.Errorf("rendering vector SVG: %w", err)
			}
		case "png":
			if err := vectorRenderer.RenderToPNG(outFile); err != nil {
				return fmt.Errorf("rendering vector PNG: %w", err)
			}
		default:
			return fmt.Errorf("invalid vector format: %s (must be svg or png)", a.VectorFormat)
		}
		fmt.Printf("Created vector: %s\n", outputPath)
	}

	fmt.Println("Done!")
	return nil
}

// RunService starts the combined MQTT capture and/or HTTP service
func (a *App) RunService() error {
	fmt.Println("Starting scanreg service...")

	if err := a.loadConfig(); err != nil {
		return err
	}

	if a.Config.Archive != "" {
		store, err := scan.NewStore(a.resolvePath(a.Config.Archive, a.Config.Archive))
		if err != nil {
			log.Printf("Warning: run archive unavailable: %v", err)
		} else {
			a.Store = store
			defer func() { _ = a.Store.Close() }()
		}
	}

	// Seed state from a previous run if the poses cache exists
	if chain, err := scan.LoadPoseChain(a.posesCachePath()); err != nil {
		log.Printf("Warning: failed to load poses cache: %v", err)
	} else if chain != nil && chain.Len() > 0 {
		a.StateTracker.SetChain(a.scannerID(), chain)
		log.Printf("Loaded %d cached poses", chain.Len())
	}

	if a.MqttMode {
		if err := a.startCapture(); err != nil {
			return err
		}
	}

	if a.HttpMode {
		httpServer := newHTTPServer(a.StateTracker, a.Store, a.Config)
		go func() {
			addr := fmt.Sprintf(":%d", a.HttpPort)
			fmt.Printf("HTTP server starting on %s\n", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("HTTP server error: %v", err)
			}
		}()
	}

	a.printServiceInfo()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
	return nil
}

// startCapture wires MQTT frame ingestion into the capture directory
// and triggers registration when a scanner signals capture completion
func (a *App) startCapture() error {
	captureDir := a.Config.Capture.Dir
	if captureDir == "" {
		captureDir = a.DataDir
	}
	if err := os.MkdirAll(captureDir, 0o755); err != nil {
		return fmt.Errorf("creating capture directory: %w", err)
	}

	a.StateTracker.SetPhase(scan.PhaseCapturing)

	frameHandler := func(scannerID string, payload []byte, frame *scan.Frame, err error) {
		if err != nil {
			log.Printf("Error receiving frame from %s: %v", scannerID, err)
			return
		}

		path, err := scan.WriteFrameFile(captureDir, frame)
		if err != nil {
			log.Printf("Error persisting frame %d from %s: %v", frame.Index, scannerID, err)
			return
		}
		a.StateTracker.FrameCaptured(scannerID)
		log.Printf("%s: frame %d (%d points) -> %s", scannerID, frame.Index, len(frame.Points), path)
	}

	mqttClient, err := scan.InitMQTT(a.Config, frameHandler)
	if err != nil {
		return fmt.Errorf("initializing MQTT: %w", err)
	}
	if mqttClient == nil {
		return fmt.Errorf("MQTT broker not configured in config.yaml")
	}
	a.MQTTClient = mqttClient

	a.Publisher = scan.NewPublisher(mqttClient.GetClient())
	fmt.Println("MQTT pose publisher initialized")

	mqttClient.SetCaptureDoneHandler(func(scannerID string) {
		log.Printf("%s: capture complete, starting registration", scannerID)
		go a.registerCaptured(captureDir, scannerID)
	})

	return nil
}

// registerCaptured runs the pipeline over the captured frames and
// publishes the resulting poses
func (a *App) registerCaptured(captureDir, scannerID string) {
	source, err := scan.NewDirSource(captureDir)
	if err != nil {
		log.Printf("Error opening capture directory: %v", err)
		a.StateTracker.SetError(err)
		return
	}

	chain, err := a.registerAndArchive(source, scannerID)
	if err != nil {
		log.Printf("Registration failed for %s: %v", scannerID, err)
		return
	}

	if err := scan.SavePoseChain(a.posesCachePath(), chain); err != nil {
		log.Printf("Warning: failed to cache poses: %v", err)
	}

	if a.Publisher != nil {
		if err := a.Publisher.PublishChain(scannerID, *chain); err != nil {
			log.Printf("Error publishing poses for %s: %v", scannerID, err)
		}
	}

	a.StateTracker.ResetCapture()
	log.Printf("%s: registration complete, %d poses", scannerID, chain.Len())
}

func (a *App) printServiceInfo() {
	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Println("  Subscribed topics:")
		for _, sc := range a.Config.Scanners {
			fmt.Printf("    - %s (%s)\n", sc.Topic, sc.ID)
		}
		publishPrefix := a.Config.MQTT.PublishPrefix
		if publishPrefix == "" {
			publishPrefix = "scanreg"
		}
		fmt.Printf("  Publishing to: %s/{scannerID}\n", publishPrefix)
		fmt.Printf("  Combined poses: %s/poses\n", publishPrefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET /health          - Health check")
		fmt.Println("  GET /api/status      - Pipeline run status")
		fmt.Println("  GET /api/poses.json  - Registered pose chain")
		fmt.Println("  GET /api/runs        - Archived registration runs")
		fmt.Println("  GET /trajectory.png  - Trajectory raster render")
		fmt.Println("  GET /trajectory.svg  - Trajectory vector render")
		fmt.Println("  GET /trajectory.geojson - Trajectory as GeoJSON")
	}

	fmt.Println("\nPress Ctrl+C to stop")
}

// posesCachePath picks the effective poses cache location: config wins
// over the CLI default
func (a *App) posesCachePath() string {
	if a.Config != nil && a.Config.Pipeline.PosesCachePath != "" {
		return a.Config.Pipeline.PosesCachePath
	}
	return a.resolvePath(a.PosesCache, scan.DefaultPosesCachePath)
}

// scannerID returns the configured scanner identity for single-scanner
// operation
func (a *App) scannerID() string {
	if a.Config != nil && len(a.Config.Scanners) > 0 {
		return a.Config.Scanners[0].ID
	}
	return "scanner"
}

// findFrameExports globs frame export files under dir, sorted by name
func findFrameExports(dir string) ([]string, error) {
	pattern := filepath.Join(dir, "FrameExport-*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("finding frame exports: %w", err)
	}
	if len(files) == 0 {
		files, _ = filepath.Glob("FrameExport-*.json")
	}
	sort.Strings(files)
	return files, nil
}
