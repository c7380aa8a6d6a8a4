package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kwv/scanreg/scan"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries parsed CLI options into the application
type AppOptions struct {
	ConfigFile   string
	DataDir      string
	PosesCache   string
	OutputFile   string
	RenderFormat string
	VectorFormat string
	GridSpacing  float64
	HttpPort     int
	ParseOnly    bool
	RegisterOnly bool
	RenderOnly   bool
	MqttMode     bool
	HttpMode     bool
}

// appRunner is the set of entry points main dispatches to
type appRunner interface {
	ApplyOptions(opts AppOptions)
	RunParseOnly() error
	RunRegister() error
	RunRender() error
	RunService() error
}

func main() {
	app := NewApp()
	if err := run(os.Args[1:], os.Stdout, app); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run parses flags and dispatches to the selected mode
func run(args []string, stdout io.Writer, app appRunner) error {
	fs := flag.NewFlagSet("scanreg", flag.ContinueOnError)
	fs.SetOutput(stdout)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Directory containing frame exports")
	fs.StringVar(&opts.PosesCache, "poses-cache", scan.DefaultPosesCachePath, "Path to the registered poses cache file")
	fs.StringVar(&opts.OutputFile, "output", "trajectory.png", "Output file for -render mode")
	fs.StringVar(&opts.RenderFormat, "format", "raster", "Render format: raster, vector, or both")
	fs.StringVar(&opts.VectorFormat, "vector-format", "svg", "Vector output format: svg or png")
	fs.Float64Var(&opts.GridSpacing, "grid-spacing", 1000.0, "Grid line spacing in millimeters")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.ParseOnly, "parse-only", false, "Parse frame exports and exit (test mode)")
	fs.BoolVar(&opts.RegisterOnly, "register", false, "Run the registration pipeline and exit")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render trajectory from cached poses and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT capture service mode")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for status and trajectory images")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "scanreg version: %s\n", Version)

	app.ApplyOptions(opts)

	switch {
	case opts.ParseOnly:
		return app.RunParseOnly()
	case opts.RegisterOnly:
		return app.RunRegister()
	case opts.RenderOnly:
		return app.RunRender()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(stdout, "scanreg registration service")
	fmt.Fprintln(stdout, "Use -parse-only to inspect frame exports")
	fmt.Fprintln(stdout, "Use -register to run the registration pipeline")
	fmt.Fprintln(stdout, "Use -render to render a trajectory from cached poses")
	fmt.Fprintln(stdout, "Use -mqtt to run the live capture service")
	fmt.Fprintln(stdout, "Use -http to serve status and trajectory endpoints")
	fmt.Fprintln(stdout, "Use -mqtt -http to run both together")
	fmt.Fprintln(stdout, "\nConfiguration:")
	fmt.Fprintln(stdout, "  config.yaml - capture range, loop settings and MQTT brokers")
	fmt.Fprintf(stdout, "  %s - registered poses (cached)\n", scan.DefaultPosesCachePath)
	return nil
}
