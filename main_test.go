package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
)

// mockApp records which entry point was dispatched and with what options
type mockApp struct {
	opts        AppOptions
	parseCalled bool
	regCalled   bool
	rendCalled  bool
	svcCalled   bool
	err         error
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunParseOnly() error          { m.parseCalled = true; return m.err }
func (m *mockApp) RunRegister() error           { m.regCalled = true; return m.err }
func (m *mockApp) RunRender() error             { m.rendCalled = true; return m.err }
func (m *mockApp) RunService() error            { m.svcCalled = true; return m.err }

func TestRun_Dispatch(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		verify     func(t *testing.T, m *mockApp)
		verifyOpts func(t *testing.T, opts AppOptions)
	}{
		{
			name: "parse only",
			args: []string{"-parse-only", "-data-dir", "/tmp/frames"},
			verify: func(t *testing.T, m *mockApp) {
				if !m.parseCalled {
					t.Error("RunParseOnly not called")
				}
			},
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.DataDir != "/tmp/frames" {
					t.Errorf("DataDir = %s", opts.DataDir)
				}
			},
		},
		{
			name: "register",
			args: []string{"-register", "-config", "custom.yaml"},
			verify: func(t *testing.T, m *mockApp) {
				if !m.regCalled {
					t.Error("RunRegister not called")
				}
				if m.parseCalled || m.rendCalled || m.svcCalled {
					t.Error("other modes dispatched")
				}
			},
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "custom.yaml" {
					t.Errorf("ConfigFile = %s", opts.ConfigFile)
				}
			},
		},
		{
			name: "render",
			args: []string{"-render", "-output", "out.png", "-format", "both", "-grid-spacing", "500"},
			verify: func(t *testing.T, m *mockApp) {
				if !m.rendCalled {
					t.Error("RunRender not called")
				}
			},
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.OutputFile != "out.png" || opts.RenderFormat != "both" {
					t.Errorf("render opts = %+v", opts)
				}
				if opts.GridSpacing != 500 {
					t.Errorf("GridSpacing = %f", opts.GridSpacing)
				}
			},
		},
		{
			name: "mqtt service",
			args: []string{"-mqtt"},
			verify: func(t *testing.T, m *mockApp) {
				if !m.svcCalled {
					t.Error("RunService not called")
				}
			},
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode || opts.HttpMode {
					t.Errorf("mode opts = %+v", opts)
				}
			},
		},
		{
			name: "http service",
			args: []string{"-http", "-http-port", "9090"},
			verify: func(t *testing.T, m *mockApp) {
				if !m.svcCalled {
					t.Error("RunService not called")
				}
			},
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.HttpMode || opts.HttpPort != 9090 {
					t.Errorf("http opts = %+v", opts)
				}
			},
		},
		{
			name: "combined service",
			args: []string{"-mqtt", "-http"},
			verify: func(t *testing.T, m *mockApp) {
				if !m.svcCalled {
					t.Error("RunService not called")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout bytes.Buffer
			app := &mockApp{}

			if err := run(tt.args, &stdout, app); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if !strings.Contains(stdout.String(), "scanreg version:") {
				t.Error("version banner not printed")
			}
			tt.verify(t, app)
			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_Defaults(t *testing.T) {
	var stdout bytes.Buffer
	app := &mockApp{}

	if err := run(nil, &stdout, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if app.parseCalled || app.regCalled || app.rendCalled || app.svcCalled {
		t.Error("no mode flag should dispatch nothing")
	}
	out := stdout.String()
	if !strings.Contains(out, "Use -register to run the registration pipeline") {
		t.Error("help text not printed")
	}

	if app.opts.ConfigFile != "config.yaml" || app.opts.DataDir != "." {
		t.Errorf("default opts = %+v", app.opts)
	}
	if app.opts.HttpPort != 8080 || app.opts.RenderFormat != "raster" {
		t.Errorf("default opts = %+v", app.opts)
	}
}

func TestRun_Help(t *testing.T) {
	var stdout bytes.Buffer
	app := &mockApp{}

	err := run([]string{"-h"}, &stdout, app)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("-h should surface flag.ErrHelp, got %v", err)
	}
	if !strings.Contains(stdout.String(), "Usage of scanreg") {
		t.Error("usage not printed")
	}
	if app.parseCalled || app.regCalled || app.rendCalled || app.svcCalled {
		t.Error("help must not dispatch")
	}
}

func TestRun_InvalidFlag(t *testing.T) {
	var stdout bytes.Buffer
	if err := run([]string{"-bogus"}, &stdout, &mockApp{}); err == nil {
		t.Error("unknown flag should error")
	}
}

func TestRun_ErrorPropagation(t *testing.T) {
	var stdout bytes.Buffer
	app := &mockApp{err: errors.New("mode failed")}

	err := run([]string{"-register"}, &stdout, app)
	if err == nil || err.Error() != "mode failed" {
		t.Errorf("mode error should propagate, got %v", err)
	}
}
