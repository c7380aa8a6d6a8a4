package main

import (
	"encoding/json"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/scanreg/scan"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *scan.StateTracker, store *scan.Store, config *scan.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, chain := stateTracker.GetChain()
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasPoses  bool      `json:"hasPoses"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasPoses:  chain.Len() > 0,
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Pipeline status endpoint
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		payload := struct {
			Run    scan.RunStatus `json:"run"`
			Frames map[string]int `json:"frames"`
		}{
			Run:    stateTracker.GetStatus(),
			Frames: stateTracker.GetFrameCounts(),
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("Error encoding status: %v", err)
		}
	})

	// Registered pose chain endpoint
	mux.HandleFunc("/api/poses.json", func(w http.ResponseWriter, r *http.Request) {
		scannerID, chain := stateTracker.GetChain()
		if chain.Len() == 0 {
			http.Error(w, "No registered poses available", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		payload := struct {
			ScannerID string          `json:"scannerId"`
			Chain     *scan.PoseChain `json:"chain"`
		}{
			ScannerID: scannerID,
			Chain:     chain,
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("Error encoding poses: %v", err)
		}
	})

	// Archived runs endpoint
	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "Run archive not configured", http.StatusServiceUnavailable)
			return
		}

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		runs, err := store.RecentRuns(limit)
		if err != nil {
			log.Printf("Error listing runs: %v", err)
			http.Error(w, "Run archive error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(runs); err != nil {
			log.Printf("Error encoding runs: %v", err)
		}
	})

	// Trajectory raster endpoint
	mux.HandleFunc("/trajectory.png", func(w http.ResponseWriter, r *http.Request) {
		scannerID, chain := stateTracker.GetChain()
		if chain.Len() == 0 {
			http.Error(w, "No registered poses available", http.StatusServiceUnavailable)
			return
		}

		renderer := scan.NewTrajectoryRenderer(map[string]*scan.PoseChain{scannerID: chain})
		if config != nil && config.Render.GridSpacing > 0 {
			renderer.GridSize = config.Render.GridSpacing
		}

		img := renderer.Render()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding trajectory PNG: %v", err)
		}
	})

	// Trajectory vector endpoint
	mux.HandleFunc("/trajectory.svg", func(w http.ResponseWriter, r *http.Request) {
		scannerID, chain := stateTracker.GetChain()
		if chain.Len() == 0 {
			http.Error(w, "No registered poses available", http.StatusServiceUnavailable)
			return
		}

		trajectory := scan.TrajectoryFromChain(chain)
		renderer := scan.NewVectorTrajectoryRenderer(map[string]*scan.Trajectory{scannerID: &trajectory})
		if config != nil && config.Render.GridSpacing > 0 {
			renderer.GridSpacing = config.Render.GridSpacing
			renderer.Padding = config.Render.GridSpacing / 2
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error encoding trajectory SVG: %v", err)
		}
	})

	// Trajectory GeoJSON endpoint
	mux.HandleFunc("/trajectory.geojson", func(w http.ResponseWriter, r *http.Request) {
		_, chain := stateTracker.GetChain()
		if chain.Len() == 0 {
			http.Error(w, "No registered poses available", http.StatusServiceUnavailable)
			return
		}

		tolerance := 25.0
		if v := r.URL.Query().Get("tolerance"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
				tolerance = f
			}
		}

		trajectory := scan.TrajectoryFromChain(chain)
		data, err := trajectory.ToGeoJSON(tolerance, 10)
		if err != nil {
			log.Printf("Error building trajectory GeoJSON: %v", err)
			http.Error(w, "GeoJSON encoding error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing trajectory GeoJSON: %v", err)
		}
	})

	return mux
}
