package scan

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"
	"sort"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// snapCoord rounds a coordinate to the nearest multiple of the given increment.
// An increment of 0 disables snapping and returns the coordinate unchanged.
func snapCoord(coord, increment float64) float64 {
	if increment <= 0 {
		return coord
	}
	return math.Round(coord/increment) * increment
}

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	// Premultiply: multiply RGB by alpha
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorTrajectoryRenderer renders registered trajectories as vector
// graphics, with optional Douglas-Peucker simplification applied before
// drawing so large chains stay compact in SVG output.
type VectorTrajectoryRenderer struct {
	Trajectories      map[string]*Trajectory
	Colors            map[string]TrajectoryColor
	Padding           float64 // Padding in world units (mm)
	Resolution        canvas.Resolution
	GridSpacing       float64 // Grid line spacing in millimeters
	SnapIncrement     float64 // Snap world coordinates to this increment (mm); 0 disables
	SimplifyTolerance float64 // Simplification tolerance (mm); 0 disables
}

// NewVectorTrajectoryRenderer creates a vector renderer with default
// settings
func NewVectorTrajectoryRenderer(trajectories map[string]*Trajectory) *VectorTrajectoryRenderer {
	colors := DefaultTrajectoryColors()
	colorMap := make(map[string]TrajectoryColor)

	i := 0
	for id := range trajectories {
		colorMap[id] = colors[i%len(colors)]
		i++
	}

	return &VectorTrajectoryRenderer{
		Trajectories:      trajectories,
		Colors:            colorMap,
		Padding:           500.0,           // 500mm padding
		Resolution:        canvas.DPI(300), // 300 DPI default for PNG output
		GridSpacing:       1000.0,          // 1000mm grid spacing
		SnapIncrement:     10.0,            // 10mm snap for grid alignment
		SimplifyTolerance: 25.0,            // 25mm path simplification
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the trajectories as an SVG to the provided writer
func (r *VectorTrajectoryRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, maxX, maxY, err := r.worldBounds()
	if err != nil {
		return err
	}

	width := (maxX - minX) + 2*r.Padding
	height := (maxY - minY) + 2*r.Padding

	svgRenderer := svg.New(w, width, height, nil)

	r.renderToCanvas(svgRenderer, minX, minY, maxX, maxY, width, height)

	return svgRenderer.Close()
}

// RenderToPNG writes the trajectories as a PNG to the provided writer
func (r *VectorTrajectoryRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, maxX, maxY, err := r.worldBounds()
	if err != nil {
		return err
	}

	width := (maxX - minX) + 2*r.Padding
	height := (maxY - minY) + 2*r.Padding

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)

	r.renderToCanvas(rast, minX, minY, maxX, maxY, width, height)

	// Rasterizer implements draw.Image, which embeds image.Image
	return png.Encode(w, rast)
}

func (r *VectorTrajectoryRenderer) worldBounds() (minX, minY, maxX, maxY float64, err error) {
	if len(r.Trajectories) == 0 {
		return 0, 0, 0, 0, fmt.Errorf("no trajectories to render")
	}

	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY = -math.MaxFloat64, -math.MaxFloat64

	for _, t := range r.Trajectories {
		for _, p := range t.Line {
			x := snapCoord(p[0], r.SnapIncrement)
			y := snapCoord(p[1], r.SnapIncrement)
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if minX > maxX {
		return 0, 0, 0, 0, fmt.Errorf("trajectories contain no points")
	}
	return minX, minY, maxX, maxY, nil
}

// renderToCanvas renders the trajectories to a canvas renderer (shared
// logic for SVG and PNG)
func (r *VectorTrajectoryRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, maxX, maxY, width, height float64) {
	// Draw white background
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		tx := (snapCoord(x, r.SnapIncrement) - minX) + r.Padding
		ty := (snapCoord(y, r.SnapIncrement) - minY) + r.Padding
		return tx, ty
	}

	// Grid lines underneath the trajectories
	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 2.0
		gridStyle.Dashes = []float64{10.0, 10.0}

		for x := math.Floor(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(x, minY)
			x2, y2 := toCanvas(x, maxY)
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}

		for y := math.Floor(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(minX, y)
			x2, y2 := toCanvas(maxX, y)
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	// Sort by scanner ID for deterministic rendering order
	ids := make([]string, 0, len(r.Trajectories))
	for id := range r.Trajectories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		t := r.Trajectories[id]
		tc := r.Colors[id]

		line := t.Line
		if r.SimplifyTolerance > 0 {
			line = t.Simplified(r.SimplifyTolerance)
		}
		if len(line) == 0 {
			continue
		}

		// Trajectory polyline (stroked)
		pathStyle := canvas.DefaultStyle
		pathStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		pathStyle.Stroke = canvas.Paint{Color: tc.Path}
		pathStyle.StrokeWidth = 15.0

		cp := &canvas.Path{}
		for i, p := range line {
			cx, cy := toCanvas(p[0], p[1])
			if i == 0 {
				cp.MoveTo(cx, cy)
			} else {
				cp.LineTo(cx, cy)
			}
		}
		renderer.RenderPath(cp, pathStyle, canvas.Identity)

		// Start marker (square) and end marker (circle)
		startStyle := canvas.DefaultStyle
		startStyle.Fill = canvas.Paint{Color: tc.Edge}
		startStyle.Stroke = canvas.Paint{Color: canvas.Black}
		startStyle.StrokeWidth = 5.0

		sx, sy := toCanvas(line[0][0], line[0][1])
		startPath := canvas.Rectangle(120.0, 120.0)
		startPath = startPath.Translate(sx-60.0, sy-60.0)
		renderer.RenderPath(startPath, startStyle, canvas.Identity)

		ex, ey := toCanvas(line[len(line)-1][0], line[len(line)-1][1])
		endPath := canvas.Circle(70.0)
		endPath = endPath.Translate(ex, ey)
		renderer.RenderPath(endPath, startStyle, canvas.Identity)
	}
}
