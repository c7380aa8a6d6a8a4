package scan

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TrajectoryColor groups the colors used when drawing one scanner's
// trajectory
type TrajectoryColor struct {
	Path  color.RGBA
	Point color.NRGBA
	Edge  color.RGBA
}

// DefaultTrajectoryColors returns distinct colors for up to four
// scanners
func DefaultTrajectoryColors() []TrajectoryColor {
	return []TrajectoryColor{
		{
			Path:  color.RGBA{0, 90, 200, 255},
			Point: color.NRGBA{100, 150, 255, 90},
			Edge:  color.RGBA{200, 30, 30, 255},
		},
		{
			Path:  color.RGBA{0, 150, 60, 255},
			Point: color.NRGBA{110, 220, 140, 90},
			Edge:  color.RGBA{200, 120, 0, 255},
		},
		{
			Path:  color.RGBA{150, 40, 170, 255},
			Point: color.NRGBA{210, 140, 230, 90},
			Edge:  color.RGBA{60, 60, 60, 255},
		},
		{
			Path:  color.RGBA{200, 120, 0, 255},
			Point: color.NRGBA{250, 200, 120, 90},
			Edge:  color.RGBA{0, 90, 200, 255},
		},
	}
}

// TrajectoryRenderer renders registered pose chains as a top-down
// raster image. Frames may optionally be supplied to draw the
// registered point clouds underneath the trajectory lines.
type TrajectoryRenderer struct {
	Chains    map[string]*PoseChain
	Clouds    map[string][]Frame // optional, already transformed to world space
	Edges     map[string][]int   // frame indices drawn as edge markers
	Colors    map[string]TrajectoryColor
	Scale     float64 // pixels per millimeter
	Padding   int     // padding in pixels
	MaxSize   int     // image dimension cap
	GridSize  float64 // grid spacing in mm; 0 disables
	DrawGrid  bool
	ShowScore bool // annotate edge markers with fitness
}

// NewTrajectoryRenderer creates a renderer with default settings
func NewTrajectoryRenderer(chains map[string]*PoseChain) *TrajectoryRenderer {
	colors := DefaultTrajectoryColors()
	colorMap := make(map[string]TrajectoryColor)
	i := 0
	for id := range chains {
		colorMap[id] = colors[i%len(colors)]
		i++
	}

	return &TrajectoryRenderer{
		Chains:   chains,
		Clouds:   make(map[string][]Frame),
		Edges:    make(map[string][]int),
		Colors:   colorMap,
		Scale:    0.1, // 10mm per pixel
		Padding:  40,
		MaxSize:  4000,
		GridSize: 1000.0,
		DrawGrid: true,
	}
}

// CalculateBounds computes world-space X/Y bounds over all chains and
// clouds
func (r *TrajectoryRenderer) CalculateBounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.MaxFloat64, math.MaxFloat64
	maxX, maxY = -math.MaxFloat64, -math.MaxFloat64

	grow := func(x, y float64) {
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

	for _, chain := range r.Chains {
		for _, pose := range chain.Poses {
			t := pose.Transform.Translation()
			grow(t.X, t.Y)
		}
	}
	for _, frames := range r.Clouds {
		for _, f := range frames {
			for _, p := range f.Points {
				grow(p.X, p.Y)
			}
		}
	}

	if minX > maxX {
		minX, minY, maxX, maxY = 0, 0, 0, 0
	}
	return
}

// Render draws all trajectories into a new image
func (r *TrajectoryRenderer) Render() *image.RGBA {
	minX, minY, maxX, maxY := r.CalculateBounds()

	width := int((maxX-minX)*r.Scale) + 2*r.Padding
	height := int((maxY-minY)*r.Scale) + 2*r.Padding

	// Limit size by shrinking against the larger dimension
	if r.MaxSize > 2*r.Padding && (width > r.MaxSize || height > r.MaxSize) {
		larger := width
		if height > larger {
			larger = height
		}
		r.Scale *= float64(r.MaxSize-2*r.Padding) / float64(larger-2*r.Padding)
		width = int((maxX-minX)*r.Scale) + 2*r.Padding
		height = int((maxY-minY)*r.Scale) + 2*r.Padding
	}
	if width <= 0 {
		width = 2*r.Padding + 1
	}
	if height <= 0 {
		height = 2*r.Padding + 1
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{240, 240, 240, 255})
		}
	}

	toImage := func(x, y float64) (int, int) {
		ix := int((x-minX)*r.Scale) + r.Padding
		iy := int((y-minY)*r.Scale) + r.Padding
		return ix, iy
	}

	if r.DrawGrid && r.GridSize > 0 {
		r.drawGrid(img, minX, minY, maxX, maxY, toImage)
	}

	// First pass: point clouds (semi-transparent)
	for id, frames := range r.Clouds {
		tc := r.Colors[id]
		for _, f := range frames {
			for _, p := range f.Points {
				ix, iy := toImage(p.X, p.Y)
				if ix >= 0 && ix < width && iy >= 0 && iy < height {
					existing := img.RGBAAt(ix, iy)
					img.Set(ix, iy, blendPointColor(existing, tc.Point))
				}
			}
		}
	}

	// Second pass: trajectory polylines
	for id, chain := range r.Chains {
		tc := r.Colors[id]
		var prevX, prevY int
		for i, pose := range chain.Poses {
			t := pose.Transform.Translation()
			ix, iy := toImage(t.X, t.Y)
			if i > 0 {
				drawSegment(img, prevX, prevY, ix, iy, tc.Path)
			}
			prevX, prevY = ix, iy
		}
	}

	// Third pass: edge markers and endpoints
	for id, chain := range r.Chains {
		tc := r.Colors[id]

		edgeSet := make(map[int]bool, len(r.Edges[id]))
		for _, e := range r.Edges[id] {
			edgeSet[e] = true
		}

		for i, pose := range chain.Poses {
			t := pose.Transform.Translation()
			ix, iy := toImage(t.X, t.Y)
			switch {
			case i == 0:
				drawMarkerSquare(img, ix, iy, 8, tc.Edge)
			case i == len(chain.Poses)-1:
				drawMarkerCircle(img, ix, iy, 5, tc.Edge)
			case edgeSet[pose.FrameIndex]:
				drawMarkerCircle(img, ix, iy, 3, tc.Edge)
			}
		}
	}

	r.drawLegend(img)

	return img
}

// SavePNG renders and saves the trajectory image to a file
func (r *TrajectoryRenderer) SavePNG(path string) error {
	img := r.Render()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

func (r *TrajectoryRenderer) drawGrid(img *image.RGBA, minX, minY, maxX, maxY float64, toImage func(x, y float64) (int, int)) {
	gridColor := color.RGBA{210, 210, 210, 255}
	bounds := img.Bounds()

	for x := math.Floor(minX/r.GridSize) * r.GridSize; x <= maxX; x += r.GridSize {
		ix, _ := toImage(x, minY)
		if ix < 0 || ix >= bounds.Max.X {
			continue
		}
		for iy := 0; iy < bounds.Max.Y; iy++ {
			img.Set(ix, iy, gridColor)
		}
	}
	for y := math.Floor(minY/r.GridSize) * r.GridSize; y <= maxY; y += r.GridSize {
		_, iy := toImage(minX, y)
		if iy < 0 || iy >= bounds.Max.Y {
			continue
		}
		for ix := 0; ix < bounds.Max.X; ix++ {
			img.Set(ix, iy, gridColor)
		}
	}
}

func (r *TrajectoryRenderer) drawLegend(img *image.RGBA) {
	ids := sortedChainIDs(r.Chains)

	y := 15
	for _, id := range ids {
		tc := r.Colors[id]

		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-6, tc.Path)
			}
		}

		drawText(img, 28, y+4, id, color.RGBA{0, 0, 0, 255})

		y += 18
	}
}

func sortedChainIDs(chains map[string]*PoseChain) []string {
	ids := make([]string, 0, len(chains))
	for id := range chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// drawSegment draws a line between two image points using Bresenham
func drawSegment(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	bounds := img.Bounds()
	for {
		if x0 >= 0 && x0 < bounds.Max.X && y0 >= 0 && y0 < bounds.Max.Y {
			img.Set(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawMarkerCircle draws a filled circle marker
func drawMarkerCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

// drawMarkerSquare draws a filled square marker
func drawMarkerSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

// blendPointColor alpha blends a cloud point color over the background
func blendPointColor(bg color.RGBA, fg color.NRGBA) color.NRGBA {
	var bgNRGBA color.NRGBA
	switch bg.A {
	case 0:
		bgNRGBA = color.NRGBA{0, 0, 0, 0}
	case 255:
		bgNRGBA = color.NRGBA{bg.R, bg.G, bg.B, 255}
	default:
		alpha32 := uint32(bg.A)
		bgNRGBA = color.NRGBA{
			R: uint8((uint32(bg.R) * 255) / alpha32),
			G: uint8((uint32(bg.G) * 255) / alpha32),
			B: uint8((uint32(bg.B) * 255) / alpha32),
			A: bg.A,
		}
	}

	alpha := float64(fg.A) / 255.0
	invAlpha := 1.0 - alpha

	return color.NRGBA{
		R: uint8(float64(fg.R)*alpha + float64(bgNRGBA.R)*invAlpha),
		G: uint8(float64(fg.G)*alpha + float64(bgNRGBA.G)*invAlpha),
		B: uint8(float64(fg.B)*alpha + float64(bgNRGBA.B)*invAlpha),
		A: 255,
	}
}

// drawText renders text onto an image at the given position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
