// Package seam decides which of two overlapping images owns each pixel
// of their overlap, by zeroing mask pixels.
package seam

import(
	"image"

	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/pano"
)

// Axis picks the direction of the dynamic programming sweep.
type Axis int

const(
	// Vertical sweeps row by row; the seam is one column per row, and
	// runs top to bottom between a left and a right image.
	Vertical Axis = iota

	// Horizontal is the same thing transposed; the seam is one row per
	// column, between an upper and a lower image.
	Horizontal
)

func (a Axis)String() string {
	if a == Horizontal {
		return "horizontal"
	}
	return "vertical"
}

// Dynamic finds the cut through the overlap of two images along which
// they agree the most, then carves their masks along it.
type Dynamic struct {
	Axis    Axis
	Overlap int   // Width of the band either side of the seam that both masks keep
	Logger  *zap.SugaredLogger

	DebugFile string  // If set, the accumulated cost grid is dumped here as a PNG
}

// FindDynamic is a shortcut for a Dynamic with no logging.
func FindDynamic(a, b *pano.StitchingResult, axis Axis, overlap int) ([]int, error) {
	d := Dynamic{Axis: axis, Overlap: overlap}
	return d.Find(a, b)
}

// frame maps the sweep's (u,v) coords onto the canvas: v counts the
// rows of the sweep, u is the position within a row.
type frame struct {
	roi  image.Rectangle
	axis Axis
}

func (f frame)size() (int, int) {
	if f.axis == Horizontal {
		return f.roi.Dy(), f.roi.Dx()
	}
	return f.roi.Dx(), f.roi.Dy()
}

func (f frame)remap(u, v int) image.Point {
	if f.axis == Horizontal {
		return image.Point{f.roi.Min.X + v, f.roi.Min.Y + u}
	}
	return image.Point{f.roi.Min.X + u, f.roi.Min.Y + v}
}

func (f frame)along(p image.Point) int {
	if f.axis == Horizontal {
		return p.Y
	}
	return p.X
}

// Find carves the masks of a and b in place, and returns the seam: for
// each row of the sweep, the position of the last pixel the first
// ("left", or "upper") image owns, relative to the overlap.
func (d Dynamic)Find(a, b *pano.StitchingResult) ([]int, error) {
	log := d.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	roi := a.Rect().Intersect(b.Rect())
	if roi.Empty() {
		return nil, pano.Invariantf("seam between %s and %s: no overlap", a.Rect(), b.Rect())
	}

	f := frame{roi: roi, axis: d.Axis}
	U, V := f.size()

	inv := inverseCost(a, b, f)
	seam, cost := solve(inv)

	left, right := a, b
	if f.along(b.Corner) < f.along(a.Corner) {
		left, right = b, a
	}

	for v := 0; v < V; v++ {
		for u := 0; u < U; u++ {
			p := f.remap(u, v)
			if u >= seam[v]+1+d.Overlap {
				left.SetMaskAt(p, 0)
			}
			if u <= seam[v]-d.Overlap {
				right.SetMaskAt(p, 0)
			}
		}
	}

	if countVisible(left, roi) == 0 || countVisible(right, roi) == 0 {
		log.Warnw("Seam left a mask with nothing in the overlap", "roi", roi, "overlap", d.Overlap, "axis", d.Axis)
	}

	log.Debugw("Cut dynamic seam", "axis", d.Axis, "roi", roi, "cost", cost.Get(seam[V-1], V-1))

	if d.DebugFile != "" {
		for v := 0; v < V; v++ {
			cost.Set(seam[v], v, 0)
		}
		if err := cost.ToImg("seam "+d.Axis.String(), d.DebugFile); err != nil {
			log.Warnw("Could not write seam debug image", "file", d.DebugFile, "error", err)
		}
	}

	return seam, nil
}

// inverseCost is high where the two images agree: 255 minus the
// euclidean RGB distance, and 0 where either mask is empty. The grid is
// laid out in sweep coords, U wide and V high.
func inverseCost(a, b *pano.StitchingResult, f frame) emath.FloatGrid {
	U, V := f.size()
	inv := emath.NewFloatGrid(U, V)

	for v := 0; v < V; v++ {
		for u := 0; u < U; u++ {
			p := f.remap(u, v)
			if a.MaskAt(p) == 0 || b.MaskAt(p) == 0 {
				continue
			}
			ar, ag, ab := a.RGBAt(p)
			br, bg, bb := b.RGBAt(p)
			ca := colorful.Color{R: ar/255.0, G: ag/255.0, B: ab/255.0}
			cb := colorful.Color{R: br/255.0, G: bg/255.0, B: bb/255.0}

			inv.Set(u, v, emath.Clamp(255.0 - 255.0*ca.DistanceRgb(cb), 0, 255))
		}
	}
	return inv
}

// solve runs the row-by-row DP over the inverse cost, returning the
// best path and the accumulated cost grid. Predecessors are tried in
// the order straight, left, right, and only a strictly better one
// replaces an earlier one, so ties always resolve the same way.
func solve(inv emath.FloatGrid) ([]int, emath.FloatGrid) {
	U, V := inv.Dx(), inv.Dy()
	cost := inv.NewFromThis()
	dirs := make([]int8, U*V)

	for u := 0; u < U; u++ {
		cost.Set(u, 0, inv.Get(u, 0))
	}

	for v := 1; v < V; v++ {
		for u := 0; u < U; u++ {
			best, dir := cost.Get(u, v-1), int8(0)
			if u > 0 && cost.Get(u-1, v-1) > best {
				best, dir = cost.Get(u-1, v-1), -1
			}
			if u < U-1 && cost.Get(u+1, v-1) > best {
				best, dir = cost.Get(u+1, v-1), 1
			}
			cost.Set(u, v, inv.Get(u, v) + best)
			dirs[v*U+u] = dir
		}
	}

	start := 0
	for u := 1; u < U; u++ {
		if cost.Get(u, V-1) > cost.Get(start, V-1) {
			start = u
		}
	}

	seam := make([]int, V)
	seam[V-1] = start
	for v := V-1; v > 0; v-- {
		seam[v-1] = seam[v] + int(dirs[v*U+seam[v]])
	}
	return seam, cost
}

func countVisible(r *pano.StitchingResult, roi image.Rectangle) int {
	n := 0
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			if r.MaskAt(image.Point{x, y}) != 0 {
				n++
			}
		}
	}
	return n
}
