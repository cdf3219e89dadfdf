// Package blend composites placed images into one canvas with a
// Laplacian pyramid (multi-band) blender.
package blend

import(
	"fmt"
	"image"
	"math"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/pano"
)

const weightEps = 1e-5

// MultiBand blends low frequencies over a wide band and high
// frequencies over a narrow one, so seams show neither as a hard edge
// nor as a ghosted smear. Inputs are fed one at a time, and can be
// released as soon as Feed returns.
type MultiBand struct {
	bands    int
	roi      image.Rectangle  // The area callers asked for
	padded   image.Rectangle  // roi, grown to a multiple of 2^bands
	log      *zap.SugaredLogger

	lap      [3][]emath.FloatGrid  // Per channel, per level weighted laplacians
	weights  []emath.FloatGrid     // Per level weight sums
	cores    []image.Rectangle

	DebugPrefix string  // If set, the weight pyramid is dumped to PNGs with this prefix
}

// NewMultiBand prepares a blender covering roi (in canvas coords). The
// band count is reduced if the canvas is too small to hold that many
// levels.
func NewMultiBand(bands int, roi image.Rectangle, logger *zap.SugaredLogger) (*MultiBand, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if roi.Empty() {
		return nil, pano.Invariantf("blend into empty canvas %s", roi)
	}
	if bands < 0 {
		bands = 0
	}
	maxLen := roi.Dx()
	if roi.Dy() > maxLen {
		maxLen = roi.Dy()
	}
	if limit := int(math.Floor(math.Log2(float64(maxLen)))); bands > limit {
		bands = limit
	}

	step := 1 << bands
	padded := image.Rectangle{
		Min: roi.Min,
		Max: roi.Min.Add(image.Point{roundUp(roi.Dx(), step), roundUp(roi.Dy(), step)}),
	}

	mb := &MultiBand{
		bands:  bands,
		roi:    roi,
		padded: padded,
		log:    logger,
	}
	w, h := padded.Dx(), padded.Dy()
	for l := 0; l <= bands; l++ {
		for c := 0; c < 3; c++ {
			mb.lap[c] = append(mb.lap[c], emath.NewFloatGrid(w, h))
		}
		mb.weights = append(mb.weights, emath.NewFloatGrid(w, h))
		w, h = w/2, h/2
	}

	bytes := uint64(4 * padded.Dx() * padded.Dy() * 8 * 4 / 3)
	logger.Infow("Prepared multiband canvas", "roi", roi, "bands", bands, "memory", humanize.Bytes(bytes))
	return mb, nil
}

func roundUp(v, step int) int {
	return ((v + step - 1) / step) * step
}

func (mb *MultiBand)Bands() int { return mb.bands }

// Feed adds one placed image to the canvas. The mask weights each
// pixel (0 excludes it); parts falling outside the canvas are ignored.
func (mb *MultiBand)Feed(r *pano.StitchingResult) error {
	if err := r.Validate(); err != nil {
		return err
	}
	src := r.Rect()
	if !src.Overlaps(mb.padded) {
		return pano.Invariantf("feed %s lies outside canvas %s", src, mb.padded)
	}
	mb.cores = append(mb.cores, r.Cores...)

	// Give the pyramid some room around the image, and line the region up
	// with the coarsest level's grid.
	step := 1 << mb.bands
	gap := 3 * step
	region := image.Rectangle{Min: src.Min.Sub(image.Pt(gap, gap)), Max: src.Max.Add(image.Pt(gap, gap))}
	region = region.Intersect(mb.padded)
	region.Min.X = mb.padded.Min.X + ((region.Min.X - mb.padded.Min.X) / step) * step
	region.Min.Y = mb.padded.Min.Y + ((region.Min.Y - mb.padded.Min.Y) / step) * step
	region.Max.X = mb.padded.Min.X + roundUp(region.Max.X - mb.padded.Min.X, step)
	region.Max.Y = mb.padded.Min.Y + roundUp(region.Max.Y - mb.padded.Min.Y, step)

	w, h := region.Dx(), region.Dy()
	chans := [3]emath.FloatGrid{emath.NewFloatGrid(w, h), emath.NewFloatGrid(w, h), emath.NewFloatGrid(w, h)}
	weight := emath.NewFloatGrid(w, h)

	size := r.Image.Rect.Size()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := region.Min.Add(image.Point{x, y})

			// Outside the image, replicate its edge so the pyramid has no
			// cliff to ring on; those pixels get no weight anyway.
			local := p.Sub(r.Corner)
			if local.X < 0 { local.X = 0 }
			if local.Y < 0 { local.Y = 0 }
			if local.X >= size.X { local.X = size.X-1 }
			if local.Y >= size.Y { local.Y = size.Y-1 }
			rr, gg, bb := r.RGBAt(local.Add(r.Corner))
			chans[0].Set(x, y, rr)
			chans[1].Set(x, y, gg)
			chans[2].Set(x, y, bb)

			weight.Set(x, y, float64(r.MaskAt(p)) / 255.0)
		}
	}

	// Weight pyramid
	ws := []emath.FloatGrid{weight}
	for l := 1; l <= mb.bands; l++ {
		ws = append(ws, ws[l-1].PyrDown())
	}

	for c := 0; c < 3; c++ {
		laps := laplacianPyramid(chans[c], mb.bands)
		for l := 0; l <= mb.bands; l++ {
			ox := (region.Min.X - mb.padded.Min.X) >> l
			oy := (region.Min.Y - mb.padded.Min.Y) >> l
			lw, lh := laps[l].Dx(), laps[l].Dy()
			for y := 0; y < lh; y++ {
				for x := 0; x < lw; x++ {
					mb.lap[c][l].Add(ox+x, oy+y, laps[l].Get(x, y) * ws[l].Get(x, y))
				}
			}
		}
	}

	for l := 0; l <= mb.bands; l++ {
		ox := (region.Min.X - mb.padded.Min.X) >> l
		oy := (region.Min.Y - mb.padded.Min.Y) >> l
		for y := 0; y < ws[l].Dy(); y++ {
			for x := 0; x < ws[l].Dx(); x++ {
				mb.weights[l].Add(ox+x, oy+y, ws[l].Get(x, y))
			}
		}
	}

	return nil
}

// laplacianPyramid returns bands+1 levels; the last is the residual
// Gaussian level, the others the detail lost going down a level.
func laplacianPyramid(g emath.FloatGrid, bands int) []emath.FloatGrid {
	gauss := []emath.FloatGrid{g}
	for l := 1; l <= bands; l++ {
		gauss = append(gauss, gauss[l-1].PyrDown())
	}
	laps := make([]emath.FloatGrid, bands+1)
	for l := 0; l < bands; l++ {
		up := gauss[l+1].PyrUp(gauss[l].Dx(), gauss[l].Dy())
		laps[l] = gauss[l].Sub(&up)
	}
	laps[bands] = gauss[bands]
	return laps
}

// Blend normalises every level by its weights and collapses the
// pyramid. The blender should not be fed after this.
func (mb *MultiBand)Blend() (*Canvas, error) {
	for l := 0; l <= mb.bands; l++ {
		wl := &mb.weights[l]
		for c := 0; c < 3; c++ {
			g := &mb.lap[c][l]
			for y := 0; y < g.Dy(); y++ {
				for x := 0; x < g.Dx(); x++ {
					g.Set(x, y, g.Get(x, y) / (wl.Get(x, y) + weightEps))
				}
			}
		}
	}

	if mb.DebugPrefix != "" {
		for l := 0; l <= mb.bands; l++ {
			title := fmt.Sprintf("weights level %d", l)
			if err := mb.weights[l].ToImg(title, fmt.Sprintf("%s-weights-%d.png", mb.DebugPrefix, l)); err != nil {
				mb.log.Warnw("Could not dump blend weights", "level", l, "error", err)
			}
		}
	}

	canvas := &Canvas{
		Rect:   mb.roi,
		Cores:  mb.cores,
		weight: mb.weights[0],
	}
	for c := 0; c < 3; c++ {
		g := mb.lap[c][mb.bands]
		for l := mb.bands-1; l >= 0; l-- {
			up := g.PyrUp(mb.lap[c][l].Dx(), mb.lap[c][l].Dy())
			up.AddGrid(&mb.lap[c][l])
			g = up
		}
		canvas.chans[c] = g
	}

	// Drop the pyramid; the canvas keeps what it needs.
	mb.lap = [3][]emath.FloatGrid{}
	mb.weights = nil

	mb.log.Infow("Blended canvas", "roi", mb.roi, "sources", len(mb.cores))
	return canvas, nil
}
