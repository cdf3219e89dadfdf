package exposure

import(
	"image"
	"sort"

	"github.com/abworrall/ringstitch/pkg/pano"
)

// Luminance of an 8-bit RGB triple, Rec.601 weights
func Luminance(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

// SampleOverlap looks at every `stride`th pixel (in both axes) where
// both results are visible, and returns the mean luminance each result
// has there. ok is false if they share no visible pixels.
func SampleOverlap(a, b *pano.StitchingResult, stride int) (Correspondence, bool) {
	if stride < 1 {
		stride = 1
	}
	roi := a.Rect().Intersect(b.Rect())
	if roi.Empty() {
		return Correspondence{}, false
	}

	sumA, sumB, n := 0.0, 0.0, 0
	for y := roi.Min.Y; y < roi.Max.Y; y += stride {
		for x := roi.Min.X; x < roi.Max.X; x += stride {
			p := image.Point{x, y}
			if a.MaskAt(p) == 0 || b.MaskAt(p) == 0 {
				continue
			}
			sumA += Luminance(a.RGBAt(p))
			sumB += Luminance(b.RGBAt(p))
			n++
		}
	}

	if n == 0 {
		return Correspondence{}, false
	}
	return Correspondence{N: n, MeanFrom: sumA / float64(n), MeanTo: sumB / float64(n)}, true
}

// BuildGraph samples every overlapping pair of results, keyed by image
// ID. If wrapWidth is set, the canvas is a full 360deg turn that wide,
// and overlaps across the wrap are found too.
func BuildGraph(results map[int]*pano.StitchingResult, stride, wrapWidth int) (*Graph, error) {
	g := NewGraph()
	ids := []int{}
	for id := range results {
		ids = append(ids, id)
		g.AddImage(id)
	}
	sort.Ints(ids)

	shifts := []int{0}
	if wrapWidth > 0 {
		shifts = append(shifts, -wrapWidth, wrapWidth)
	}

	for i := 0; i < len(ids); i++ {
		for j := i+1; j < len(ids); j++ {
			a := results[ids[i]]
			for _, dx := range shifts {
				b := *results[ids[j]]
				b.Corner.X += dx
				if corr, ok := SampleOverlap(a, &b, stride); ok {
					if err := g.Observe(ids[i], ids[j], corr); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return g, nil
}
