package seam

import(
	"image"

	"github.com/abworrall/ringstitch/pkg/pano"
)

// FindThreshold splits the overlap of a and b by mask strength: each
// pixel stays in whichever mask is higher there and is zeroed in the
// other. Ties stay with a. Meant for the radial confidence masks the
// warper produces, where the higher value is the pixel nearer its
// image's centre.
func FindThreshold(a, b *pano.StitchingResult) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}

	roi := a.Rect().Intersect(b.Rect())
	if roi.Empty() {
		return pano.Invariantf("threshold seam between %s and %s: no overlap", a.Rect(), b.Rect())
	}

	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			p := image.Point{x, y}
			ma, mb := a.MaskAt(p), b.MaskAt(p)
			if ma == 0 || mb == 0 {
				continue
			}
			if ma >= mb {
				b.SetMaskAt(p, 0)
			} else {
				a.SetMaskAt(p, 0)
			}
		}
	}
	return nil
}
