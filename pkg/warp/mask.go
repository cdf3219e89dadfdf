package warp

import(
	"image"
	"math"
)

// RadialMask is 255 at the centre of a w x h image, falling off
// linearly with (aspect-normalised) distance to 1 at the corners. Every
// pixel of the image is nonzero, so a warped copy of this mask is also
// a coverage mask.
func RadialMask(w, h int) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	cx, cy := float64(w-1)/2, float64(h-1)/2
	if cx == 0 { cx = 1 }
	if cy == 0 { cy = 1 }

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := (float64(x)-cx)/cx, (float64(y)-cy)/cy
			r := math.Sqrt(dx*dx+dy*dy) / math.Sqrt2
			if r > 1 { r = 1 }
			m.Pix[m.PixOffset(x, y)] = uint8(math.Round(1 + 254*(1-r)))
		}
	}
	return m
}
