package register

import(
	"image"
	"math"

	"github.com/golang/geo/r2"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/exposure"
	"github.com/abworrall/ringstitch/pkg/pano"
)

// Translated renders src into a w x h frame, shifted so that src's
// origin lands on `off`. The mask uses nearest neighbour so it stays a
// mask.
func Translated(src *pano.StitchingResult, size image.Point, off r2.Point) (*image.RGBA, *image.Gray) {
	m := f64.Aff3(emath.IdentityAff3().Translate(off.X, off.Y))
	img := image.NewRGBA(image.Rectangle{Max: size})
	mask := image.NewGray(image.Rectangle{Max: size})
	draw.BiLinear.Transform(img, m, src.Image, src.Image.Bounds(), draw.Src, nil)
	draw.NearestNeighbor.Transform(mask, m, src.Mask, src.Mask.Bounds(), draw.Src, nil)
	return img, mask
}

// ImgDiff compares ref with mov placed at `off`, and returns an error
// metric; the less similar, the higher the value. It is the mean
// absolute luminance difference over the pixels both masks keep. The
// per-pixel differences come back too, for dumping. With nothing in
// common, the metric is +Inf.
func ImgDiff(ref, mov *pano.StitchingResult, off r2.Point) (float64, emath.FloatGrid) {
	size := ref.Image.Bounds().Size()
	diff := emath.NewFloatGrid(size.X, size.Y)
	movImg, movMask := Translated(mov, size, off)

	totErr := 0.0
	nErr := 0
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			if ref.Mask.GrayAt(x, y).Y == 0 || movMask.GrayAt(x, y).Y == 0 {
				continue
			}
			c1 := ref.Image.RGBAAt(x, y)
			c2 := movImg.RGBAAt(x, y)
			y1 := exposure.Luminance(float64(c1.R), float64(c1.G), float64(c1.B))
			y2 := exposure.Luminance(float64(c2.R), float64(c2.G), float64(c2.B))

			pixErr := math.Abs(y1 - y2)
			diff.Set(x, y, pixErr)
			totErr += pixErr
			nErr++
		}
	}

	if nErr == 0 {
		return math.Inf(1), diff
	}
	return totErr / float64(nErr), diff
}
