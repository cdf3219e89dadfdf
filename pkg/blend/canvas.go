package blend

import(
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/pano"
)

// Canvas is the collapsed output of a blend, still in floating point.
// It implements hdr.Image (and so image.Image), with values scaled to
// [0,1]; pixels nothing was fed to are black.
type Canvas struct {
	Rect    image.Rectangle   // Placement on the panorama canvas
	Cores   []image.Rectangle

	chans   [3]emath.FloatGrid  // Indexed from Rect.Min; may be wider than Rect
	weight  emath.FloatGrid
}

// Implement image.Image
func (c *Canvas)ColorModel() color.Model  { return hdrcolor.RGBModel }
func (c *Canvas)Bounds() image.Rectangle  { return image.Rectangle{Max: c.Rect.Size()} }
func (c *Canvas)At(x, y int) color.Color  { return c.HDRAt(x, y) }

// Implement hdr.Image
func (c *Canvas)HDRAt(x, y int) hdrcolor.Color {
	if !c.Covered(x, y) {
		return hdrcolor.RGB{}
	}
	r, g, b := c.rgb(x, y)
	return hdrcolor.RGB{R: r/255.0, G: g/255.0, B: b/255.0}
}
func (c *Canvas)Size() int { return c.Rect.Dx() * c.Rect.Dy() }

// Covered says whether any fed image contributed to (x,y), in canvas
// local coords.
func (c *Canvas)Covered(x, y int) bool {
	return c.weight.Get(x, y) > weightEps
}

func (c *Canvas)rgb(x, y int) (float64, float64, float64) {
	return c.chans[0].Get(x, y), c.chans[1].Get(x, y), c.chans[2].Get(x, y)
}

// ToResult quantises the canvas into an 8-bit result. The mask is 255
// wherever something was fed, and alpha is opaque throughout.
func (c *Canvas)ToResult() *pano.StitchingResult {
	size := c.Rect.Size()
	img := image.NewRGBA(image.Rectangle{Max: size})
	mask := image.NewGray(image.Rectangle{Max: size})

	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+3] = 0xFF
			if !c.Covered(x, y) {
				continue
			}
			v := emath.Vec3{}
			v[0], v[1], v[2] = c.rgb(x, y)
			v.FloorAt(0)
			v.CeilingAt(255)
			img.Pix[i+0] = emath.ClampUint8(v[0])
			img.Pix[i+1] = emath.ClampUint8(v[1])
			img.Pix[i+2] = emath.ClampUint8(v[2])
			mask.Pix[mask.PixOffset(x, y)] = 0xFF
		}
	}

	return &pano.StitchingResult{
		Image:  img,
		Mask:   mask,
		Corner: c.Rect.Min,
		Cores:  append([]image.Rectangle(nil), c.Cores...),
	}
}

// WriteHDR outputs the canvas as a Radiance RGBE file, for tools that
// want the unclipped blend.
func (c *Canvas)WriteHDR(filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("Canvas.WriteHDR, open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		return rgbe.Encode(writer, c)
	}
}
