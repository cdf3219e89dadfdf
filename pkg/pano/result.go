package pano

import(
	"fmt"
	"image"
)

// A StitchingResult is a warped (or blended) image placed on the shared
// panorama canvas. Image and Mask both have bounds starting at (0,0);
// Corner says where that origin lands on the canvas.
type StitchingResult struct {
	Image  *image.RGBA
	Mask   *image.Gray
	Corner image.Point
	Cores  []image.Rectangle  // Canvas placement of each source that went into this result
}

// Rect is the area the result covers, in canvas coords
func (r *StitchingResult)Rect() image.Rectangle {
	return r.Image.Bounds().Sub(r.Image.Bounds().Min).Add(r.Corner)
}

func (r *StitchingResult)String() string {
	return fmt.Sprintf("Result[%s, %d sources]", r.Rect(), len(r.Cores))
}

// Validate checks the image and mask line up.
func (r *StitchingResult)Validate() error {
	if r == nil || r.Image == nil {
		return Invariantf("stitching result has no image")
	}
	if r.Mask == nil {
		return Invariantf("stitching result %s has no mask", r.Rect())
	}
	if r.Image.Bounds().Size() != r.Mask.Bounds().Size() {
		return Invariantf("image %s and mask %s differ in size", r.Image.Bounds(), r.Mask.Bounds())
	}
	return nil
}

// MaskAt returns the mask value at a canvas coordinate, or 0 if outside.
func (r *StitchingResult)MaskAt(p image.Point) uint8 {
	p = p.Sub(r.Corner).Add(r.Mask.Rect.Min)
	if !p.In(r.Mask.Rect) {
		return 0
	}
	return r.Mask.GrayAt(p.X, p.Y).Y
}

// SetMaskAt writes the mask at a canvas coordinate; ignored if outside.
func (r *StitchingResult)SetMaskAt(p image.Point, v uint8) {
	p = p.Sub(r.Corner).Add(r.Mask.Rect.Min)
	if !p.In(r.Mask.Rect) {
		return
	}
	r.Mask.Pix[r.Mask.PixOffset(p.X, p.Y)] = v
}

// RGBAt returns the pixel at a canvas coordinate as floats in [0,255].
func (r *StitchingResult)RGBAt(p image.Point) (float64, float64, float64) {
	p = p.Sub(r.Corner).Add(r.Image.Rect.Min)
	if !p.In(r.Image.Rect) {
		return 0, 0, 0
	}
	i := r.Image.PixOffset(p.X, p.Y)
	return float64(r.Image.Pix[i]), float64(r.Image.Pix[i+1]), float64(r.Image.Pix[i+2])
}

// Release drops the pixel buffers, keeping the placement.
func (r *StitchingResult)Release() {
	r.Image = nil
	r.Mask = nil
}
