// Package warp reprojects camera images onto the shared spherical
// panorama canvas.
package warp

import(
	"image"
	"math"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/pano"
)

// Spherical maps a camera image onto a sphere, unrolled so that
// x = Scale*azimuth and y = Scale*polar angle (0 at the top). A full
// turn is WrapWidth pixels wide.
//
// Rotations are camera-to-world: R*K^-1 takes a pixel to a world ray.
type Spherical struct {
	Scale float64
}

func (s Spherical)WrapWidth() int {
	return int(math.Round(2 * math.Pi * s.Scale))
}

// projector holds the two matrices a single warp needs.
type projector struct {
	scale  float64
	rKinv  emath.Mat3  // pixel -> world
	kRinv  emath.Mat3  // world -> pixel
}

func newProjector(scale float64, K, R emath.Mat3) (projector, error) {
	kinv, ok := K.Inverse()
	if !ok {
		return projector{}, pano.Invariantf("camera matrix is singular:\n%s", K)
	}
	return projector{
		scale: scale,
		rKinv: R.Mult(kinv),
		kRinv: K.Mult(R.Transpose()),
	}, nil
}

// forward maps a source pixel to canvas coords.
func (p projector)forward(x, y float64) (float64, float64) {
	d := p.rKinv.Apply(emath.Vec3{x, y, 1})
	u := p.scale * math.Atan2(d[0], d[2])
	w := d[1] / d.Norm()
	if math.IsNaN(w) {
		w = 0
	}
	v := p.scale * (math.Pi - math.Acos(emath.Clamp(w, -1, 1)))
	return u, v
}

// backward maps canvas coords to a source pixel; ok is false for
// points behind the camera.
func (p projector)backward(u, v float64) (float64, float64, bool) {
	u /= p.scale
	v /= p.scale

	sinv := math.Sin(math.Pi - v)
	d := emath.Vec3{
		sinv * math.Sin(u),
		math.Cos(math.Pi - v),
		sinv * math.Cos(u),
	}
	c := p.kRinv.Apply(d)
	if c[2] <= 0 {
		return -1, -1, false
	}
	return c[0] / c[2], c[1] / c[2], true
}

// roi finds the canvas area covered by a w x h image, by mapping its
// border forward. Azimuths are unwrapped around the image centre's, so
// an image straddling the +-pi line gets one contiguous rectangle. If a
// pole is visible, the image covers every azimuth above (or below) it.
func (p projector)roi(w, h int) image.Rectangle {
	uc, _ := p.forward(float64(w)/2, float64(h)/2)
	half := math.Pi * p.scale

	minU, minV := math.MaxFloat64, math.MaxFloat64
	maxU, maxV := -math.MaxFloat64, -math.MaxFloat64
	grow := func(x, y float64) {
		u, v := p.forward(x, y)
		for u-uc > half  { u -= 2*half }
		for uc-u > half  { u += 2*half }
		minU, maxU = math.Min(minU, u), math.Max(maxU, u)
		minV, maxV = math.Min(minV, v), math.Max(maxV, v)
	}
	for x := 0; x < w; x++ {
		grow(float64(x), 0)
		grow(float64(x), float64(h-1))
	}
	for y := 0; y < h; y++ {
		grow(0, float64(y))
		grow(float64(w-1), float64(y))
	}

	for _, pole := range []emath.Vec3{{0, -1, 0}, {0, 1, 0}} {
		c := p.kRinv.Apply(pole)
		if c[2] <= 0 {
			continue
		}
		x, y := c[0]/c[2], c[1]/c[2]
		if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
			continue
		}
		minU, maxU = uc-half, uc+half
		if pole[1] < 0 {
			minV = 0
		} else {
			maxV = 2*half
		}
	}

	return image.Rect(
		int(math.Floor(minU)), int(math.Floor(minV)),
		int(math.Ceil(maxU))+1, int(math.Ceil(maxV))+1,
	)
}

// Warp reprojects src, returning the warped image and its radial
// confidence mask placed at their canvas corner.
func (s Spherical)Warp(src image.Image, K, R emath.Mat3) (*pano.StitchingResult, error) {
	if s.Scale <= 0 {
		return nil, pano.Invariantf("spherical warp scale %f", s.Scale)
	}
	p, err := newProjector(s.Scale, K, R)
	if err != nil {
		return nil, err
	}

	rgba := pano.ToRGBA(src)
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	if w < 2 || h < 2 {
		return nil, pano.Invariantf("image %dx%d too small to warp", w, h)
	}
	weight := RadialMask(w, h)

	roi := p.roi(w, h)
	dst := image.NewRGBA(image.Rectangle{Max: roi.Size()})
	mask := image.NewGray(image.Rectangle{Max: roi.Size()})

	for y := 0; y < roi.Dy(); y++ {
		for x := 0; x < roi.Dx(); x++ {
			sx, sy, ok := p.backward(float64(roi.Min.X+x), float64(roi.Min.Y+y))
			if !ok || sx < 0 || sy < 0 || sx > float64(w-1) || sy > float64(h-1) {
				continue
			}
			i := dst.PixOffset(x, y)
			sampleBilinear(rgba, sx, sy, dst.Pix[i:i+4])
			mask.Pix[mask.PixOffset(x, y)] = weight.GrayAt(int(math.Round(sx)), int(math.Round(sy))).Y
		}
	}

	return &pano.StitchingResult{
		Image:  dst,
		Mask:   mask,
		Corner: roi.Min,
		Cores:  []image.Rectangle{roi},
	}, nil
}

// sampleBilinear writes the interpolated RGBA at (x,y) into out.
func sampleBilinear(src *image.RGBA, x, y float64, out []uint8) {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 >= src.Rect.Dx() { x1 = x0 }
	if y1 >= src.Rect.Dy() { y1 = y0 }
	fx, fy := x-float64(x0), y-float64(y0)

	i00 := src.PixOffset(x0, y0)
	i10 := src.PixOffset(x1, y0)
	i01 := src.PixOffset(x0, y1)
	i11 := src.PixOffset(x1, y1)
	for c := 0; c < 4; c++ {
		top := float64(src.Pix[i00+c])*(1-fx) + float64(src.Pix[i10+c])*fx
		bot := float64(src.Pix[i01+c])*(1-fx) + float64(src.Pix[i11+c])*fx
		out[c] = emath.ClampUint8(top*(1-fy) + bot*fy)
	}
}
