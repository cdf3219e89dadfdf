// Package fattal02 is a gradient domain tonemapper, after Fattal et al.
// 2002, "Gradient Domain High Dynamic Range Compression". Large
// luminance gradients are attenuated, and the luminance is rebuilt
// from the attenuated gradients by solving a Poisson equation.
//
// It implements mdouchement/hdr/tmo's ToneMappingOperator, so it can
// sit alongside the operators that package provides.
package fattal02

import(
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"sort"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/hdrcolor"

	"github.com/abworrall/ringstitch/pkg/emath"
)

type Fattal02 struct {
	DetailLevel int      // Pyramid levels below this are not attenuated
	Noise       float64
	Alpha       float64  // Gradients above Alpha*average are compressed ...
	Beta        float64  // ... by this power
	Gamma       float64  // Applied to the rebuilt log luminance
	BlackPoint  float64  // Percent of darkest pixels clipped
	WhitePoint  float64  // Percent of brightest pixels clipped
	Saturation  float64

	GammaExpand bool     // Apply the sRGB transfer curve to the output
	DumpDir     string   // If set, intermediate grids are written here

	Input       hdr.Image
}

// NewDefaultFattal02 uses the PFSTMO defaults for the FFT solver.
func NewDefaultFattal02(img hdr.Image) *Fattal02 {
	return &Fattal02{
		DetailLevel: 3,
		Noise:       0.002,
		Alpha:       1.0,
		Beta:        0.9,
		Gamma:       0.8,
		BlackPoint:  0.1,
		WhitePoint:  0.5,
		Saturation:  0.8,
		GammaExpand: true,
		Input:       img,
	}
}

func (f *Fattal02)dump(g emath.FloatGrid, name string) {
	if f.DumpDir != "" {
		g.ToImg(name, filepath.Join(f.DumpDir, name+".png"))
	}
}

// Perform runs the operator. Inputs smaller than 2x2 come back black.
func (f *Fattal02)Perform() image.Image {
	b := f.Input.Bounds()
	out := image.NewRGBA64(b)
	if b.Dx() < 2 || b.Dy() < 2 {
		return out
	}

	lum, logLum := f.logLuminance()
	pyramid := gaussianPyramid(logLum)
	phi := f.attenuation(pyramid)
	divG := divergence(logLum, phi)
	f.dump(divG, "fattal02-divergence")

	U := SolvePoisson(divG, false)
	f.dump(U, "fattal02-solved")

	L := f.exponentiate(U)
	f.dump(L, "fattal02-luminance")

	// C_out = (C_in / L_in)^s * L_out
	const eps = 1e-4
	for y:=0; y<b.Dy(); y++ {
		for x:=0; x<b.Dx(); x++ {
			r, g, bl, _ := f.Input.HDRAt(b.Min.X+x, b.Min.Y+y).HDRRGBA()
			before := math.Max(lum.Get(x, y), eps)
			after := math.Max(L.Get(x, y), eps)

			c := emath.Vec3{
				math.Pow(math.Max(r/before, 0), f.Saturation) * after,
				math.Pow(math.Max(g/before, 0), f.Saturation) * after,
				math.Pow(math.Max(bl/before, 0), f.Saturation) * after,
			}
			if f.GammaExpand {
				for i := range c {
					c[i] = emath.GammaExpand_F64(c[i])
				}
			}
			c.FloorAt(0)
			c.CeilingAt(1)

			out.SetRGBA64(b.Min.X+x, b.Min.Y+y, color.RGBA64{
				R: uint16(c[0] * 0xffff),
				G: uint16(c[1] * 0xffff),
				B: uint16(c[2] * 0xffff),
				A: 0xffff,
			})
		}
	}
	return out
}

// logLuminance returns the luminance of the input, and its log after
// rescaling into [0,100].
func (f *Fattal02)logLuminance() (emath.FloatGrid, emath.FloatGrid) {
	b := f.Input.Bounds()
	lum := emath.NewFloatGrid(b.Dx(), b.Dy())
	min, max := math.Inf(1), math.Inf(-1)

	for y:=0; y<b.Dy(); y++ {
		for x:=0; x<b.Dx(); x++ {
			xyz := hdrcolor.XYZModel.Convert(f.Input.HDRAt(b.Min.X+x, b.Min.Y+y))
			_, Y, _, _ := xyz.(hdrcolor.Color).HDRXYZA()
			lum.Set(x, y, Y)
			min = math.Min(min, Y)
			max = math.Max(max, Y)
		}
	}
	if max <= min {
		max = min + 1
	}

	H := lum.NewFromThis()
	for y:=0; y<b.Dy(); y++ {
		for x:=0; x<b.Dx(); x++ {
			H.Set(x, y, math.Log(100*(lum.Get(x, y)-min)/(max-min) + 1e-4))
		}
	}
	f.dump(H, "fattal02-logluminance")
	return lum, H
}

// gaussianPyramid halves the grid until the next level would be
// smaller than 8 pixels on a side; there is always at least one level.
func gaussianPyramid(H emath.FloatGrid) []emath.FloatGrid {
	pyr := []emath.FloatGrid{H}
	for minDim := min(H.Dx(), H.Dy()) / 2; minDim >= 8; minDim /= 2 {
		pyr = append(pyr, pyr[len(pyr)-1].PyrDown())
	}
	return pyr
}

// gradientMagnitude at pyramid level k, in level-0 units, plus its mean.
func gradientMagnitude(H emath.FloatGrid, k int) (emath.FloatGrid, float64) {
	gx, gy := H.Gradients()
	mag := H.NewFromThis()
	scale := math.Pow(2, float64(k))
	sum := 0.0
	for y:=0; y<H.Dy(); y++ {
		for x:=0; x<H.Dx(); x++ {
			v := math.Hypot(gx.Get(x, y), gy.Get(x, y)) / scale
			mag.Set(x, y, v)
			sum += v
		}
	}
	return mag, sum / float64(H.Dx()*H.Dy())
}

// attenuation builds the gradient scale factor PHI, from the coarsest
// level down.
func (f *Fattal02)attenuation(pyramid []emath.FloatGrid) emath.FloatGrid {
	n := len(pyramid)
	phi := pyramid[n-1].NewFromThis()
	for i := 0; i < phi.Dx(); i++ {
		for j := 0; j < phi.Dy(); j++ {
			phi.Set(i, j, 1)
		}
	}

	for k:=n-1; k>=0; k-- {
		if k >= f.DetailLevel || k == n-1 {
			grad, avg := gradientMagnitude(pyramid[k], k)
			a := f.Alpha * avg
			for y:=0; y<grad.Dy(); y++ {
				for x:=0; x<grad.Dx(); x++ {
					g := grad.Get(x, y)
					if g > 1e-4 && a > 0 {
						phi.Set(x, y, phi.Get(x, y) * a/(g+f.Noise) * math.Pow((g+f.Noise)/a, f.Beta))
					}
				}
			}
		}
		f.dump(phi, fmt.Sprintf("fattal02-phi%02d", k))

		if k > 0 {
			phi = phi.PyrUp(pyramid[k-1].Dx(), pyramid[k-1].Dy())
		}
	}
	return phi
}

// divergence of the attenuated gradient field. The solver assumes
// H(N) = H(N-2) past the far edges, and the near edges are assembled
// to match.
func divergence(H, phi emath.FloatGrid) emath.FloatGrid {
	width, height := H.Dx(), H.Dy()
	Gx := H.NewFromThis()
	Gy := H.NewFromThis()

	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			xp1, yp1 := x+1, y+1
			if xp1 >= width  { xp1 = width-2 }
			if yp1 >= height { yp1 = height-2 }

			Gx.Set(x, y, (H.Get(xp1, y) - H.Get(x, y)) * 0.5*(phi.Get(xp1, y) + phi.Get(x, y)))
			Gy.Set(x, y, (H.Get(x, yp1) - H.Get(x, y)) * 0.5*(phi.Get(x, yp1) + phi.Get(x, y)))
		}
	}

	div := H.NewFromThis()
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			v := Gx.Get(x, y) + Gy.Get(x, y)
			if x > 0 { v -= Gx.Get(x-1, y) } else { v += Gx.Get(x, y) }
			if y > 0 { v -= Gy.Get(x, y-1) } else { v += Gy.Get(x, y) }
			div.Set(x, y, v)
		}
	}
	return div
}

// exponentiate leaves log space, and stretches the result to [0,1]
// after clipping the black and white percentiles.
func (f *Fattal02)exponentiate(U emath.FloatGrid) emath.FloatGrid {
	L := U.NewFromThis()
	vals := make([]float64, 0, U.Dx()*U.Dy())
	for y:=0; y<U.Dy(); y++ {
		for x:=0; x<U.Dx(); x++ {
			v := math.Exp(f.Gamma*U.Get(x, y)) - 1e-4
			L.Set(x, y, v)
			vals = append(vals, v)
		}
	}

	lo, hi := percentiles(vals, 0.01*f.BlackPoint, 1-0.01*f.WhitePoint)
	if hi <= lo {
		hi = lo + 1
	}
	for y:=0; y<L.Dy(); y++ {
		for x:=0; x<L.Dx(); x++ {
			v := (L.Get(x, y) - lo) / (hi - lo)
			if v <= 0 {
				v = 1e-4
			}
			L.Set(x, y, v)
		}
	}
	return L
}

func percentiles(vals []float64, lo, hi float64) (float64, float64) {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	at := func(p float64) float64 {
		i := int(p * float64(len(sorted)-1))
		return sorted[i]
	}
	return at(lo), at(hi)
}
