// Package register refines the placement of one image against another
// by maximising the enhanced correlation coefficient (ECC) between them.
package register

import(
	"fmt"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/exposure"
	"github.com/abworrall/ringstitch/pkg/pano"
)

// Motion says which parts of the offset registration may change.
type Motion int

const(
	MotionVertical Motion = iota  // Only the Y offset is refined
	MotionTranslation             // X and Y
)

func (m Motion)String() string {
	if m == MotionTranslation {
		return "translation"
	}
	return "vertical"
}

// Fewer overlapping pixels than this, and there's nothing to register on
const minOverlapPixels = 16

// ECC is a translation-only version of Evangelidis & Psarakis, "Parametric
// Image Alignment Using Enhanced Correlation Coefficient Maximization".
// It is a Gauss-Newton style iteration that is invariant to gain and
// bias differences between the two images.
type ECC struct {
	Iterations int      // Upper bound on iterations
	Epsilon    float64  // Stop once a step moves the offset less than this many pixels
	Motion     Motion
}

func DefaultECC() ECC {
	return ECC{Iterations: 200, Epsilon: 1e-3, Motion: MotionVertical}
}

// Result of a registration. Offset is where mov's origin lands in ref's
// pixel coords. If Converged is false the iteration broke down, and
// Offset is the initial guess.
type Result struct {
	Converged   bool
	Offset      r2.Point
	Correlation float64
	Iterations  int
	Reason      string  // Why it didn't converge
}

func (r Result)String() string {
	if !r.Converged {
		return fmt.Sprintf("ECC[failed after %d: %s]", r.Iterations, r.Reason)
	}
	return fmt.Sprintf("ECC[(%.2f,%.2f), rho=%.4f, %d its]", r.Offset.X, r.Offset.Y, r.Correlation, r.Iterations)
}

// grayGrid turns a result's pixels into a luminance grid.
func grayGrid(r *pano.StitchingResult) emath.FloatGrid {
	b := r.Image.Bounds()
	g := emath.NewFloatGrid(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.Set(x, y, exposure.Luminance(r.RGBAt(image.Pt(x, y).Add(r.Corner))))
		}
	}
	return g
}

// Register refines init, the offset of mov's origin within ref. Only
// pixels unmasked in both images take part. It never panics or errors;
// a breakdown (no texture, no overlap, a singular Hessian) comes back
// as Converged=false.
func (e ECC)Register(ref, mov *pano.StitchingResult, init r2.Point) Result {
	res := Result{Offset: init}
	fail := func(reason string) Result {
		return Result{Offset: init, Iterations: res.Iterations, Reason: reason}
	}
	if ref.Validate() != nil || mov.Validate() != nil {
		return fail("invalid input")
	}

	nParams := 1
	if e.Motion == MotionTranslation {
		nParams = 2
	}
	iterations := e.Iterations
	if iterations < 1 {
		iterations = 1
	}

	tmpl := grayGrid(ref)
	input := grayGrid(mov)
	gx, gy := input.Gradients()

	off := init

	for it := 1; it <= iterations; it++ {
		res.Iterations = it

		// Accumulate everything the update needs in one pass. i(x) is mov
		// sampled at x-off, so its jacobian wrt off is minus mov's gradient.
		n := 0
		var sumT, sumI, sumTT, sumII, sumTI float64
		jt := make([]float64, nParams)      // sum J*t
		ji := make([]float64, nParams)      // sum J*i
		js := make([]float64, nParams)      // sum J
		hess := mat.NewSymDense(nParams, nil)

		roi := ref.Image.Bounds().Intersect(mov.Image.Bounds().Add(image.Pt(int(math.Floor(off.X)), int(math.Floor(off.Y)))).Inset(-1))
		for y := roi.Min.Y; y < roi.Max.Y; y++ {
			for x := roi.Min.X; x < roi.Max.X; x++ {
				if ref.Mask.GrayAt(x, y).Y == 0 {
					continue
				}
				mx, my := float64(x)-off.X, float64(y)-off.Y
				if mov.Mask.GrayAt(int(math.Round(mx)), int(math.Round(my))).Y == 0 {
					continue
				}
				iv, ok := input.Bilinear(mx, my)
				if !ok {
					continue
				}
				dx, _ := gx.Bilinear(mx, my)
				dy, _ := gy.Bilinear(mx, my)

				var jac [2]float64
				if nParams == 1 {
					jac[0] = -dy
				} else {
					jac[0], jac[1] = -dx, -dy
				}

				tv := tmpl.Get(x, y)
				n++
				sumT += tv
				sumI += iv
				sumTT += tv*tv
				sumII += iv*iv
				sumTI += tv*iv
				for a := 0; a < nParams; a++ {
					jt[a] += jac[a] * tv
					ji[a] += jac[a] * iv
					js[a] += jac[a]
					for b := a; b < nParams; b++ {
						hess.SetSym(a, b, hess.At(a, b) + jac[a]*jac[b])
					}
				}
			}
		}

		if n < minOverlapPixels {
			return fail(fmt.Sprintf("only %d overlapping pixels", n))
		}

		fn := float64(n)
		meanT, meanI := sumT/fn, sumI/fn
		tNorm2 := sumTT - fn*meanT*meanT
		iNorm2 := sumII - fn*meanI*meanI
		if tNorm2 < 1e-9 || iNorm2 < 1e-9 {
			return fail("no texture in overlap")
		}
		corr := sumTI - fn*meanT*meanI
		rho := corr / math.Sqrt(tNorm2*iNorm2)

		// Project the zero-meaned images onto the jacobian
		tProj := mat.NewVecDense(nParams, nil)
		iProj := mat.NewVecDense(nParams, nil)
		for a := 0; a < nParams; a++ {
			tProj.SetVec(a, jt[a] - meanT*js[a])
			iProj.SetVec(a, ji[a] - meanI*js[a])
		}

		var hinv mat.Dense
		if err := hinv.Inverse(hess); err != nil {
			return fail(fmt.Sprintf("hessian: %v", err))
		}
		var iProjH mat.VecDense
		iProjH.MulVec(&hinv, iProj)

		lambdaN := iNorm2 - mat.Dot(iProj, &iProjH)
		lambdaD := corr - mat.Dot(tProj, &iProjH)
		if lambdaD <= 0 {
			return fail("correlation not improvable (lambda_d <= 0)")
		}
		lambda := lambdaN / lambdaD

		// J'(lambda*t - i), then the step
		errProj := mat.NewVecDense(nParams, nil)
		errProj.AddScaledVec(errProj, lambda, tProj)
		errProj.SubVec(errProj, iProj)
		var delta mat.VecDense
		delta.MulVec(&hinv, errProj)

		step := r2.Point{Y: delta.AtVec(0)}
		if nParams == 2 {
			step = r2.Point{X: delta.AtVec(0), Y: delta.AtVec(1)}
		}
		off = off.Add(step)
		if math.IsNaN(off.X) || math.IsNaN(off.Y) || math.IsInf(off.X, 0) || math.IsInf(off.Y, 0) {
			return fail("offset diverged")
		}

		// The correlation is flat near the optimum, so it says little about
		// how far off we still are; the step size does.
		res.Correlation = rho
		if step.Norm() < e.Epsilon {
			break
		}
	}

	res.Converged = true
	res.Offset = off
	return res
}
