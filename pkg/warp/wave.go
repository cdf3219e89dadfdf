package warp

import(
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/ringstitch/pkg/emath"
)

// WaveCorrectHorizontal removes the slow tilt that accumulates around a
// ring, which otherwise shows up as the horizon waving up and down
// across the panorama. The camera X axes of a level ring all lie in one
// plane; the normal of the best fit plane (the eigenvector of their
// moment matrix with the smallest eigenvalue) becomes the new vertical.
//
// The heading is anchored on the first image, which keeps looking
// along +Z, and which also decides which way is up. Rings of fewer
// than two images, or whose first image looks straight along the fitted
// axis, come back unchanged.
func WaveCorrectHorizontal(rs []emath.Mat3) []emath.Mat3 {
	out := append([]emath.Mat3(nil), rs...)
	if len(rs) < 2 {
		return out
	}

	moment := mat.NewSymDense(3, nil)
	for _, r := range rs {
		col := r.Col(0)
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				moment.SetSym(i, j, moment.At(i, j) + col[i]*col[j])
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(moment, true) {
		return out
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Values are ascending, so column 0 belongs to the smallest
	rg1 := emath.Vec3{vecs.At(0, 0), vecs.At(1, 0), vecs.At(2, 0)}.Normalize()

	rg0 := rg1.Cross(rs[0].Col(2))
	if rg0.Norm() < 1e-9 {
		return out
	}
	rg0 = rg0.Normalize()

	if rg0.Dot(rs[0].Col(0)) < 0 {
		rg0 = rg0.Scale(-1)
		rg1 = rg1.Scale(-1)
	}
	rg2 := rg0.Cross(rg1)

	fix := emath.Mat3{
		rg0[0], rg0[1], rg0[2],
		rg1[0], rg1[1], rg1[2],
		rg2[0], rg2[1], rg2[2],
	}
	for i := range out {
		out[i] = fix.Mult(out[i])
	}
	return out
}

// StraightenRing re-expresses a ring's rotations relative to its first
// image, wave corrects them, then turns the result back to the first
// image's original heading, so rings straightened separately still line
// up with each other in azimuth.
func StraightenRing(rs []emath.Mat3) []emath.Mat3 {
	if len(rs) == 0 {
		return nil
	}
	base := rs[0].Transpose()
	rel := make([]emath.Mat3, len(rs))
	for i, r := range rs {
		rel[i] = base.Mult(r)
	}

	fwd := rs[0].Col(2)
	heading := emath.RotateY(math.Atan2(fwd[0], fwd[2]))

	out := WaveCorrectHorizontal(rel)
	for i := range out {
		out[i] = heading.Mult(out[i])
	}
	return out
}

// MedianFocal is the usual choice of warp scale: the median of the
// focal lengths, in pixels.
func MedianFocal(focals []float64) float64 {
	return emath.Median(focals)
}
