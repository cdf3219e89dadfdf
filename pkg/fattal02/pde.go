package fattal02

// Solves the Poisson equation laplace(U) = F on a grid, with Neumann
// boundaries, in the eigenvector space of the discrete Laplacian. The
// eigenvectors are cosines, so moving in and out of that space is a
// 2D type-I DCT (which gonum implements as fourier.DCT).

import(
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/abworrall/ringstitch/pkg/emath"
)

// dct2 applies the unnormalized type-I DCT along both axes.
func dct2(g emath.FloatGrid) emath.FloatGrid {
	width, height := g.Dx(), g.Dy()
	out := g.NewFromThis()

	row := fourier.NewDCT(width)
	src, dst := make([]float64, width), make([]float64, width)
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			src[x] = g.Get(x, y)
		}
		row.Transform(dst, src)
		for x:=0; x<width; x++ {
			out.Set(x, y, dst[x])
		}
	}

	col := fourier.NewDCT(height)
	src, dst = make([]float64, height), make([]float64, height)
	for x:=0; x<width; x++ {
		for y:=0; y<height; y++ {
			src[y] = out.Get(x, y)
		}
		col.Transform(dst, src)
		for y:=0; y<height; y++ {
			out.Set(x, y, dst[y])
		}
	}

	return out
}

// scaleEdges multiplies the interior by `inner`, and the non-corner
// edges by `edge`. Corners are untouched.
func scaleEdges(g *emath.FloatGrid, inner, edge float64) {
	width, height := g.Dx(), g.Dy()
	for y:=1; y<height-1; y++ {
		for x:=1; x<width-1; x++ {
			g.Set(x, y, g.Get(x, y)*inner)
		}
	}
	for x:=1; x<width-1; x++ {
		g.Set(x, 0,        g.Get(x, 0)*edge)
		g.Set(x, height-1, g.Get(x, height-1)*edge)
	}
	for y:=1; y<height-1; y++ {
		g.Set(0, y,       g.Get(0, y)*edge)
		g.Set(width-1, y, g.Get(width-1, y)*edge)
	}
}

// toEigenSpace returns EVy^-1 * A * (EVx^-1)^tr
func toEigenSpace(A emath.FloatGrid) emath.FloatGrid {
	width, height := A.Dx(), A.Dy()
	T := dct2(A)

	norm := 1.0 / float64((height-1)*(width-1))
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			v := T.Get(x, y) * norm
			if y == 0 || y == height-1 { v *= 0.5 }
			if x == 0 || x == width-1  { v *= 0.5 }
			T.Set(x, y, v)
		}
	}
	return T
}

// fromEigenSpace returns EVy * A * EVx^tr. A is modified.
func fromEigenSpace(A emath.FloatGrid) emath.FloatGrid {
	scaleEdges(&A, 0.25, 0.5)
	return dct2(A)
}

// laplaceEigenvalues of the 1D Laplacian with reflecting ends
func laplaceEigenvalues(n int) []float64 {
	v := make([]float64, n)
	for i:=0; i<n; i++ {
		s := math.Sin(float64(i) / float64(2*(n-1)) * math.Pi)
		v[i] = -4.0 * s * s
	}
	return v
}

// makeCompatible shifts the boundary of F so that the Neumann problem
// has a solution.
func makeCompatible(F *emath.FloatGrid) {
	width, height := F.Dx(), F.Dy()

	sum := 0.0
	for y:=1; y<height-1; y++ {
		for x:=1; x<width-1; x++ {
			sum += F.Get(x, y)
		}
	}
	for x:=1; x<width-1; x++ {
		sum += 0.5 * (F.Get(x, 0) + F.Get(x, height-1))
	}
	for y:=1; y<height-1; y++ {
		sum += 0.5 * (F.Get(0, y) + F.Get(width-1, y))
	}
	sum += 0.25 * (F.Get(0, 0) + F.Get(0, height-1) + F.Get(width-1, 0) + F.Get(width-1, height-1))

	add := -sum / float64(height+width-3)
	for x:=0; x<width; x++ {
		F.Add(x, 0, add)
		F.Add(x, height-1, add)
	}
	for y:=1; y<height-1; y++ {
		F.Add(0, y, add)
		F.Add(width-1, y, add)
	}
}

// SolvePoisson solves laplace(U) = F, where the Laplacian reflects at
// the edges (U(-1) = U(1)). With adjustBound the boundary of F is
// modified first so an exact solution exists; otherwise the least
// squares solution is found. U is shifted so its largest value is 0.
// Both dimensions of F must be at least 2.
func SolvePoisson(F emath.FloatGrid, adjustBound bool) emath.FloatGrid {
	width, height := F.Dx(), F.Dy()
	if adjustBound {
		F = *F.Copy()
		makeCompatible(&F)
	}

	Ftr := toEigenSpace(F)
	Utr := Ftr.NewFromThis()
	ly := laplaceEigenvalues(height)
	lx := laplaceEigenvalues(width)
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			if x == 0 && y == 0 {
				continue  // the free constant
			}
			Utr.Set(x, y, Ftr.Get(x, y) / (ly[y] + lx[x]))
		}
	}

	U := fromEigenSpace(Utr)

	max := math.Inf(-1)
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			max = math.Max(max, U.Get(x, y))
		}
	}
	for y:=0; y<height; y++ {
		for x:=0; x<width; x++ {
			U.Add(x, y, -max)
		}
	}
	return U
}
