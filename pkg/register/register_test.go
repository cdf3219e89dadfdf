package register

import(
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/pano"
)

// band renders a w x h window onto a textured canvas, placed with its
// top-left at `at`, and records `seed` as its (inexact) corner.
func band(w, h int, at, seed image.Point) *pano.StitchingResult {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			X, Y := float64(at.X+x), float64(at.Y+y)
			v := 128 + 50*math.Sin(Y/12) + 40*math.Cos(X/9)
			c := emath.ClampUint8(v)
			img.SetRGBA(x, y, color.RGBA{c, c, c, 255})
		}
	}
	return &pano.StitchingResult{
		Image:  img,
		Mask:   pano.NewFullMask(image.Pt(w, h)),
		Corner: seed,
	}
}

func flat(w, h int, seed image.Point) *pano.StitchingResult {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 90
	}
	return &pano.StitchingResult{Image: img, Mask: pano.NewFullMask(image.Pt(w, h)), Corner: seed}
}

func TestECCRecoversVerticalShift(t *testing.T) {
	ref := band(120, 80, image.Pt(0, 0), image.Point{})
	mov := band(120, 80, image.Pt(0, 30), image.Point{})

	res := DefaultECC().Register(ref, mov, r2.Point{X: 0, Y: 27})
	require.True(t, res.Converged, res.Reason)
	assert.InDelta(t, 30, res.Offset.Y, 0.5)
	assert.Equal(t, 0.0, res.Offset.X)
	assert.Greater(t, res.Correlation, 0.9)
	assert.LessOrEqual(t, res.Iterations, DefaultECC().Iterations)
}

func TestECCRecoversTranslation(t *testing.T) {
	ref := band(120, 80, image.Pt(0, 0), image.Point{})
	mov := band(120, 80, image.Pt(4, 30), image.Point{})

	ecc := ECC{Iterations: 100, Epsilon: 1e-6, Motion: MotionTranslation}
	res := ecc.Register(ref, mov, r2.Point{X: 2, Y: 28})
	require.True(t, res.Converged, res.Reason)
	assert.InDelta(t, 4, res.Offset.X, 0.5)
	assert.InDelta(t, 30, res.Offset.Y, 0.5)
}

// Near the optimum the correlation barely moves between steps, but the
// offset still has pixels to go; registration must keep going.
func TestECCConvergesOnOffsetNotCorrelation(t *testing.T) {
	rings := stack(t)
	for _, seed := range []float64{-75, -74, -73} {
		res := DefaultECC().Register(rings[1], rings[2], r2.Point{Y: seed})
		require.True(t, res.Converged, res.Reason)
		assert.InDelta(t, -70, res.Offset.Y, 0.5, "seed %.0f: %s", seed, res)
	}
}

func TestECCFailsWithoutTexture(t *testing.T) {
	init := r2.Point{X: 1, Y: 20}
	res := DefaultECC().Register(flat(50, 40, image.Point{}), flat(50, 40, image.Point{}), init)
	assert.False(t, res.Converged)
	assert.Equal(t, init, res.Offset)
	assert.NotEmpty(t, res.Reason)
}

func TestECCFailsWithoutOverlap(t *testing.T) {
	ref := band(40, 40, image.Pt(0, 0), image.Point{})
	res := DefaultECC().Register(ref, ref, r2.Point{X: 0, Y: 500})
	assert.False(t, res.Converged)
	assert.Equal(t, 500.0, res.Offset.Y)
}

func TestImgDiff(t *testing.T) {
	ref := band(60, 40, image.Pt(0, 0), image.Point{})
	mov := band(60, 40, image.Pt(0, 10), image.Point{})

	exact, _ := ImgDiff(ref, mov, r2.Point{Y: 10})
	off, _ := ImgDiff(ref, mov, r2.Point{Y: 13})
	assert.InDelta(t, 0, exact, 1e-9)
	assert.Greater(t, off, exact)

	none, _ := ImgDiff(ref, mov, r2.Point{Y: 100})
	assert.True(t, math.IsInf(none, 1))
}

// Three rings at 0, -50 and -120, with geometric seeds a few pixels out.
func stack(t *testing.T) []*pano.StitchingResult {
	t.Helper()
	return []*pano.StitchingResult{
		band(120, 100, image.Pt(0, 0), image.Pt(0, 0)),
		band(120, 100, image.Pt(0, -50), image.Pt(0, -48)),
		band(120, 100, image.Pt(0, -120), image.Pt(0, -122)),
	}
}

func TestCornersStackMonotonically(t *testing.T) {
	reg := Registrar{ECC: DefaultECC(), Logger: zaptest.NewLogger(t).Sugar()}
	corners, err := reg.Corners(stack(t))
	require.NoError(t, err)
	require.Len(t, corners, 3)

	assert.Equal(t, image.Pt(0, 0), corners[0])
	for i, want := range []int{0, -50, -120} {
		assert.InDelta(t, want, corners[i].Y, 2, "ring %d", i)
		assert.Equal(t, 0, corners[i].X)
	}
}

func TestCornersDownscaled(t *testing.T) {
	reg := Registrar{ECC: DefaultECC(), Scale: 0.5}
	corners, err := reg.Corners(stack(t))
	require.NoError(t, err)
	for i, want := range []int{0, -50, -120} {
		assert.InDelta(t, want, corners[i].Y, 2, "ring %d", i)
	}
}

func TestCornersKeepSeedsWhenRegistrationFails(t *testing.T) {
	rings := []*pano.StitchingResult{
		flat(80, 100, image.Pt(3, 0)),
		flat(80, 100, image.Pt(3, -47)),
		flat(80, 100, image.Pt(3, -123)),
	}
	corners, err := Corners(rings, DefaultECC())
	require.NoError(t, err)
	assert.Equal(t, []image.Point{{3, 0}, {3, -47}, {3, -123}}, corners)
}

func TestCornersEdgeCases(t *testing.T) {
	corners, err := Corners(nil, DefaultECC())
	require.NoError(t, err)
	assert.Empty(t, corners)

	corners, err = Corners([]*pano.StitchingResult{flat(4, 4, image.Pt(7, 9))}, DefaultECC())
	require.NoError(t, err)
	assert.Equal(t, []image.Point{{7, 9}}, corners)

	_, err = Corners([]*pano.StitchingResult{flat(4, 4, image.Point{}), {}}, DefaultECC())
	assert.ErrorIs(t, err, pano.ErrInvariant)
}
