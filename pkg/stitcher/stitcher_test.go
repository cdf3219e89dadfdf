package stitcher

import(
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abworrall/ringstitch/pkg/checkpoint"
	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/pano"
)

const(
	testW = 64
	testH = 48
	testF = 30.0
)

// worldColor is the scene every test camera looks at, so overlapping
// images agree wherever they see the same ray.
func worldColor(d emath.Vec3) color.RGBA {
	az := math.Atan2(d[0], d[2])
	polar := math.Acos(emath.Clamp(d[1]/d.Norm(), -1, 1))
	v := 128 + 50*math.Sin(3*az) + 40*math.Cos(7*polar)
	return color.RGBA{emath.ClampUint8(v), emath.ClampUint8(v * 0.8), emath.ClampUint8(255 - v), 255}
}

func render(R emath.Mat3, gain float64) *image.RGBA {
	in := pano.Intrinsics{Focal: testF, PrincipalX: float64(testW-1)/2, PrincipalY: float64(testH-1)/2}
	kinv, _ := in.K().Inverse()
	rKinv := R.Mult(kinv)

	img := image.NewRGBA(image.Rect(0, 0, testW, testH))
	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			c := worldColor(rKinv.Apply(emath.Vec3{float64(x), float64(y), 1}))
			c.R = emath.ClampUint8(float64(c.R) * gain)
			c.G = emath.ClampUint8(float64(c.G) * gain)
			c.B = emath.ClampUint8(float64(c.B) * gain)
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// testCapture is two rings of five in-memory images, one level and one
// pitched.
func testCapture(gains map[int]float64) []pano.Ring {
	rings := []pano.Ring{}
	id := 0
	for _, pitch := range []float64{0, 0.5} {
		ring := pano.Ring{}
		for i := 0; i < 5; i++ {
			R := emath.RotateY(2*math.Pi*float64(i)/5).Mult(emath.RotateX(pitch))
			gain := 1.0
			if g, exists := gains[id]; exists {
				gain = g
			}
			ring = append(ring, &pano.Image{
				ID:          id,
				Orientation: R,
				Intrinsics:  pano.Intrinsics{Focal: testF, PrincipalX: float64(testW-1)/2, PrincipalY: float64(testH-1)/2},
				Pixels:      render(R, gain),
			})
			id++
		}
		rings = append(rings, ring)
	}
	return rings
}

func unitGains(rings []pano.Ring) map[int]float64 {
	m := map[int]float64{}
	for _, r := range rings {
		for _, img := range r {
			m[img.ID] = 1.0
		}
	}
	return m
}

// countingStore notes how often artifacts are saved.
type countingStore struct {
	*checkpoint.MemStore
	ringSaves      int
	optographSaves int
}

func (s *countingStore)SaveRing(id int, res *pano.StitchingResult) error {
	s.ringSaves++
	return s.MemStore.SaveRing(id, res)
}

func (s *countingStore)SaveOptograph(res *pano.StitchingResult) error {
	s.optographSaves++
	return s.MemStore.SaveOptograph(res)
}

func testConfig() Config {
	cfg := NewConfig()
	cfg.BlendBands = 3
	cfg.GainPreviewWidth = testW
	cfg.RegistrationIterations = 20
	return cfg
}

func TestConfigFromYaml(t *testing.T) {
	c, err := newConfigFromYaml([]byte("blendbands: 3\nregistrationmotion: translation\noutputwidth: 800\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, c.BlendBands)
	assert.Equal(t, 800, c.OutputWidth)
	assert.Equal(t, 4, c.GainSampleStride)  // default survives
	require.NoError(t, c.Validate())

	c2, err := newConfigFromYaml([]byte(c.AsYaml()))
	require.NoError(t, err)
	assert.Equal(t, c, c2)
}

func TestConfigValidate(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.Validate())

	bad := c
	bad.RegistrationMotion = "diagonal"
	assert.Error(t, bad.Validate())

	bad = c
	bad.GainSampleStride = 0
	assert.Error(t, bad.Validate())

	bad = c
	bad.Tonemapper = "nope"
	assert.Error(t, bad.Validate())

	c.RegistrationMotion = "translation"
	assert.Equal(t, "translation", c.ECC().Motion.String())
}

func TestLetterbox(t *testing.T) {
	r := &pano.StitchingResult{
		Image:  image.NewRGBA(image.Rect(0, 0, 100, 50)),
		Mask:   image.NewGray(image.Rect(0, 0, 100, 50)),
		Corner: image.Pt(-30, 12),
		Cores:  []image.Rectangle{image.Rect(-30, 12, 20, 62)},
	}
	for i := range r.Image.Pix {
		r.Image.Pix[i] = 200
		if i%4 == 3 {
			r.Image.Pix[i] = 255
		}
	}
	for i := range r.Mask.Pix {
		r.Mask.Pix[i] = 255
	}

	out, err := Letterbox(r, 200, 200, false)
	require.NoError(t, err)
	require.NoError(t, out.Validate())
	assert.Equal(t, image.Rect(0, 0, 200, 200), out.Rect())
	assert.Equal(t, []image.Rectangle{image.Rect(0, 50, 100, 150)}, out.Cores)

	// Bars are black, the picture sits in the middle
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, out.Image.RGBAAt(100, 10))
	assert.InDelta(t, 200, float64(out.Image.RGBAAt(100, 100).R), 2)
	assert.Equal(t, uint8(255), out.Mask.GrayAt(100, 10).Y)

	kept, err := Letterbox(r, 200, 200, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), kept.Mask.GrayAt(100, 10).Y)
	assert.Equal(t, uint8(255), kept.Mask.GrayAt(100, 100).Y)

	_, err = Letterbox(r, 0, 10, false)
	assert.ErrorIs(t, err, pano.ErrInvariant)
}

func TestEstimateGainsDimsBrightImage(t *testing.T) {
	rings := testCapture(map[int]float64{2: 1.3})
	gains, err := EstimateGains(rings[:1], testConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	assert.Less(t, gains.Gain(2), 1.0)
	for _, id := range []int{0, 1, 3, 4} {
		assert.Greater(t, gains.Gain(id), gains.Gain(2), "image %d", id)
	}
}

func TestInitializeRejectsBadInput(t *testing.T) {
	s := New(testConfig(), checkpoint.NewMemStore(), zaptest.NewLogger(t).Sugar())
	assert.ErrorIs(t, s.Initialize([]pano.Ring{{}, {}}, nil, 0), pano.ErrInvariant)

	_, err := s.Stitch(nil, false, "")
	assert.ErrorIs(t, err, pano.ErrInvariant)

	s = New(testConfig(), nil, nil)
	assert.Error(t, s.Initialize(testCapture(nil), nil, 0))
}

func TestStitchIsCached(t *testing.T) {
	store := &countingStore{MemStore: checkpoint.NewMemStore()}
	rings := testCapture(nil)

	s := New(testConfig(), store, zaptest.NewLogger(t).Sugar())
	require.NoError(t, s.Initialize(rings, unitGains(rings), 0))
	assert.InDelta(t, testF, s.Scale(), 1e-9)

	stages := []string{}
	first, err := s.Stitch(func(stage string, done, total int) bool {
		stages = append(stages, stage)
		assert.Equal(t, 5, total)
		return true
	}, false, "")
	require.NoError(t, err)
	require.NoError(t, first.Validate())
	assert.Equal(t, []string{"ring 0", "ring 1", "register", "seams", "blend"}, stages)
	assert.Equal(t, 2, store.ringSaves)
	assert.Equal(t, 1, store.optographSaves)

	// Roughly a full turn wide, and covered in the middle
	wrap := int(math.Round(2 * math.Pi * testF))
	assert.GreaterOrEqual(t, first.Rect().Dx(), wrap)
	mid := image.Pt(first.Rect().Min.X+first.Rect().Dx()/2, first.Rect().Min.Y+first.Rect().Dy()/2)
	assert.Equal(t, uint8(255), first.MaskAt(mid))

	// A second stitcher on the same store rebuilds nothing
	s2 := New(testConfig(), store, zaptest.NewLogger(t).Sugar())
	require.NoError(t, s2.Initialize(rings, unitGains(rings), 0))
	called := false
	second, err := s2.Stitch(func(string, int, int) bool { called = true; return true }, false, "")
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 2, store.ringSaves)
	assert.Equal(t, 1, store.optographSaves)
	assert.Equal(t, first.Corner, second.Corner)
	assert.Equal(t, first.Image.Pix, second.Image.Pix)
	assert.Equal(t, first.Mask.Pix, second.Mask.Pix)
}

func TestStitchCancelAndResume(t *testing.T) {
	store := &countingStore{MemStore: checkpoint.NewMemStore()}
	rings := testCapture(nil)

	s := New(testConfig(), store, zaptest.NewLogger(t).Sugar())
	require.NoError(t, s.Initialize(rings, unitGains(rings), 0))

	_, err := s.Stitch(func(stage string, done, total int) bool { return stage != "register" }, false, "")
	assert.ErrorIs(t, err, pano.ErrCancelled)
	assert.Equal(t, 2, store.ringSaves)
	assert.Equal(t, 0, store.optographSaves)

	// The rings come from the store the second time around
	res, err := s.Stitch(nil, false, "")
	require.NoError(t, err)
	require.NoError(t, res.Validate())
	assert.Equal(t, 2, store.ringSaves)
	assert.Equal(t, 1, store.optographSaves)
}

func TestStitchLetterboxed(t *testing.T) {
	rings := testCapture(nil)
	cfg := testConfig()
	cfg.OutputWidth = 300
	cfg.OutputHeight = 100

	s := New(cfg, checkpoint.NewMemStore(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, s.Initialize(rings[:1], unitGains(rings), 0))
	res, err := s.Stitch(nil, false, "")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 300, 100), res.Rect())
	assert.Equal(t, uint8(255), res.Mask.GrayAt(0, 0).Y)
	assert.Len(t, res.Cores, 5)
}
