package checkpoint

import(
	"image"
	"image/color"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/pano"
)

func result(w, h int, corner image.Point) *pano.StitchingResult {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x*13), uint8(y*7), uint8(x^y), 255})
			mask.SetGray(x, y, color.Gray{uint8((x+y)%3 * 100)})
		}
	}
	return &pano.StitchingResult{
		Image:  img,
		Mask:   mask,
		Corner: corner,
		Cores:  []image.Rectangle{image.Rect(-4, 2, 10, 9), image.Rect(3, 3, 20, 20)},
	}
}

func rings() []pano.Ring {
	px := image.NewRGBA(image.Rect(0, 0, 4, 3))
	return []pano.Ring{
		{
			{ID: 1, Path: "/data/a.jpg", Orientation: emath.RotateY(0.5), Intrinsics: pano.Intrinsics{Focal: 700, PrincipalX: 320, PrincipalY: 240, RefWidth: 640}},
			{ID: 2, Path: "/data/b.jpg", Orientation: emath.RotateY(1.5), Intrinsics: pano.Intrinsics{Focal: 700}},
		},
		{
			{ID: 7, Orientation: emath.RotateX(0.3), Intrinsics: pano.Intrinsics{Focal: 650}, Pixels: px},
		},
	}
}

func storeTests(t *testing.T, s Store) {
	t.Run("EmptyLoads", func(t *testing.T) {
		r, err := s.LoadRing(3)
		require.NoError(t, err)
		assert.Nil(t, r)
		o, err := s.LoadOptograph()
		require.NoError(t, err)
		assert.Nil(t, o)
	})

	t.Run("Input", func(t *testing.T) {
		gains := map[int]float64{1: 1.1, 2: 0.9, 7: 1.0}
		require.NoError(t, s.SaveStitcherInput(rings(), gains))

		got, gotGains, err := s.LoadStitcherInput()
		require.NoError(t, err)
		assert.Equal(t, gains, gotGains)
		require.Len(t, got, 2)
		assert.Equal(t, []int{1, 2}, got[0].IDs())
		assert.Equal(t, []int{7}, got[1].IDs())
		assert.Equal(t, "/data/a.jpg", got[0][0].Path)
		assert.Equal(t, emath.RotateY(0.5), got[0][0].Orientation)
		assert.Equal(t, 640.0, got[0][0].Intrinsics.RefWidth)
		assert.Equal(t, 650.0, got[1][0].Intrinsics.Focal)
	})

	t.Run("BadInput", func(t *testing.T) {
		err := s.SaveStitcherInput(rings(), map[int]float64{99: 1})
		assert.ErrorIs(t, err, pano.ErrInvariant)

		dup := rings()
		dup[1] = append(dup[1], dup[0][0])
		assert.ErrorIs(t, s.SaveStitcherInput(dup, nil), pano.ErrInvariant)
	})

	t.Run("Ring", func(t *testing.T) {
		in := result(9, 5, image.Pt(-30, 12))
		require.NoError(t, s.SaveRing(3, in))

		out, err := s.LoadRing(3)
		require.NoError(t, err)
		require.NotNil(t, out)
		assert.Equal(t, in.Image.Pix, out.Image.Pix)
		assert.Equal(t, in.Mask.Pix, out.Mask.Pix)
		assert.Equal(t, in.Corner, out.Corner)
		assert.Equal(t, in.Cores, out.Cores)

		// Loaded copies are the caller's to mutate
		out.Mask.Pix[0] = 42
		again, err := s.LoadRing(3)
		require.NoError(t, err)
		assert.Equal(t, in.Mask.Pix, again.Mask.Pix)
	})

	t.Run("Optograph", func(t *testing.T) {
		in := result(6, 6, image.Pt(0, -5))
		require.NoError(t, s.SaveOptograph(in))
		out, err := s.LoadOptograph()
		require.NoError(t, err)
		assert.Equal(t, in.Image.Pix, out.Image.Pix)
		assert.Equal(t, in.Corner, out.Corner)

		assert.Error(t, s.SaveOptograph(&pano.StitchingResult{}))
	})
}

func TestMemStore(t *testing.T) {
	storeTests(t, NewMemStore())
}

func TestDirStore(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDirStore(dir, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer s.Close()
	storeTests(t, s)

	// In-memory images were written out alongside the index
	_, err = os.Stat(filepath.Join(dir, "input-7.tif"))
	assert.NoError(t, err)
}

func TestDirStoreReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDirStore(dir, nil)
	require.NoError(t, err)
	in := result(5, 4, image.Pt(1, 2))
	require.NoError(t, s.SaveRing(0, in))
	require.NoError(t, s.Close())

	s2, err := OpenDirStore(dir, nil)
	require.NoError(t, err)
	defer s2.Close()
	out, err := s2.LoadRing(0)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Image.Pix, out.Image.Pix)
}

func TestGetOrCompute(t *testing.T) {
	s := NewMemStore()
	builds := 0
	build := func() (*pano.StitchingResult, error) {
		builds++
		return result(4, 4, image.Pt(2, 2)), nil
	}

	first, computed, err := GetOrCompute(RingCache(s, 5), build)
	require.NoError(t, err)
	assert.True(t, computed)

	second, computed, err := GetOrCompute(RingCache(s, 5), build)
	require.NoError(t, err)
	assert.False(t, computed)
	assert.Equal(t, 1, builds)
	assert.Equal(t, first.Image.Pix, second.Image.Pix)
	assert.Equal(t, first.Mask.Pix, second.Mask.Pix)

	// A different key builds afresh
	_, computed, err = GetOrCompute(OptographCache(s), build)
	require.NoError(t, err)
	assert.True(t, computed)
	assert.Equal(t, 2, builds)
	assert.Equal(t, []int{5}, s.RingIDs())
}

func TestGetOrComputeBuildError(t *testing.T) {
	s := NewMemStore()
	_, _, err := GetOrCompute(OptographCache(s), func() (*pano.StitchingResult, error) {
		return nil, pano.Invariantf("nope")
	})
	assert.ErrorIs(t, err, pano.ErrInvariant)

	o, err := s.LoadOptograph()
	require.NoError(t, err)
	assert.Nil(t, o)
}

const manifest = `
rings:
  - images:
      - path: a.png
        orientation: [1,0,0, 0,1,0, 0,0,1]
        intrinsics: {focal: 500, principal_x: 8, principal_y: 6, ref_width: 16}
      - id: 10
        path: /abs/b.png
        orientation: [0,0,1,0, 0,1,0,0, -1,0,0,0, 0,0,0,1]
        intrinsics: {focal: 500}
  - images:
      - path: sub/c.png
        orientation: [1,0,0, 0,1,0, 0,0,1]
        intrinsics: {focal: 480}
gains:
  10: 1.25
`

func TestImport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "capture.yaml"), []byte(manifest), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	s := NewMemStore()
	rs, gains, err := Import(s, zaptest.NewLogger(t).Sugar(), dir)
	require.NoError(t, err)

	require.Len(t, rs, 2)
	assert.Equal(t, []int{0, 10}, rs[0].IDs())
	assert.Equal(t, []int{2}, rs[1].IDs())
	assert.Equal(t, filepath.Join(dir, "a.png"), rs[0][0].Path)
	assert.Equal(t, "/abs/b.png", rs[0][1].Path)
	assert.Equal(t, filepath.Join(dir, "sub", "c.png"), rs[1][0].Path)
	assert.Equal(t, emath.Mat3{0, 0, 1, 0, 1, 0, -1, 0, 0}, rs[0][1].Orientation)
	assert.Equal(t, 16.0, rs[0][0].Intrinsics.RefWidth)
	assert.Equal(t, map[int]float64{10: 1.25}, gains)

	stored, _, err := s.LoadStitcherInput()
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestImportErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, ioutil.WriteFile(bad, []byte("rings:\n  - images:\n      - path: x.png\n        orientation: [1,2,3]\n        intrinsics: {focal: 1}\n"), 0644))
	_, _, err := Import(NewMemStore(), nil, bad)
	assert.ErrorIs(t, err, pano.ErrInvariant)

	// No intrinsics, and a PNG has no EXIF to fall back on
	png := filepath.Join(dir, "plain.png")
	require.NoError(t, pano.WritePNG(image.NewGray(image.Rect(0, 0, 4, 4)), png))
	noexif := filepath.Join(dir, "noexif.yml")
	require.NoError(t, ioutil.WriteFile(noexif, []byte("rings:\n  - images:\n      - path: plain.png\n        orientation: [1,0,0,0,1,0,0,0,1]\n"), 0644))
	_, _, err = Import(NewMemStore(), nil, noexif)
	assert.Error(t, err)

	_, _, err = Import(NewMemStore(), nil, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
