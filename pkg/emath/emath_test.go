package emath

import(
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMat3Inverse(t *testing.T) {
	k := Mat3{
		800, 0, 320,
		0, 800, 240,
		0, 0, 1,
	}
	inv, ok := k.Inverse()
	require.True(t, ok)

	id := k.Mult(inv)
	for i, v := range Identity() {
		assert.InDelta(t, v, id[i], 1e-9)
	}

	_, ok = Mat3{}.Inverse()
	assert.False(t, ok)
}

func TestRotationTransposeIsInverse(t *testing.T) {
	r := RotateY(0.3).Mult(RotateX(-0.2))
	id := r.Transpose().Mult(r)
	for i, v := range Identity() {
		assert.InDelta(t, v, id[i], 1e-12)
	}
	assert.InDelta(t, 1.0, r.Det(), 1e-12)
}

func TestRotateY(t *testing.T) {
	f := RotateY(math.Pi/2).Apply(Vec3{0, 0, 1})
	assert.InDelta(t, 1.0, f[0], 1e-12)
	assert.InDelta(t, 0.0, f[2], 1e-12)
}

func TestMat3From4x4(t *testing.T) {
	m := Mat3From4x4([16]float64{
		1, 2, 3, 9,
		4, 5, 6, 9,
		7, 8, 0, 9,
		9, 9, 9, 1,
	})
	assert.Equal(t, Mat3{1, 2, 3, 4, 5, 6, 7, 8, 0}, m)
	assert.Equal(t, Vec3{2, 5, 8}, m.Col(1))
}

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	assert.Equal(t, Vec3{0, 0, 1}, x.Cross(y))
	assert.Equal(t, Vec3{}, Vec3{}.Normalize())
	assert.InDelta(t, 1.0, Vec3{3, 4, 12}.Normalize().Norm(), 1e-12)
}

func TestPyramidReconstructs(t *testing.T) {
	g := NewFloatGrid(16, 8)
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			g.Set(x, y, float64((x*7+y*3)%11))
		}
	}

	down := g.PyrDown()
	require.Equal(t, 8, down.Dx())
	require.Equal(t, 4, down.Dy())

	up := down.PyrUp(g.Dx(), g.Dy())
	lap := g.Sub(&up)
	lap.AddGrid(&up)
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			assert.InDelta(t, g.Get(x, y), lap.Get(x, y), 1e-9)
		}
	}
}

func TestGaussianBlurPreservesConstant(t *testing.T) {
	g := NewFloatGrid(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			g.Set(x, y, 3.5)
		}
	}
	b := g.GaussianBlur()
	s, _ := b.Sum()
	assert.InDelta(t, 3.5*25, s, 1e-9)
}

func TestGradients(t *testing.T) {
	g := NewFloatGrid(4, 3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			g.Set(x, y, float64(2*x+5*y))
		}
	}
	gx, gy := g.Gradients()
	assert.InDelta(t, 2.0, gx.Get(0, 1), 1e-12)
	assert.InDelta(t, 2.0, gx.Get(2, 1), 1e-12)
	assert.InDelta(t, 5.0, gy.Get(1, 0), 1e-12)
	assert.InDelta(t, 5.0, gy.Get(1, 1), 1e-12)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
	assert.Equal(t, uint8(255), ClampUint8(300))
	assert.Equal(t, uint8(0), ClampUint8(-3))
}

func TestBilinear(t *testing.T) {
	g := NewFloatGrid(3, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			g.Set(x, y, float64(10*x + y))
		}
	}
	v, ok := g.Bilinear(1.5, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 15.5, v, 1e-12)

	v, ok = g.Bilinear(2, 1)
	require.True(t, ok)
	assert.InDelta(t, 21, v, 1e-12)

	_, ok = g.Bilinear(2.01, 0)
	assert.False(t, ok)
	_, ok = g.Bilinear(-0.1, 0)
	assert.False(t, ok)
}
