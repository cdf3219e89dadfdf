package exposure

import(
	"image"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/pano"
)

const(
	DefaultAlpha = 0.01   // 1/sigma_N^2, sigma_N=10 intensity levels
	DefaultBeta  = 100.0  // 1/sigma_g^2, sigma_g=0.1
)

// A Compensator solves for the gain of every image in a Graph. Each
// edge contributes a similarity term (weight Alpha) that wants
// gain(i)*I_ij to equal gain(j)*I_ji, and a regularisation term (weight
// Beta) that pulls gain(i) towards 1; both are weighted by the number
// of pixels the edge was sampled from.
type Compensator struct {
	Alpha  float64
	Beta   float64
	Logger *zap.SugaredLogger
}

func NewCompensator() *Compensator {
	return &Compensator{
		Alpha: DefaultAlpha,
		Beta:  DefaultBeta,
	}
}

// Solve builds and solves the symmetric system. Images without any
// edges get a gain of 1.0, and are listed in Gains.Isolated.
func (c *Compensator)Solve(g *Graph) (Gains, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	gains := Gains{byID: map[int]float64{}}

	connected := []int{}
	for _, id := range g.IDs() {
		if len(g.Neighbours(id)) == 0 {
			gains.byID[id] = 1.0
			gains.Isolated = append(gains.Isolated, id)
			log.Warnw("Image has no overlap with any other image, using gain 1.0", "image", id)
			continue
		}
		connected = append(connected, id)
	}
	if len(connected) == 0 {
		return gains, nil
	}

	index := map[int]int{}
	for i, id := range connected {
		index[id] = i
	}

	n := len(connected)
	A := mat.NewSymDense(n, nil)
	b := mat.NewVecDense(n, nil)

	for i, id := range connected {
		for _, other := range g.Neighbours(id) {
			corr, _ := g.Correspondence(id, other)
			j := index[other]
			N := float64(corr.N)

			A.SetSym(i, i, A.At(i, i) + N*(2*c.Alpha*corr.MeanFrom*corr.MeanFrom + c.Beta))
			b.SetVec(i, b.AtVec(i) + c.Beta*N)

			// Each undirected pair is visited from both ends; only fill the
			// off-diagonal once.
			if i < j {
				A.SetSym(i, j, A.At(i, j) - 2*c.Alpha*N*corr.MeanFrom*corr.MeanTo)
			}
		}
	}

	var chol mat.Cholesky
	x := mat.NewVecDense(n, nil)
	if chol.Factorize(A) {
		if err := chol.SolveVecTo(x, b); err != nil {
			return gains, errors.Wrap(err, "gain solve")
		}
	} else {
		// Not positive definite, which means the samples were degenerate
		// (e.g. all black). Fall back to a general solve.
		log.Warnw("Gain system not positive definite, using LU", "images", n)
		if err := x.SolveVec(A, b); err != nil {
			return gains, errors.Wrap(err, "gain solve")
		}
	}

	for i, id := range connected {
		gain := x.AtVec(i)
		if math.IsNaN(gain) || math.IsInf(gain, 0) {
			return gains, pano.Invariantf("gain for image %d is %v", id, gain)
		}
		gains.byID[id] = gain
	}

	log.Infow("Solved exposure gains", "images", n, "isolated", len(gains.Isolated))
	return gains, nil
}

// Gains maps image IDs to a multiplicative exposure correction.
type Gains struct {
	byID     map[int]float64
	Isolated []int  // Images that had no overlaps when solved
}

func NewGains(m map[int]float64) Gains {
	g := Gains{byID: map[int]float64{}}
	for k, v := range m {
		g.byID[k] = v
	}
	return g
}

// Gain for an image; unknown images get 1.0 rather than a zero that
// would black them out.
func (g Gains)Gain(id int) float64 {
	if v, exists := g.byID[id]; exists {
		return v
	}
	return 1.0
}

func (g Gains)Has(id int) bool {
	_, exists := g.byID[id]
	return exists
}

func (g Gains)Map() map[int]float64 {
	m := map[int]float64{}
	for k, v := range g.byID {
		m[k] = v
	}
	return m
}

// Apply returns a copy of img with every channel multiplied by
// (gain+evBias), clamped to the valid range. Alpha is left alone.
func (g Gains)Apply(img image.Image, id int, evBias float64) *image.RGBA {
	src := pano.ToRGBA(img)
	dst := image.NewRGBA(src.Bounds())
	f := g.Gain(id) + evBias

	for i := 0; i < len(src.Pix); i += 4 {
		dst.Pix[i+0] = emath.ClampUint8(float64(src.Pix[i+0]) * f)
		dst.Pix[i+1] = emath.ClampUint8(float64(src.Pix[i+1]) * f)
		dst.Pix[i+2] = emath.ClampUint8(float64(src.Pix[i+2]) * f)
		dst.Pix[i+3] = src.Pix[i+3]
	}
	return dst
}
