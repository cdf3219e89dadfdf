package register

import(
	"fmt"
	"image"
	"math"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/abworrall/ringstitch/pkg/pano"
	"github.com/abworrall/ringstitch/pkg/pipeline"
)

// A Registrar places a vertical stack of ring mosaics consistently:
// each ring's corner is refined against the ring before it, and the
// corrections accumulate from the first ring down.
type Registrar struct {
	ECC      ECC
	Scale    float64  // If in (0,1), register on copies downscaled by this much
	Logger   *zap.SugaredLogger
	DebugDir string   // If set, per-pair diff images are written here
}

// Corners registers the stack with a default Registrar.
func Corners(results []*pano.StitchingResult, ecc ECC) ([]image.Point, error) {
	return Registrar{ECC: ecc}.Corners(results)
}

// Corners returns the corrected corner of every result, in order. The
// first result is the reference and keeps its corner; X is only ever
// changed under MotionTranslation. Registration failures are not
// errors; the geometric seed is kept.
func (r Registrar)Corners(results []*pano.StitchingResult) ([]image.Point, error) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	corners := make([]image.Point, len(results))
	if len(results) == 0 {
		return corners, nil
	}
	for i, res := range results {
		if err := res.Validate(); err != nil {
			return nil, errors.Wrapf(err, "register ring %d", i)
		}
	}
	corners[0] = results[0].Corner

	process := func(a, b int) error {
		ref, mov := results[a], results[b]
		seed := mov.Corner.Sub(ref.Corner)
		name := fmt.Sprintf("%d-%d", a, b)
		delta := r.refine(ref, mov, seed, name, log.With("pair", name))
		corners[b] = corners[a].Add(delta)
		return nil
	}

	// Rings form a vertical stack, not a loop; no Flush.
	w, err := pipeline.NewRingWindow[int](1, process, nil)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if err := w.Push(i); err != nil {
			return nil, err
		}
	}

	log.Infow("Registered ring corners", "corners", corners)
	return corners, nil
}

// refine returns the offset of mov's origin from ref's; the seed, unless
// ECC converges to something that scores better.
func (r Registrar)refine(ref, mov *pano.StitchingResult, seed image.Point, name string, log *zap.SugaredLogger) image.Point {
	init := r2.Point{X: float64(seed.X), Y: float64(seed.Y)}

	var res Result
	if s := r.Scale; s > 0 && s < 1 {
		small := r.ECC.Register(downscale(ref, s), downscale(mov, s), init.Mul(s))
		res = small
		res.Offset = small.Offset.Mul(1 / s)
		if !small.Converged {
			res.Offset = init
		}
	} else {
		res = r.ECC.Register(ref, mov, init)
	}

	if !res.Converged {
		log.Infow("Registration did not converge, keeping seed", "seed", seed, "result", res)
		return seed
	}

	refined := image.Pt(seed.X, int(math.Round(res.Offset.Y)))
	if r.ECC.Motion == MotionTranslation {
		refined.X = int(math.Round(res.Offset.X))
	}

	seedErr, _ := ImgDiff(ref, mov, init)
	refinedErr, diff := ImgDiff(ref, mov, r2.Point{X: float64(refined.X), Y: float64(refined.Y)})
	if r.DebugDir != "" {
		title := fmt.Sprintf("seed %v err=%.2f; refined %v err=%.2f", seed, seedErr, refined, refinedErr)
		file := filepath.Join(r.DebugDir, fmt.Sprintf("diff-%s.png", name))
		if err := diff.ToImg(title, file); err != nil {
			log.Warnw("Could not write diff image", "file", file, "error", err)
		}
	}

	// ECC can converge onto a neighbouring peak when the texture repeats,
	// or onto a few overlap rows that happen to correlate. Keep the seed
	// unless the refined offset actually matches the pixels better.
	if refinedErr > seedErr {
		log.Infow("Registration scored worse than seed, keeping seed",
			"seed", seed, "seedErr", seedErr, "refined", refined, "refinedErr", refinedErr)
		return seed
	}

	log.Debugw("Registered", "seed", seed, "refined", refined, "result", res)
	return refined
}

// downscale shrinks a result (and its corner) by factor s.
func downscale(r *pano.StitchingResult, s float64) *pano.StitchingResult {
	b := r.Image.Bounds()
	w := uint(math.Max(1, math.Round(float64(b.Dx())*s)))
	h := uint(math.Max(1, math.Round(float64(b.Dy())*s)))
	return &pano.StitchingResult{
		Image:  pano.ToRGBA(resize.Resize(w, h, r.Image, resize.Bilinear)),
		Mask:   pano.ToGray(resize.Resize(w, h, r.Mask, resize.NearestNeighbor)),
		Corner: image.Pt(int(math.Round(float64(r.Corner.X)*s)), int(math.Round(float64(r.Corner.Y)*s))),
	}
}
