package stitcher

import(
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/exposure"
	"github.com/abworrall/ringstitch/pkg/pano"
	"github.com/abworrall/ringstitch/pkg/warp"
)

// EstimateGains works out exposure gains for every image of the
// capture. Each image is shrunk to a preview, warped onto a small
// canvas, and every overlapping pair is sampled into a gain graph,
// which is then solved.
func EstimateGains(rings []pano.Ring, cfg Config, logger *zap.SugaredLogger) (exposure.Gains, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	previewWidth := cfg.GainPreviewWidth
	if previewWidth < 16 {
		previewWidth = 16
	}

	type preview struct {
		img *pano.Image
		R   emath.Mat3
		pix *image.RGBA
		K   emath.Mat3
	}
	previews := []*preview{}
	focals := []float64{}

	for _, ring := range rings {
		rots := make([]emath.Mat3, len(ring))
		for i, img := range ring {
			rots[i] = img.Orientation
		}
		rots = warp.StraightenRing(rots)

		for i, img := range ring {
			if err := img.Load(); err != nil {
				return exposure.Gains{}, err
			}
			in := img.Intrinsics
			if in.RefWidth <= 0 {
				in.RefWidth = float64(img.Pixels.Bounds().Dx())
			}
			small := resize.Resize(uint(previewWidth), 0, img.Pixels, resize.Bilinear)
			img.Unload()

			in = in.Scaled(small.Bounds().Dx())
			focals = append(focals, in.Focal)
			previews = append(previews, &preview{
				img: img,
				R:   rots[i],
				K:   in.K(),
				pix: pano.ToRGBA(small),
			})
		}
	}

	sph := warp.Spherical{Scale: warp.MedianFocal(focals)}
	results := map[int]*pano.StitchingResult{}
	for _, p := range previews {
		res, err := sph.Warp(p.pix, p.K, p.R)
		if err != nil {
			return exposure.Gains{}, errors.Wrapf(err, "preview of image %d", p.img.ID)
		}
		results[p.img.ID] = res
	}

	g, err := exposure.BuildGraph(results, cfg.GainSampleStride, sph.WrapWidth())
	if err != nil {
		return exposure.Gains{}, err
	}
	c := exposure.Compensator{Alpha: cfg.GainAlpha, Beta: cfg.GainBeta, Logger: logger}
	gains, err := c.Solve(g)
	if err != nil {
		return exposure.Gains{}, err
	}

	logger.Infow("Estimated gains", "images", len(results), "isolated", gains.Isolated, "gains", gains.Map())
	return gains, nil
}
