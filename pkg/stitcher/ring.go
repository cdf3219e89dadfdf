package stitcher

import(
	"fmt"
	"image"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/abworrall/ringstitch/pkg/blend"
	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/exposure"
	"github.com/abworrall/ringstitch/pkg/pano"
	"github.com/abworrall/ringstitch/pkg/pipeline"
	"github.com/abworrall/ringstitch/pkg/seam"
	"github.com/abworrall/ringstitch/pkg/warp"
)

// A RingStitcher turns the images of one ring into a single mosaic on
// the panorama canvas.
type RingStitcher struct {
	Scale       float64         // Canvas pixels per radian
	Bands       int
	Gains       exposure.Gains
	EVBias      float64
	Logger      *zap.SugaredLogger

	DebugPrefix string  // If set, warped images and masks are dumped with this prefix
}

// placed is one warped image of the ring
type placed struct {
	id  int
	res *pano.StitchingResult
}

// Stitch warps, seams and blends the ring. Pixels are loaded one image
// at a time, and released once warped.
func (rs RingStitcher)Stitch(ring pano.Ring) (*pano.StitchingResult, error) {
	log := rs.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if len(ring) == 0 {
		return nil, pano.Invariantf("stitch empty ring")
	}
	sph := warp.Spherical{Scale: rs.Scale}

	rots := make([]emath.Mat3, len(ring))
	for i, img := range ring {
		rots[i] = img.Orientation
	}
	rots = warp.StraightenRing(rots)

	ims := []placed{}
	for i, img := range ring {
		res, err := rs.warpOne(sph, img, rots[i])
		if err != nil {
			return nil, err
		}
		ims = append(ims, placed{img.ID, res})

		if rs.DebugPrefix != "" {
			dumpPNG(log, res.Image, fmt.Sprintf("%s-warp-%d.png", rs.DebugPrefix, img.ID))
			dumpPNG(log, res.Mask, fmt.Sprintf("%s-warp-%d-mask.png", rs.DebugPrefix, img.ID))
		}
	}

	sort.SliceStable(ims, func(i, j int) bool { return ims[i].res.Corner.X < ims[j].res.Corner.X })

	if err := rs.seams(ims, sph.WrapWidth(), log); err != nil {
		return nil, err
	}

	roi := image.Rectangle{}
	for _, im := range ims {
		roi = roi.Union(im.res.Rect())
	}
	mb, err := blend.NewMultiBand(rs.Bands, roi, log)
	if err != nil {
		return nil, err
	}
	for _, im := range ims {
		if rs.DebugPrefix != "" {
			dumpPNG(log, im.res.Mask, fmt.Sprintf("%s-seam-%d-mask.png", rs.DebugPrefix, im.id))
		}
		if err := mb.Feed(im.res); err != nil {
			return nil, errors.Wrapf(err, "blend image %d", im.id)
		}
		im.res.Release()
	}
	canvas, err := mb.Blend()
	if err != nil {
		return nil, err
	}

	mosaic := canvas.ToResult()
	log.Infow("Stitched ring", "images", ring.IDs(), "mosaic", mosaic)
	return mosaic, nil
}

// Debug images are best effort
func dumpPNG(log *zap.SugaredLogger, img image.Image, filename string) {
	if err := pano.WritePNG(img, filename); err != nil {
		log.Warnw("Could not write debug image", "file", filename, "error", err)
	}
}

func (rs RingStitcher)warpOne(sph warp.Spherical, img *pano.Image, R emath.Mat3) (*pano.StitchingResult, error) {
	if err := img.Load(); err != nil {
		return nil, err
	}
	defer img.Unload()

	width := img.Pixels.Bounds().Dx()
	K := img.Intrinsics.Scaled(width).K()
	res, err := sph.Warp(img.Pixels, K, R)
	if err != nil {
		return nil, errors.Wrapf(err, "warp image %d", img.ID)
	}
	res.Image = rs.Gains.Apply(res.Image, img.ID, rs.EVBias)
	return res, nil
}

// seams cuts threshold seams between ring neighbours, including the
// pair that closes the ring.
func (rs RingStitcher)seams(ims []placed, wrapWidth int, log *zap.SugaredLogger) error {
	process := func(a, b placed) error {
		if a.id == b.id {
			return nil
		}
		for _, dx := range []int{0, -wrapWidth, wrapWidth} {
			shifted := *b.res
			shifted.Corner.X += dx
			if a.res.Rect().Overlaps(shifted.Rect()) {
				return seam.FindThreshold(a.res, &shifted)
			}
		}
		log.Warnw("Ring neighbours do not overlap, no seam", "a", a.id, "b", b.id)
		return nil
	}

	w, err := pipeline.NewRingWindow[placed](1, process, nil)
	if err != nil {
		return err
	}
	for _, im := range ims {
		if err := w.Push(im); err != nil {
			return err
		}
	}
	return w.Flush()
}
