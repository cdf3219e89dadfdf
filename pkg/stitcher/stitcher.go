// Package stitcher assembles a full panorama from rings of images:
// each ring becomes a mosaic, the mosaics are registered against each
// other, seamed, and blended into the final canvas.
package stitcher

import(
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/abworrall/ringstitch/pkg/blend"
	"github.com/abworrall/ringstitch/pkg/checkpoint"
	"github.com/abworrall/ringstitch/pkg/exposure"
	"github.com/abworrall/ringstitch/pkg/pano"
	"github.com/abworrall/ringstitch/pkg/register"
	"github.com/abworrall/ringstitch/pkg/seam"
	"github.com/abworrall/ringstitch/pkg/warp"
)

// A ProgressFunc hears about each step of a stitch; `done` of `total`
// steps are complete. Returning false cancels the stitch.
type ProgressFunc func(stage string, done, total int) bool

type Stitcher struct {
	Config
	Store  checkpoint.Store
	Logger *zap.SugaredLogger

	rings  []pano.Ring
	gains  exposure.Gains
	evBias float64
	scale  float64
}

func New(cfg Config, store checkpoint.Store, logger *zap.SugaredLogger) *Stitcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Stitcher{Config: cfg, Store: store, Logger: logger}
}

// Initialize takes the capture to stitch. If no gains are given they
// are estimated from the images; evBias is added to every gain.
func (s *Stitcher)Initialize(rings []pano.Ring, gains map[int]float64, evBias float64) error {
	if err := s.Config.Validate(); err != nil {
		return err
	}
	if s.Store == nil {
		return pano.Invariantf("stitcher has no store")
	}

	s.rings = rings
	s.evBias = evBias

	nImages := 0
	focals := []float64{}
	for i, ring := range rings {
		if len(ring) == 0 {
			s.Logger.Warnw("Ring has no images, it will be skipped", "ring", i)
		}
		for _, img := range ring {
			nImages++
			if s.WarpScale > 0 {
				continue
			}
			size, err := img.Size()
			if err != nil {
				return errors.Wrapf(err, "initialize image %d", img.ID)
			}
			focals = append(focals, img.Intrinsics.Scaled(size.X).Focal)
		}
	}
	if nImages == 0 {
		return pano.Invariantf("nothing to stitch: %d rings, no images", len(rings))
	}

	s.scale = s.WarpScale
	if s.scale <= 0 {
		s.scale = warp.MedianFocal(focals)
	}

	if len(gains) == 0 {
		estimated, err := EstimateGains(rings, s.Config, s.Logger)
		if err != nil {
			return errors.Wrap(err, "estimate gains")
		}
		s.gains = estimated
	} else {
		s.gains = exposure.NewGains(gains)
		for _, ring := range rings {
			for _, img := range ring {
				if !s.gains.Has(img.ID) {
					s.Logger.Warnw("No gain for image, using 1.0", "image", img.ID)
				}
			}
		}
	}

	s.Logger.Infow("Initialized stitcher", "rings", len(rings), "images", nImages, "scale", s.scale, "evBias", evBias)
	return nil
}

func (s *Stitcher)Gains() exposure.Gains { return s.gains }
func (s *Stitcher)Scale() float64        { return s.scale }

// Stitch produces the panorama, or loads it if an earlier run finished
// it. Rings already stitched by an earlier run are loaded, not rebuilt.
func (s *Stitcher)Stitch(progress ProgressFunc, debug bool, debugLabel string) (*pano.StitchingResult, error) {
	if s.scale <= 0 {
		return nil, pano.Invariantf("stitch before initialize")
	}
	if progress == nil {
		progress = func(string, int, int) bool { return true }
	}
	debugPrefix := ""
	if debug {
		if err := os.MkdirAll(s.DebugDir, 0755); err != nil {
			return nil, errors.Wrapf(err, "mkdir '%s'", s.DebugDir)
		}
		debugPrefix = filepath.Join(s.DebugDir, debugLabel)
	}

	res, computed, err := checkpoint.GetOrCompute(checkpoint.OptographCache(s.Store), func() (*pano.StitchingResult, error) {
		return s.assemble(progress, debugPrefix)
	})
	if err != nil {
		return nil, err
	}
	if !computed {
		s.Logger.Infow("Loaded finished panorama", "result", res)
	}
	return res, nil
}

func (s *Stitcher)assemble(progress ProgressFunc, debugPrefix string) (*pano.StitchingResult, error) {
	total := len(s.rings) + 3
	step := 0
	advance := func(stage string) error {
		step++
		if !progress(stage, step, total) {
			s.Logger.Infow("Stitch cancelled", "stage", stage)
			return errors.Wrapf(pano.ErrCancelled, "after %s", stage)
		}
		return nil
	}

	// 1. One mosaic per ring
	mosaics := []*pano.StitchingResult{}
	for i, ring := range s.rings {
		if len(ring) == 0 {
			s.Logger.Warnw("Skipping empty ring", "ring", i)
		} else {
			rs := RingStitcher{
				Scale:  s.scale,
				Bands:  s.BlendBands,
				Gains:  s.gains,
				EVBias: s.evBias,
				Logger: s.Logger.With("ring", i),
			}
			if debugPrefix != "" {
				rs.DebugPrefix = fmt.Sprintf("%s-ring%d", debugPrefix, i)
			}

			mosaic, computed, err := checkpoint.GetOrCompute(checkpoint.RingCache(s.Store, i), func() (*pano.StitchingResult, error) {
				return rs.Stitch(ring)
			})
			if err != nil {
				return nil, errors.Wrapf(err, "ring %d", i)
			}
			s.Logger.Infow("Ring mosaic ready", "ring", i, "computed", computed, "mosaic", mosaic)
			mosaics = append(mosaics, mosaic)
		}
		if err := advance(fmt.Sprintf("ring %d", i)); err != nil {
			return nil, err
		}
	}
	if len(mosaics) == 0 {
		return nil, pano.Invariantf("no ring produced a mosaic")
	}

	// 2. Register the rings against each other, top to bottom
	reg := register.Registrar{ECC: s.ECC(), Scale: s.RegistrationScale, Logger: s.Logger}
	if debugPrefix != "" {
		reg.DebugDir = s.DebugDir
	}
	corners, err := reg.Corners(mosaics)
	if err != nil {
		return nil, err
	}
	for i := range mosaics {
		mosaics[i].Corner = corners[i]
	}
	if err := advance("register"); err != nil {
		return nil, err
	}

	// 3. Seams between vertically adjacent rings
	sort.SliceStable(mosaics, func(i, j int) bool {
		a, b := mosaics[i].Corner, mosaics[j].Corner
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	for i := 0; i+1 < len(mosaics); i++ {
		a, b := mosaics[i], mosaics[i+1]
		if !a.Rect().Overlaps(b.Rect()) {
			s.Logger.Warnw("Adjacent rings do not overlap, no seam", "upper", a, "lower", b)
			continue
		}
		d := seam.Dynamic{Axis: seam.Horizontal, Overlap: s.SeamOverlap, Logger: s.Logger}
		if debugPrefix != "" {
			d.DebugFile = fmt.Sprintf("%s-seam-%d.png", debugPrefix, i)
		}
		if _, err := d.Find(a, b); err != nil {
			return nil, errors.Wrapf(err, "seam %d", i)
		}
	}
	if debugPrefix != "" {
		for i, m := range mosaics {
			dumpPNG(s.Logger, m.Image, fmt.Sprintf("%s-mosaic-%d.png", debugPrefix, i))
			dumpPNG(s.Logger, m.Mask, fmt.Sprintf("%s-mosaic-%d-mask.png", debugPrefix, i))
		}
	}
	if err := advance("seams"); err != nil {
		return nil, err
	}

	// 4. Blend everything
	roi := image.Rectangle{}
	for _, m := range mosaics {
		roi = roi.Union(m.Rect())
	}
	mb, err := blend.NewMultiBand(s.BlendBands, roi, s.Logger)
	if err != nil {
		return nil, err
	}
	if debugPrefix != "" {
		mb.DebugPrefix = debugPrefix + "-final"
	}
	for _, m := range mosaics {
		if err := mb.Feed(m); err != nil {
			return nil, err
		}
		m.Release()
	}
	canvas, err := mb.Blend()
	if err != nil {
		return nil, err
	}
	if s.HDROutput != "" {
		if err := canvas.WriteHDR(s.HDROutput); err != nil {
			return nil, err
		}
		s.Logger.Infow("Wrote HDR panorama", "file", s.HDROutput)
	}
	if s.Tonemapper != "" {
		filename := filepath.Join(s.DebugDir, fmt.Sprintf("tmo-%s.png", s.Tonemapper))
		if err := WriteTonemapped(canvas, s.Tonemapper, filename); err != nil {
			return nil, err
		}
		s.Logger.Infow("Wrote tonemapped panorama", "file", filename)
	}
	res := canvas.ToResult()
	if err := advance("blend"); err != nil {
		return nil, err
	}

	// 5. Fit to the output canvas
	if s.OutputWidth > 0 && s.OutputHeight > 0 {
		if res, err = Letterbox(res, s.OutputWidth, s.OutputHeight, s.KeepMask); err != nil {
			return nil, err
		}
	}

	s.Logger.Infow("Assembled panorama", "result", res)
	return res, nil
}
