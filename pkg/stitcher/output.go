package stitcher

import(
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/tmo"
	"github.com/pkg/errors"

	"github.com/abworrall/ringstitch/pkg/fattal02"
	"github.com/abworrall/ringstitch/pkg/pano"
)

var(
	Tonemappers = []string{"drago03", "durand", "fattal02", "icam06", "linear", "reinhard05"}
)

func ListTonemappers() string {
	return fmt.Sprintf("%v", Tonemappers)
}

func lookupTonemapper(name string) (func(hdr.Image) tmo.ToneMappingOperator, error) {
	switch name {
	case "drago03":
		return func(img hdr.Image) tmo.ToneMappingOperator { return tmo.NewDefaultDrago03(img) }, nil
	case "durand":
		return func(img hdr.Image) tmo.ToneMappingOperator { return tmo.NewDefaultDurand(img) }, nil
	case "fattal02":
		return func(img hdr.Image) tmo.ToneMappingOperator { return fattal02.NewDefaultFattal02(img) }, nil
	case "icam06":
		return func(img hdr.Image) tmo.ToneMappingOperator { return tmo.NewDefaultICam06(img) }, nil
	case "linear":
		return func(img hdr.Image) tmo.ToneMappingOperator { return tmo.NewLinear(img) }, nil
	case "reinhard05":
		return func(img hdr.Image) tmo.ToneMappingOperator { return tmo.NewDefaultReinhard05(img) }, nil
	}
	return nil, errors.Errorf("tonemapper %q not recognized, wanted %s", name, ListTonemappers())
}

// WriteTonemapped runs the named operator over img and writes a PNG.
func WriteTonemapped(img hdr.Image, name, filename string) error {
	newOp, err := lookupTonemapper(name)
	if err != nil {
		return err
	}
	return pano.WritePNG(newOp(img).Perform(), filename)
}

// Letterbox scales a result to fit inside a w x h canvas, keeping its
// aspect ratio, and centres it on black. The result is placed at the
// origin. Unless keepMask is set, the mask is thrown away and replaced
// with a full one.
func Letterbox(r *pano.StitchingResult, w, h int, keepMask bool) (*pano.StitchingResult, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 {
		return nil, pano.Invariantf("letterbox to %dx%d", w, h)
	}

	src := r.Image.Bounds().Size()
	scale := math.Min(float64(w)/float64(src.X), float64(h)/float64(src.Y))
	nw := int(math.Max(1, math.Round(float64(src.X)*scale)))
	nh := int(math.Max(1, math.Round(float64(src.Y)*scale)))
	offset := image.Pt((w-nw)/2, (h-nh)/2)

	bg := imaging.New(w, h, color.NRGBA{0, 0, 0, 255})
	fitted := imaging.Resize(r.Image, nw, nh, imaging.Lanczos)
	out := &pano.StitchingResult{
		Image: pano.ToRGBA(imaging.Paste(bg, fitted, offset)),
	}

	if keepMask {
		mbg := imaging.New(w, h, color.NRGBA{0, 0, 0, 255})
		mfit := imaging.Resize(r.Mask, nw, nh, imaging.NearestNeighbor)
		out.Mask = pano.ToGray(imaging.Paste(mbg, mfit, offset))
	} else {
		out.Mask = pano.NewFullMask(image.Pt(w, h))
	}

	for _, c := range r.Cores {
		c = c.Sub(r.Corner)
		out.Cores = append(out.Cores, image.Rect(
			int(math.Round(float64(c.Min.X)*scale)), int(math.Round(float64(c.Min.Y)*scale)),
			int(math.Round(float64(c.Max.X)*scale)), int(math.Round(float64(c.Max.Y)*scale)),
		).Add(offset))
	}
	return out, nil
}
