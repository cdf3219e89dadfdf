package checkpoint

import(
	"fmt"
	"image"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/abworrall/ringstitch/pkg/emath"
	"github.com/abworrall/ringstitch/pkg/pano"
)

// A Manifest describes a capture: which images, in which rings, and
// how each camera was pointing.
//
//   rings:
//     - images:
//       - path: ring0/000.jpg
//         orientation: [1,0,0, 0,1,0, 0,0,1]   # 3x3 or 4x4, row major
//         intrinsics: {focal: 1200, principal_x: 959.5, principal_y: 539.5, ref_width: 1920}
//   gains: {0: 1.02}
//
// Relative paths are relative to the manifest. Images without
// intrinsics get them from EXIF.
type Manifest struct {
	Rings []ManifestRing   `yaml:"rings"`
	Gains map[int]float64  `yaml:"gains"`
}

type ManifestRing struct {
	Images []ManifestImage `yaml:"images"`
}

type ManifestImage struct {
	ID          *int             `yaml:"id"`  // Defaults to the image's position in the capture
	Path        string           `yaml:"path"`
	Orientation []float64        `yaml:"orientation"`
	Intrinsics  *pano.Intrinsics `yaml:"intrinsics"`
}

// An Importer turns manifests into stitcher input.
type Importer struct {
	Logger *zap.SugaredLogger

	rings  []pano.Ring
	gains  map[int]float64
	nImages int
}

func NewImporter(logger *zap.SugaredLogger) *Importer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Importer{Logger: logger, gains: map[int]float64{}}
}

// Import loads every manifest named, or found under a named directory,
// and saves the combined capture into the store.
func Import(s Store, logger *zap.SugaredLogger, args ...string) ([]pano.Ring, map[int]float64, error) {
	im := NewImporter(logger)
	if err := im.LoadFilesAndDirs(args...); err != nil {
		return nil, nil, err
	}
	rings, gains := im.Result()
	if err := s.SaveStitcherInput(rings, gains); err != nil {
		return nil, nil, errors.Wrap(err, "import")
	}
	return rings, gains, nil
}

func (im *Importer)Result() ([]pano.Ring, map[int]float64) {
	return im.rings, im.gains
}

func (im *Importer)LoadFilesAndDirs(args ...string) error {
	for _, arg := range args {
		item, err := os.Stat(arg)

		switch {

		case err != nil:
			return fmt.Errorf("load %s: %v", arg, err)

		case item.IsDir():
			// Is a dir, recurse into contents
			contents, err := ioutil.ReadDir(arg)
			if err != nil {
				return fmt.Errorf("readdir %s: %v", arg, err)
			}
			for _, content := range contents {
				if err := im.LoadFilesAndDirs(filepath.Join(arg, content.Name())); err != nil {
					return fmt.Errorf("load %s: %v", arg, err)
				}
			}

		default: // is a file, load it if it's a manifest
			switch strings.ToLower(filepath.Ext(arg)) {
			case ".yaml", ".yml":
				if err := im.loadManifest(arg); err != nil {
					return fmt.Errorf("manifest %s: %w", arg, err)
				}
			}
		}
	}

	return nil
}

func (im *Importer)loadManifest(filename string) error {
	contents, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	var m Manifest
	if err := yaml.Unmarshal(contents, &m); err != nil {
		return err
	}

	dir := filepath.Dir(filename)
	for _, mr := range m.Rings {
		ring := pano.Ring{}
		for _, mi := range mr.Images {
			img, err := im.newImage(dir, mi)
			if err != nil {
				return err
			}
			ring = append(ring, img)
		}
		im.rings = append(im.rings, ring)
	}
	for id, g := range m.Gains {
		im.gains[id] = g
	}

	im.Logger.Infow("Loaded manifest", "file", filename, "rings", len(m.Rings), "gains", len(m.Gains))
	return nil
}

func (im *Importer)newImage(dir string, mi ManifestImage) (*pano.Image, error) {
	img := &pano.Image{ID: im.nImages, Path: mi.Path}
	im.nImages++
	if mi.ID != nil {
		img.ID = *mi.ID
	}
	if img.Path == "" {
		return nil, pano.Invariantf("image %d has no path", img.ID)
	}
	if !filepath.IsAbs(img.Path) {
		img.Path = filepath.Join(dir, img.Path)
	}

	switch len(mi.Orientation) {
	case 9:
		copy(img.Orientation[:], mi.Orientation)
	case 16:
		var m [16]float64
		copy(m[:], mi.Orientation)
		img.Orientation = emath.Mat3From4x4(m)
	default:
		return nil, pano.Invariantf("image %d orientation has %d values, want 9 or 16", img.ID, len(mi.Orientation))
	}

	if mi.Intrinsics != nil && mi.Intrinsics.Focal > 0 {
		img.Intrinsics = *mi.Intrinsics
	} else {
		in, err := IntrinsicsFromEXIF(img.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "image %d has no intrinsics", img.ID)
		}
		im.Logger.Debugw("Intrinsics from EXIF", "image", img.ID, "focal", in.Focal)
		img.Intrinsics = in
	}
	return img, nil
}

// IntrinsicsFromEXIF estimates a pinhole camera from the EXIF focal
// length, with the principal point at the centre of the frame.
func IntrinsicsFromEXIF(filename string) (pano.Intrinsics, error) {
	in := pano.Intrinsics{}

	reader, err := os.Open(filename)
	if err != nil {
		return in, fmt.Errorf("open+r '%s': %v", filename, err)
	}
	defer reader.Close()
	cfg, _, err := image.DecodeConfig(reader)
	if err != nil {
		return in, fmt.Errorf("decode config '%s': %v", filename, err)
	}
	if _, err := reader.Seek(0, 0); err != nil {
		return in, err
	}

	ex, err := exif.Decode(reader)
	if err != nil {
		return in, fmt.Errorf("exif parsing '%s': %v", filename, err)
	}

	width := float64(cfg.Width)
	in.PrincipalX = width / 2
	in.PrincipalY = float64(cfg.Height) / 2
	in.RefWidth = width

	// A 35mm equivalent focal length relates to a 36mm wide frame
	if tag, err := ex.Get(exif.FocalLengthIn35mmFilm); err == nil {
		if f35, err := tag.Int(0); err == nil && f35 > 0 {
			in.Focal = float64(f35) * width / 36.0
			return in, nil
		}
	}

	// Otherwise, the real focal length and the sensor's pixel density
	tag, err := ex.Get(exif.FocalLength)
	if err != nil {
		return in, fmt.Errorf("exif FocalLength '%s': %v", filename, err)
	}
	num, denom, err := tag.Rat2(0)
	if err != nil || denom == 0 {
		return in, fmt.Errorf("exif FocalLength '%s': %v", filename, err)
	}
	mm := float64(num) / float64(denom)

	tag, err = ex.Get(exif.FocalPlaneXResolution)
	if err != nil {
		return in, fmt.Errorf("exif FocalPlaneXResolution '%s': %v", filename, err)
	}
	rnum, rdenom, err := tag.Rat2(0)
	if err != nil || rdenom == 0 {
		return in, fmt.Errorf("exif FocalPlaneXResolution '%s': %v", filename, err)
	}
	mmPerUnit := 25.4
	if tag, err := ex.Get(exif.FocalPlaneResolutionUnit); err == nil {
		if unit, err := tag.Int(0); err == nil && unit == 3 {
			mmPerUnit = 10
		}
	}
	in.Focal = mm * (float64(rnum) / float64(rdenom)) / mmPerUnit
	return in, nil
}
