package pano

import(
	"fmt"
	"image"
	"os"

	"github.com/abworrall/ringstitch/pkg/emath"
)

// Intrinsics are the pinhole camera parameters of an image. They may be
// expressed for a different resolution than the pixels we end up
// loading (e.g. measured on a preview), so RefWidth records the image
// width they apply to. A zero RefWidth means they are already in pixels.
type Intrinsics struct {
	Focal      float64  `yaml:"focal"`
	PrincipalX float64  `yaml:"principal_x"`
	PrincipalY float64  `yaml:"principal_y"`
	RefWidth   float64  `yaml:"ref_width"`
}

// Scaled returns the intrinsics in pixel units for an image `width` pixels wide.
func (in Intrinsics)Scaled(width int) Intrinsics {
	if in.RefWidth <= 0 || width <= 0 {
		return in
	}
	f := float64(width) / in.RefWidth
	return Intrinsics{
		Focal:      in.Focal * f,
		PrincipalX: in.PrincipalX * f,
		PrincipalY: in.PrincipalY * f,
		RefWidth:   float64(width),
	}
}

// K is the camera matrix
func (in Intrinsics)K() emath.Mat3 {
	return emath.Mat3{
		in.Focal, 0, in.PrincipalX,
		0, in.Focal, in.PrincipalY,
		0, 0, 1,
	}
}

// An Image is one photograph of the capture, with its orientation and
// intrinsics. Pixels are only held between Load and Unload.
type Image struct {
	ID          int
	Path        string      // Where the pixels live; empty for in-memory images
	Orientation emath.Mat3  // Camera rotation, 3x3
	Intrinsics  Intrinsics

	Pixels      image.Image
}

func (img *Image)String() string {
	return fmt.Sprintf("Image[%d %q f=%.1f]", img.ID, img.Path, img.Intrinsics.Focal)
}

// Load reads the pixels from disk, if they aren't already in memory.
func (img *Image)Load() error {
	if img.Pixels != nil {
		return nil
	}
	if img.Path == "" {
		return Invariantf("image %d has neither pixels nor a path", img.ID)
	}
	pix, err := ReadImage(img.Path)
	if err != nil {
		return fmt.Errorf("load image %d: %v", img.ID, err)
	}
	img.Pixels = pix
	return nil
}

// Size of the image in pixels. If the pixels aren't loaded, only the
// file's header is read.
func (img *Image)Size() (image.Point, error) {
	if img.Pixels != nil {
		return img.Pixels.Bounds().Size(), nil
	}
	if img.Path == "" {
		return image.Point{}, Invariantf("image %d has neither pixels nor a path", img.ID)
	}
	reader, err := os.Open(img.Path)
	if err != nil {
		return image.Point{}, fmt.Errorf("open+r img '%s': %v", img.Path, err)
	}
	defer reader.Close()
	cfg, _, err := image.DecodeConfig(reader)
	if err != nil {
		return image.Point{}, fmt.Errorf("decode config '%s': %v", img.Path, err)
	}
	return image.Pt(cfg.Width, cfg.Height), nil
}

// Unload drops the pixel buffer. Images without a backing file keep
// their pixels, as there would be no way to get them back.
func (img *Image)Unload() {
	if img.Path != "" {
		img.Pixels = nil
	}
}

// A Ring is the ordered set of images taken at one elevation, spanning 360deg.
type Ring []*Image

func (r Ring)IDs() []int {
	ids := make([]int, len(r))
	for i, img := range r {
		ids[i] = img.ID
	}
	return ids
}
