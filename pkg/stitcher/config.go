package stitcher

import(
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/abworrall/ringstitch/pkg/exposure"
	"github.com/abworrall/ringstitch/pkg/register"
)

type Config struct {
	Verbosity              int

	WorkDir                string   // Where the checkpoint store lives
	DebugDir               string   // Debug images land here, if debugging

	WarpScale              float64  // Pixels per radian on the canvas; 0 means the median focal length
	BlendBands             int      // Laplacian pyramid levels
	SeamOverlap            int      // Width of the band either side of an inter-ring seam that both rings keep

	GainSampleStride       int      // Sample every Nth pixel when comparing overlaps
	GainAlpha              float64  // Weight on agreeing with neighbours
	GainBeta               float64  // Weight on staying near 1.0
	GainPreviewWidth       int      // Images are shrunk to this width to estimate gains

	RegistrationIterations int
	RegistrationEpsilon    float64
	RegistrationScale      float64  // In (0,1) to register on downscaled mosaics
	RegistrationMotion     string   // "vertical" or "translation"

	OutputWidth            int      // If both set, the panorama is resized and letterboxed to fit
	OutputHeight           int
	KeepMask               bool     // Else the final mask is discarded (set full) after resizing

	HDROutput              string   // If set, the unclipped blend is also written here as RGBE
	Tonemapper             string   // If set, a tonemapped PNG of the blend is written too
}

func newConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

// LoadConfig reads a YAML config; unset fields keep their defaults.
func LoadConfig(filename string) (Config, error) {
	contents, err := ioutil.ReadFile(filename)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config read %s", filename)
	}
	c, err := newConfigFromYaml(contents)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config parse %s", filename)
	}
	return c, c.Validate()
}

func (c Config)AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "# can't marshal config yaml: " + err.Error()
	}
	return string(b)
}

func NewConfig() Config {
	return Config{
		WorkDir:                "ringstitch.d",
		DebugDir:               ".",
		BlendBands:             5,
		SeamOverlap:            1,
		GainSampleStride:       4,
		GainAlpha:              exposure.DefaultAlpha,
		GainBeta:               exposure.DefaultBeta,
		GainPreviewWidth:       320,
		RegistrationIterations: 200,
		RegistrationEpsilon:    1e-3,
		RegistrationMotion:     "vertical",
	}
}

func (c Config)Validate() error {
	if c.BlendBands < 0 || c.SeamOverlap < 0 || c.GainSampleStride < 1 {
		return errors.Errorf("config: bands %d, overlap %d, stride %d must not be negative (stride >= 1)",
			c.BlendBands, c.SeamOverlap, c.GainSampleStride)
	}
	if c.GainAlpha < 0 || c.GainBeta <= 0 {
		return errors.Errorf("config: gain weights alpha=%f beta=%f", c.GainAlpha, c.GainBeta)
	}
	if c.RegistrationMotion != "vertical" && c.RegistrationMotion != "translation" {
		return errors.Errorf("config: registration motion %q, want vertical or translation", c.RegistrationMotion)
	}
	if c.Tonemapper != "" {
		if _, err := lookupTonemapper(c.Tonemapper); err != nil {
			return err
		}
	}
	return nil
}

// ECC is the registration set up as configured.
func (c Config)ECC() register.ECC {
	e := register.ECC{
		Iterations: c.RegistrationIterations,
		Epsilon:    c.RegistrationEpsilon,
		Motion:     register.MotionVertical,
	}
	if c.RegistrationMotion == "translation" {
		e.Motion = register.MotionTranslation
	}
	return e
}
