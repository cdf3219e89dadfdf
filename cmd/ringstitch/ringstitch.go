package main

import(
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/abworrall/ringstitch/pkg/checkpoint"
	"github.com/abworrall/ringstitch/pkg/pano"
	"github.com/abworrall/ringstitch/pkg/stitcher"
)

var(
	fConfigFile string
	fVerbosity int
	fWorkDir string
	fDebugDir string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ringstitch: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ringstitch",
		Short: "ringstitch assembles panoramas from rings of oriented photos",
		Long: `ringstitch stitches each ring of a capture into a mosaic, registers the
mosaics against each other, and blends them into one panorama. Work is
checkpointed into a directory, so an interrupted stitch picks up where it left off.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&fConfigFile, "config", "c", "", "YAML config file")
	root.PersistentFlags().IntVarP(&fVerbosity, "verbosity", "v", 0, "how verbose to get")
	root.PersistentFlags().StringVar(&fWorkDir, "workdir", "", "checkpoint directory (overrides config)")
	root.PersistentFlags().StringVar(&fDebugDir, "debugdir", "", "where debug images go (overrides config)")

	root.AddCommand(newImportCmd())
	root.AddCommand(newGainsCmd())
	root.AddCommand(newStitchCmd())
	root.AddCommand(newConfigCmd())
	return root
}

// setup loads the config, applies the global flags, and opens the store.
func setup() (stitcher.Config, *checkpoint.DirStore, *zap.SugaredLogger, error) {
	cfg := stitcher.NewConfig()
	if fConfigFile != "" {
		var err error
		if cfg, err = stitcher.LoadConfig(fConfigFile); err != nil {
			return cfg, nil, nil, err
		}
	}
	if fVerbosity > 0 { cfg.Verbosity = fVerbosity }
	if fWorkDir != "" { cfg.WorkDir = fWorkDir }
	if fDebugDir != "" { cfg.DebugDir = fDebugDir }

	logger, err := newLogger(cfg.Verbosity)
	if err != nil {
		return cfg, nil, nil, err
	}
	if cfg.Verbosity > 1 {
		logger.Debugf("Final configuration:-\n\n%s\n", cfg.AsYaml())
	}

	store, err := checkpoint.OpenDirStore(cfg.WorkDir, logger)
	if err != nil {
		return cfg, nil, nil, err
	}
	return cfg, store, logger, nil
}

func newLogger(verbosity int) (*zap.SugaredLogger, error) {
	zc := zap.NewDevelopmentConfig()
	switch {
	case verbosity <= 0:
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case verbosity == 1:
		zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	default:
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zc.DisableStacktrace = verbosity < 2
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <manifest.yaml|dir> ...",
		Short: "Read capture manifests into the checkpoint directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, logger, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()
			defer logger.Sync()

			rings, gains, err := checkpoint.Import(store, logger, args...)
			if err != nil {
				return err
			}
			n := 0
			for _, r := range rings {
				n += len(r)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rings, %d images, %d gains\n", len(rings), n, len(gains))
			return nil
		},
	}
}

func newGainsCmd() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "gains",
		Short: "Estimate exposure gains for the imported capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, logger, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()
			defer logger.Sync()

			rings, _, err := loadInput(store)
			if err != nil {
				return err
			}
			gains, err := stitcher.EstimateGains(rings, cfg, logger)
			if err != nil {
				return err
			}
			for _, ring := range rings {
				for _, img := range ring {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%.4f\n", img.ID, gains.Gain(img.ID))
				}
			}
			if save {
				return store.SaveStitcherInput(rings, gains.Map())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "store the estimated gains with the capture")
	return cmd
}

func newStitchCmd() *cobra.Command {
	var(
		output     string
		evBias     float64
		debug      bool
		debugLabel string
		width      int
		height     int
		keepMask   bool
		bands      int
		hdrOutput  string
		tonemapper string
	)

	cmd := &cobra.Command{
		Use:   "stitch",
		Short: "Stitch the imported capture into a panorama",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, logger, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()
			defer logger.Sync()

			// Flags override the config file, if set
			if width > 0 { cfg.OutputWidth = width }
			if height > 0 { cfg.OutputHeight = height }
			if bands >= 0 { cfg.BlendBands = bands }
			if hdrOutput != "" { cfg.HDROutput = hdrOutput }
			if tonemapper != "" { cfg.Tonemapper = tonemapper }
			if cmd.Flags().Changed("keepmask") { cfg.KeepMask = keepMask }

			rings, gains, err := loadInput(store)
			if err != nil {
				return err
			}

			s := stitcher.New(cfg, store, logger)
			if err := s.Initialize(rings, gains, evBias); err != nil {
				return err
			}

			progress := func(stage string, done, total int) bool {
				logger.Infof("[%d/%d] %s", done, total, stage)
				return true
			}
			res, err := s.Stitch(progress, debug, debugLabel)
			if err != nil {
				return err
			}

			if err := pano.WritePNG(res.Image, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "panorama written '%s' (%s)\n", output, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "pano.png", "name of output image file")
	cmd.Flags().Float64Var(&evBias, "evbias", 0, "exposure bias, in stops, added to every image")
	cmd.Flags().BoolVar(&debug, "debug", false, "write intermediate images into the debug dir")
	cmd.Flags().StringVar(&debugLabel, "debuglabel", "pano", "prefix for debug image filenames")
	cmd.Flags().IntVar(&width, "width", 0, "letterbox the panorama into this width (needs --height)")
	cmd.Flags().IntVar(&height, "height", 0, "letterbox the panorama into this height (needs --width)")
	cmd.Flags().BoolVar(&keepMask, "keepmask", false, "keep the coverage mask after letterboxing")
	cmd.Flags().IntVar(&bands, "bands", -1, "number of blend bands")
	cmd.Flags().StringVar(&hdrOutput, "hdr", "", "also write the unclipped blend as a Radiance .hdr file")
	cmd.Flags().StringVar(&tonemapper, "tonemapper", "", "also write a tonemapped PNG: "+stitcher.ListTonemappers())
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := stitcher.NewConfig()
			if fConfigFile != "" {
				var err error
				if cfg, err = stitcher.LoadConfig(fConfigFile); err != nil {
					return err
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.AsYaml())
			return nil
		},
	}
}

func loadInput(store checkpoint.Store) ([]pano.Ring, map[int]float64, error) {
	rings, gains, err := store.LoadStitcherInput()
	if err != nil {
		return nil, nil, err
	}
	if len(rings) == 0 {
		return nil, nil, fmt.Errorf("no capture in the checkpoint dir, run 'ringstitch import' first")
	}
	return rings, gains, nil
}
