package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/smutch/hyperspec/internal/config"
	"github.com/smutch/hyperspec/internal/pipeline"
	"github.com/smutch/hyperspec/internal/storage"
)

// Version is stamped at build time.
var Version = "dev"

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	root := NewRoot(pipe, cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "hyperspec",
		Short: "Hyperspec crops and registers hyperspectral reflectance captures",
		Long: `Hyperspec collects crop bounds for reflectance captures and registers
captures of the same scene against a reference, writing aligned cubes
into a chunked array store.`,
	}

	rootCmd.AddCommand(newCropCmd(root))
	rootCmd.AddCommand(newRegisterCmd(root))
	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newStatsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newCropCmd(root *Root) *cobra.Command {
	var (
		ids   []string
		serve string
	)

	cmd := &cobra.Command{
		Use:   "crop <capture_dir> <crops.json>",
		Short: "Interactively select crop bounds for captures",
		Long: `Walks the captures under capture_dir and records a crop rectangle for
each into crops.json, keyed by capture id. Bounds are saved after every
selection. With --serve the selection happens in the browser instead of
an OpenCV window.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runCrop(cmd.Context(), args[0], args[1], ids, serve)
		},
	}

	cmd.Flags().StringSliceVar(&ids, "ids", nil, "restrict the session to these capture ids")
	cmd.Flags().StringVar(&serve, "serve", "", "serve the crop UI over HTTP on this address instead of opening windows")
	return cmd
}

func newRegisterCmd(root *Root) *cobra.Command {
	var (
		smooth  float64
		debug   bool
		preview bool
	)

	cmd := &cobra.Command{
		Use:   "register <reference.hdr> <source.hdr> <crops.json> <output.zarr>",
		Short: "Register a capture against a reference capture",
		Long: `Crops both captures to the stored bounds of the source capture, matches
features between their previews, and warps the source cube into the
reference frame. The registered cube is written into output.zarr under
the source capture id.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("reg"),
				Type:      pipeline.JobRegister,
				InputPath: args[1],
				Output:    args[3],
				Options: map[string]any{
					"reference": args[0],
					"crops":     args[2],
					"smooth":    smooth,
					"debug":     debug,
					"preview":   preview,
					"source":    "cli",
				},
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().Float64Var(&smooth, "smooth", 0, "Gaussian sigma applied to previews before feature detection")
	cmd.Flags().BoolVar(&debug, "debug", false, "write a feature-match visualization when registration fails")
	cmd.Flags().BoolVar(&preview, "preview", false, "write a PNG preview of the registered cube")
	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	var ids []string

	cmd := &cobra.Command{
		Use:   "scan <capture_dir>",
		Short: "Discover reflectance captures and record them in the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("scan"),
				Type:      pipeline.JobScan,
				InputPath: args[0],
				Options: map[string]any{
					"ids":    ids,
					"source": "cli",
				},
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringSliceVar(&ids, "ids", nil, "restrict the scan to these capture ids")
	return cmd
}

func newStatsCmd(root *Root) *cobra.Command {
	var metric string

	cmd := &cobra.Command{
		Use:   "stats <a.hdr> <b.hdr>",
		Short: "Compute a pixelwise similarity summary between two cubes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("stats"),
				Type:      pipeline.JobStats,
				InputPath: args[0],
				Options: map[string]any{
					"other":  args[1],
					"metric": metric,
					"source": "cli",
				},
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringVar(&metric, "metric", "sam", "similarity metric (sam|cosine)")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the active configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(root.cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for unusable values",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("configuration ok")
			return nil
		},
	})

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hyperspec version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("hyperspec", Version)
		},
	}
}

// Execute runs the root command with the given context.
func Execute(ctx context.Context, cmd *cobra.Command) error {
	return cmd.ExecuteContext(ctx)
}
