package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/catalog"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/metrics"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/render"
	"github.com/dj-oyu/smart-trolley/checkout-server/pkg/types"
)

var detectAnnotate string

var detectCmd = &cobra.Command{
	Use:   "detect [image]",
	Short: "Run the detector once on an image file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&detectAnnotate, "annotate", "", "Write the annotated image to this JPEG file")
}

func runDetect(cmd *cobra.Command, args []string) (err error) {
	img, err := imaging.Open(args[0], imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	adapter, err := newAdapter(cfg, cat, metrics.New())
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, adapter.Close()) }()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Detector.Timeout)
	defer cancel()
	dets, err := adapter.Detect(ctx, types.Frame{Image: img, Seq: 1})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dets); err != nil {
		return err
	}

	if detectAnnotate != "" {
		data, err := render.Encode(render.Annotate(img, render.Labels(dets), false), render.DefaultQuality)
		if err != nil {
			return err
		}
		if err := os.WriteFile(detectAnnotate, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", detectAnnotate, err)
		}
	}
	return nil
}
