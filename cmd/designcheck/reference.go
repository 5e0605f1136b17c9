package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/designcheck/config"
	"github.com/hazyhaar/designcheck/safeio"
)

func newReferenceCmd(g *globalFlags) *cobra.Command {
	var (
		block, nodeID, fileID string
		scale                 float64
	)
	cmd := &cobra.Command{
		Use:   "reference --block=<name> --node-id=<id>",
		Short: "Download one design node as PNG into the block directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if block == "" || nodeID == "" {
				_ = cmd.Usage()
				return fmt.Errorf("--block and --node-id are required")
			}
			if err := safeio.ValidateIdentifier(block); err != nil {
				return &config.ConfigurationError{Field: "block", Reason: "invalid block name", Err: err}
			}
			a, err := newApp(g)
			if err != nil {
				return err
			}
			if a.cfg.Figma.Token == "" {
				return &config.ConfigurationError{Field: config.EnvToken, Reason: "design API token is not set"}
			}
			id, err := resolveFileID(a.cfg, fileID)
			if err != nil {
				return err
			}
			ref, err := a.figma.FetchImage(cmd.Context(), id, nodeID, scale)
			if err != nil {
				return err
			}

			dir := filepath.Join(a.cfg.BlocksDir(), block)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			path, err := safeio.SafePath(dir, referenceFileName(nodeID))
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, ref.PNG, 0o644); err != nil {
				return err
			}
			b := ref.Image.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%dx%d at %gx)\n", path, b.Dx(), b.Dy(), scale)
			return nil
		},
	}
	cmd.Flags().StringVar(&block, "block", "", "block name")
	cmd.Flags().StringVar(&nodeID, "node-id", "", "design node id, e.g. 8668:498")
	cmd.Flags().StringVar(&fileID, "file-id", "", "design file id (default from config or figma-urls.json)")
	cmd.Flags().Float64Var(&scale, "scale", 2, "render scale")
	return cmd
}

// referenceFileName is figma-variant-8668-498.png for node 8668:498.
func referenceFileName(nodeID string) string {
	return "figma-variant-" + safeio.Stem(strings.ReplaceAll(nodeID, ":", "-")) + ".png"
}
