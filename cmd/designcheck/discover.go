package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/designcheck/config"
	"github.com/hazyhaar/designcheck/figma"
)

func newDiscoverCmd(g *globalFlags) *cobra.Command {
	var (
		page, filter, fileID string
		snippet              bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List components and variants of the design file",
		Long: `discover walks the design file and prints every component and component
set with its node id and design URL. --json-snippet prints a figma-urls.json
document for the listed components instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			comps, err := a.figma.Discover(cmd.Context(), id, figma.DiscoverFilter{Page: page, Name: filter})
			if err != nil {
				return err
			}
			if snippet {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(figma.ComponentMap(id, comps))
			}
			printComponents(cmd.OutOrStdout(), a.cfg.Storybook.StoryPrefix, id, comps)
			return nil
		},
	}
	cmd.Flags().StringVar(&page, "page", "", "only pages whose name contains this text")
	cmd.Flags().StringVar(&filter, "filter", "", "only components whose name contains this text")
	cmd.Flags().StringVar(&fileID, "file-id", "", "design file id (default from config or figma-urls.json)")
	cmd.Flags().BoolVar(&snippet, "json-snippet", false, "print a figma-urls.json document")
	return cmd
}

// resolveFileID applies the flag > config > figma-urls.json precedence.
func resolveFileID(cfg *config.Config, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if cfg.Figma.FileID != "" {
		return cfg.Figma.FileID, nil
	}
	cmap, err := config.LoadComponentMap(cfg.FigmaURLsPath())
	if err != nil {
		return "", err
	}
	if cmap.FileID != "" {
		return cmap.FileID, nil
	}
	return "", &config.ConfigurationError{Field: "figma.file_id", Reason: "no design file id (use --file-id, figma.file_id or figma-urls.json)"}
}

func printComponents(w io.Writer, prefix, fileID string, comps []figma.Component) {
	if len(comps) == 0 {
		fmt.Fprintln(w, "No components found.")
		return
	}
	lastPage := ""
	for _, c := range comps {
		if c.Page != lastPage {
			fmt.Fprintf(w, "\nPage: %s\n", c.Page)
			lastPage = c.Page
		}
		fmt.Fprintf(w, "  %s  [%s]  %s  %.0fx%.0f\n", c.Name, c.ID, c.Type, c.Width, c.Height)
		fmt.Fprintf(w, "    %s\n", figma.DesignURL(fileID, c.ID))
		for _, v := range c.Variants {
			fmt.Fprintf(w, "    - %-28s [%s]  %s\n", v.Name, v.ID, figma.DesignURL(fileID, v.ID))
		}
	}
	fmt.Fprintf(w, "\nStory parameters (blocks/<block>/<block>.stories.js, title %q):\n", prefix+"/<Block>")
	for _, c := range comps {
		if len(c.Variants) == 0 {
			fmt.Fprintf(w, "  export const Default = { parameters: { design: { type: 'figma', url: '%s' } } };\n", figma.DesignURL(fileID, c.ID))
			continue
		}
		for _, v := range c.Variants {
			fmt.Fprintf(w, "  export const %s = { parameters: { design: { type: 'figma', url: '%s' } } };\n", figma.VariantKey(v.Name), figma.DesignURL(fileID, v.ID))
		}
	}
}
