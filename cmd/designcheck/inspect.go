package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/designcheck/config"
	"github.com/hazyhaar/designcheck/figma"
)

// maxChildren caps the children listed for nodes that are not components.
const maxChildren = 10

func newInspectCmd(g *globalFlags) *cobra.Command {
	var nodeID, fileID string
	cmd := &cobra.Command{
		Use:   "inspect --node-id=<id>",
		Short: "Show one design node, listing variant node ids for component sets",
		Long: `inspect fetches a single design node and prints its name, type and size.
For a component set every variant is listed with its node id and properties,
followed by a "variants" block ready for figma-urls.json. Compare against a
variant id rather than the set for an exact reference.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if nodeID == "" {
				_ = cmd.Usage()
				return fmt.Errorf("--node-id is required")
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
			n, err := a.figma.Node(cmd.Context(), id, nodeID)
			if err != nil {
				return err
			}
			return printNode(cmd.OutOrStdout(), id, n)
		},
	}
	cmd.Flags().StringVar(&nodeID, "node-id", "", "design node id, e.g. 9392:122")
	cmd.Flags().StringVar(&fileID, "file-id", "", "design file id (default from config or figma-urls.json)")
	return cmd
}

func printNode(w io.Writer, fileID string, n *figma.Node) error {
	fmt.Fprintf(w, "%s  [%s]  %s\n", n.Name, n.ID, n.Type)
	fmt.Fprintf(w, "  Size: %s\n", nodeSize(n))
	fmt.Fprintf(w, "  %s\n", figma.DesignURL(fileID, n.ID))

	switch n.Type {
	case figma.TypeComponentSet:
		fmt.Fprintf(w, "\nVariants (%d):\n", len(n.Children))
		variants := map[string]string{}
		for i, v := range n.Children {
			if v == nil {
				continue
			}
			fmt.Fprintf(w, "  [%d] %s\n", i+1, v.Name)
			fmt.Fprintf(w, "      node-id %s  %s  %s\n", v.ID, v.Type, nodeSize(v))
			if len(v.VariantProperties) > 0 {
				props, err := json.Marshal(v.VariantProperties)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "      properties %s\n", props)
			}
			variants[figma.VariantKey(v.Name)] = v.ID
		}
		snippet, err := json.MarshalIndent(map[string]any{"variants": variants}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nfigma-urls.json entry:\n%s\n", snippet)
	case figma.TypeComponent:
		fmt.Fprintln(w, "\nSingle component: this node id can be compared directly.")
	default:
		fmt.Fprintln(w, "\nNot a component; pick one of its children.")
		if len(n.Children) == 0 {
			fmt.Fprintln(w, "  (no children)")
			return nil
		}
		fmt.Fprintf(w, "Children (%d):\n", len(n.Children))
		for i, ch := range n.Children {
			if i == maxChildren {
				fmt.Fprintf(w, "  ... and %d more\n", len(n.Children)-maxChildren)
				break
			}
			if ch == nil {
				continue
			}
			fmt.Fprintf(w, "  [%d] %s  (%s, %s)\n", i+1, ch.Name, ch.Type, ch.ID)
		}
	}
	return nil
}

func nodeSize(n *figma.Node) string {
	if n.AbsoluteBoundingBox == nil {
		return "n/a"
	}
	return fmt.Sprintf("%gx%g", n.AbsoluteBoundingBox.Width, n.AbsoluteBoundingBox.Height)
}
