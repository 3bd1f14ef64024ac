package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/zjrosen/tabtree/internal/app"
	"github.com/zjrosen/tabtree/internal/config"
	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/render"
	"github.com/zjrosen/tabtree/internal/storage"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the persisted tree as an outline",
	Long: `Print the tree_state stored in the database, one section per view.
The engine does not need to be running.`,
	RunE: runDump,
}

var (
	dumpPlain bool
	dumpWidth int
	dumpURLs  bool
)

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().BoolVar(&dumpPlain, "plain", false, "Print without colors or column alignment (implied by NO_COLOR)")
	dumpCmd.Flags().IntVarP(&dumpWidth, "width", "w", 100, "Truncate lines to this many columns")
	dumpCmd.Flags().BoolVar(&dumpURLs, "urls", true, "Show URLs next to titles")
}

// withBackend opens the configured storage for the duration of fn.
func withBackend(fn func(c config.Config, b storage.Backend) error) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	b, err := app.OpenBackend(c.Storage)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return fn(c, b)
}

// storedTopology reads tree_state. A missing record is an empty topology.
func storedTopology(ctx context.Context, b storage.Backend) (persistence.Topology, error) {
	rec, err := persistence.NewManager(b.KV(), 0).Load(ctx)
	if err != nil {
		return persistence.Topology{}, err
	}
	if rec == nil {
		return persistence.Topology{}, nil
	}
	return rec.Topology(), nil
}

func runDump(cmd *cobra.Command, _ []string) error {
	return withBackend(func(_ config.Config, b storage.Backend) error {
		topo, err := storedTopology(cmd.Context(), b)
		if err != nil {
			return fmt.Errorf("reading tree_state: %w", err)
		}
		return writeOutline(cmd.OutOrStdout(), topo)
	})
}

func writeOutline(w io.Writer, topo persistence.Topology) error {
	if len(topo.Entries) == 0 {
		_, err := fmt.Fprintln(w, "No tabs stored.")
		return err
	}
	var out string
	if dumpPlain || termenv.EnvNoColor() {
		out = render.Plain(topo)
	} else {
		out = render.Styled(topo, render.Options{Width: dumpWidth, ShowURL: dumpURLs})
	}
	_, err := io.WriteString(w, out)
	return err
}
