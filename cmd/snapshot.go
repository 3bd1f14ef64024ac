package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/tabtree/internal/config"
	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/render"
	"github.com/zjrosen/tabtree/internal/snapshot"
	"github.com/zjrosen/tabtree/internal/storage"
)

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	Aliases: []string{"snap"},
	Short:   "Inspect and move stored snapshots",
	Long: `Work with the snapshot store directly. Creating and restoring snapshots
needs live tabs and goes through the running engine (CREATE_SNAPSHOT and
RESTORE_SNAPSHOT requests).`,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSnapshots(func(svc *snapshot.Service, _ storage.Backend) error {
			list, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeSnapshotList(cmd.OutOrStdout(), list)
		})
	},
}

var snapshotExportOut string

var snapshotExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Write a snapshot as portable JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSnapshots(func(svc *snapshot.Service, _ storage.Backend) error {
			data, err := svc.Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if snapshotExportOut == "" || snapshotExportOut == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(snapshotExportOut, data, 0o600)
		})
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store an exported snapshot under a new id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0]) //nolint:gosec // G304: path is the user's argument
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		return withSnapshots(func(svc *snapshot.Service, _ storage.Backend) error {
			sum, err := svc.Import(cmd.Context(), data)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %q as %s\n", sum.Name, sum.ID)
			return err
		})
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSnapshots(func(svc *snapshot.Service, _ storage.Backend) error {
			if err := svc.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return err
		})
	},
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff <id> [other-id]",
	Short: "Compare a snapshot with another one or with the current tree",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSnapshots(func(svc *snapshot.Service, b storage.Backend) error {
			before, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var after persistence.Topology
			if len(args) == 2 {
				other, err := svc.Get(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				after = other.Topology()
			} else if after, err = storedTopology(cmd.Context(), b); err != nil {
				return err
			}

			diff := render.DiffOutlines(render.Plain(before.Topology()), render.Plain(after))
			if !render.Changed(diff) {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No differences.")
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), render.FormatDiff(diff))
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotListCmd, snapshotExportCmd, snapshotImportCmd, snapshotDeleteCmd, snapshotDiffCmd)

	snapshotExportCmd.Flags().StringVarP(&snapshotExportOut, "output", "o", "", "Write to this file instead of stdout")
}

// withSnapshots runs fn against an engine-less snapshot service.
func withSnapshots(fn func(svc *snapshot.Service, b storage.Backend) error) error {
	return withBackend(func(c config.Config, b storage.Backend) error {
		svc := snapshot.NewService(b.Snapshots(), nil, snapshot.WithMaxAutoSaves(c.Snapshot.MaxAutoSaves))
		return fn(svc, b)
	})
}

func writeSnapshotList(w io.Writer, list []snapshot.Summary) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tCREATED\tKIND")
	for _, s := range list {
		kind := "manual"
		if s.IsAutoSave {
			kind = "auto"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.CreatedAt.Local().Format(time.DateTime), kind)
	}
	return tw.Flush()
}
