package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/qiniu/quizops/internal/deploy"
	"github.com/spf13/cobra"
)

func newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List or prune snapshots on the target",
	}
	cmd.AddCommand(newSnapshotsListCmd(), newSnapshotsPruneCmd())
	return cmd
}

func newSnapshotsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), func(srv *deploy.DeployServer) error {
				snaps, err := srv.Service().ListSnapshots(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCREATED\tFILES\tDIR")
				for _, s := range snaps {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04:05"), len(s.Files), s.Dir)
				}
				return w.Flush()
			})
		},
	}
}

func newSnapshotsPruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove all but the newest snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), func(srv *deploy.DeployServer) error {
				removed, err := srv.Service().PruneSnapshots(cmd.Context(), keep)
				if err != nil {
					return err
				}
				for _, id := range removed {
					fmt.Fprintln(cmd.OutOrStdout(), "removed", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 5, "number of snapshots to keep")
	return cmd
}
