package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/qiniu/quizops/internal/deploy"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/qiniu/quizops/internal/deploy/snapshot"
	"github.com/spf13/cobra"
)

func newRollbackCmd() *cobra.Command {
	var (
		operator string
		pick     bool
	)
	cmd := &cobra.Command{
		Use:   "rollback [snapshot-id]",
		Short: "Restore a snapshot, restart the service and check liveness",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := snapshot.Latest
			if len(args) == 1 {
				id = args[0]
			}
			return withServer(cmd.Context(), func(srv *deploy.DeployServer) error {
				if pick && len(args) == 0 {
					chosen, err := pickSnapshot(cmd, srv)
					if err != nil {
						return err
					}
					id = chosen
				}
				result, err := srv.Service().Rollback(cmd.Context(), &model.RollbackParams{
					Operator:   operator,
					SnapshotID: id,
				})
				if result != nil {
					if perr := printJSON(cmd, result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", defaultOperator(), "name recorded with the rollback")
	cmd.Flags().BoolVarP(&pick, "interactive", "i", false, "choose the snapshot from a list")
	return cmd
}

func pickSnapshot(cmd *cobra.Command, srv *deploy.DeployServer) (string, error) {
	snaps, err := srv.Service().ListSnapshots(cmd.Context())
	if err != nil {
		return "", err
	}
	if len(snaps) == 0 {
		return "", snapshot.ErrSnapshotNotFound
	}
	options := make([]huh.Option[string], 0, len(snaps))
	for _, s := range snaps {
		label := fmt.Sprintf("%s  (%d files, %s)", s.ID, len(s.Files), s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		options = append(options, huh.NewOption(label, s.ID))
	}

	id := snaps[0].ID
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Roll back to which snapshot?").
			Options(options...).
			Value(&id),
	))
	if err := form.RunWithContext(cmd.Context()); err != nil {
		return "", err
	}
	return id, nil
}
