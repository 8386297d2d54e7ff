package main

import (
	"github.com/qiniu/quizops/internal/deploy"
	"github.com/qiniu/quizops/internal/deploy/model"
	"github.com/spf13/cobra"
)

func newDeployCmd() *cobra.Command {
	var (
		params     model.DeployParams
		noRollback bool
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Back up, transfer the bundle, restart the service and verify it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("no-rollback") {
				auto := !noRollback
				params.AutoRollback = &auto
			}
			return withServer(cmd.Context(), func(srv *deploy.DeployServer) error {
				result, err := srv.Service().Deploy(cmd.Context(), &params)
				if result != nil {
					if perr := printJSON(cmd, result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&params.Operator, "operator", defaultOperator(), "name recorded with the deployment")
	f.StringVar(&params.Strategy, "strategy", "", "transfer strategy: scp, sftp, local or manual (default from config)")
	f.BoolVar(&params.DryRun, "dry-run", false, "check sources and show the snapshot plan without changing the target")
	f.BoolVar(&params.SkipVerify, "skip-verify", false, "only check liveness after restart")
	f.BoolVar(&noRollback, "no-rollback", false, "leave the target as is when a step after transfer fails")
	return cmd
}
