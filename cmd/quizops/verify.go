package main

import (
	"fmt"
	"time"

	"github.com/qiniu/quizops/internal/deploy"
	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run the four verification probes against the running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), func(srv *deploy.DeployServer) error {
				probes, err := srv.Service().Verify(cmd.Context())
				for _, p := range probes {
					mark := "ok"
					if !p.OK {
						mark = "FAIL"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-4s %3d %8s  %s\n", p.Name, mark, p.StatusCode, p.Duration.Round(time.Millisecond), p.Detail)
				}
				return err
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show instance count and liveness of the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), func(srv *deploy.DeployServer) error {
				st, err := srv.Service().Status(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}
}

func newLogsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent service logs from the supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), func(srv *deploy.DeployServer) error {
				out, err := srv.Service().Logs(cmd.Context(), lines)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "number of log lines")
	return cmd
}
