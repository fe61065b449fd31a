package main

import (
	"github.com/spf13/cobra"

	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/store"
)

var runsFlags struct {
	status string
	limit  int
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List enrichment runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Store.ListRuns(cmd.Context(), store.RunFilter{
			Status: model.RunStatus(runsFlags.status),
			Limit:  runsFlags.limit,
		})
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			cmd.Println("no runs")
			return nil
		}
		for _, run := range runs {
			cmd.Printf("%s  %-11s %-9s v%-3d started=%s processed=%d\n",
				run.ID, run.Type, run.Status, run.ConfigSnapshotVersion,
				run.StartedAt.Format("2006-01-02 15:04:05"), run.Stats.Processed)
		}
		return nil
	},
}

var runsStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show one run in detail, including its provenance volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Store.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printRun(cmd, run)

		attempts, err := env.Store.ListAttempts(cmd.Context(), store.AttemptFilter{RunID: run.ID})
		if err != nil {
			return err
		}
		accepted := 0
		for _, a := range attempts {
			if a.Accepted {
				accepted++
			}
		}
		cmd.Printf("  attempts=%d accepted=%d\n", len(attempts), accepted)
		if run.CompletedAt != nil {
			cmd.Printf("  completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsFlags.status, "status", "", "filter by status: running, partial, completed, failed")
	runsCmd.Flags().IntVar(&runsFlags.limit, "limit", 20, "max runs to list")
	runsCmd.AddCommand(runsStatusCmd)
	rootCmd.AddCommand(runsCmd)
}
