package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/waxworks/trackline/internal/model"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Queue and execute re-enrichment of historical records",
}

var replaySubmitFlags struct {
	records       []string
	fields        []string
	configVersion int64
	reason        string
	priority      int
}

var replaySubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a replay request",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "replay")
		if err != nil {
			return err
		}
		defer env.Close()

		id, err := env.Replay.Submit(cmd.Context(), model.ReplayRequest{
			TargetRecordIDs: replaySubmitFlags.records,
			Fields:          replaySubmitFlags.fields,
			ConfigVersion:   replaySubmitFlags.configVersion,
			Reason:          replaySubmitFlags.reason,
			Priority:        replaySubmitFlags.priority,
		})
		if err != nil {
			return err
		}
		cmd.Printf("replay %s queued (%d records)\n", id, len(replaySubmitFlags.records))
		return nil
	},
}

var replayWorkCmd = &cobra.Command{
	Use:   "work",
	Short: "Process queued replay requests until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "replay")
		if err != nil {
			return err
		}
		defer env.Close()

		poll, err := time.ParseDuration(cfg.Replay.PollInterval)
		if err != nil {
			return eris.Wrapf(err, "parse replay.poll_interval %q", cfg.Replay.PollInterval)
		}
		return env.Replay.Work(ctx, poll)
	},
}

func init() {
	replaySubmitCmd.Flags().StringSliceVar(&replaySubmitFlags.records, "records", nil, "raw record ids to re-enrich")
	replaySubmitCmd.Flags().StringSliceVar(&replaySubmitFlags.fields, "fields", nil, "limit the replay to these fields")
	replaySubmitCmd.Flags().Int64Var(&replaySubmitFlags.configVersion, "config-version", 0, "pin the replay to a rule snapshot version (0 = current)")
	replaySubmitCmd.Flags().StringVar(&replaySubmitFlags.reason, "reason", "", "why this replay is needed")
	replaySubmitCmd.Flags().IntVar(&replaySubmitFlags.priority, "priority", 0, "queue priority (higher first)")
	_ = replaySubmitCmd.MarkFlagRequired("records")

	replayCmd.AddCommand(replaySubmitCmd, replayWorkCmd)
	rootCmd.AddCommand(replayCmd)
}
