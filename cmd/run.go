package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/pipeline"
)

var runFlags struct {
	runType          string
	source           string
	kind             string
	after            string
	fields           []string
	records          []string
	configVersion    int64
	excludeProviders []string
	resume           string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start or resume an enrichment run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		if runFlags.resume != "" {
			run, err := env.Runner.Resume(ctx, runFlags.resume)
			if err != nil {
				return err
			}
			printRun(cmd, run)
			return nil
		}

		opts, err := buildRunOptions()
		if err != nil {
			return err
		}
		run, err := env.Runner.Start(ctx, opts)
		if err != nil {
			return err
		}
		printRun(cmd, run)
		return nil
	},
}

func buildRunOptions() (pipeline.Options, error) {
	kind, err := parseKind(runFlags.kind)
	if err != nil {
		return pipeline.Options{}, err
	}

	var after *time.Time
	if runFlags.after != "" {
		t, err := time.Parse(time.RFC3339, runFlags.after)
		if err != nil {
			return pipeline.Options{}, eris.Wrapf(err, "parse --after %q (RFC3339)", runFlags.after)
		}
		after = &t
	}

	runType := model.RunType(runFlags.runType)
	switch runType {
	case model.RunTypeFull, model.RunTypeIncremental, model.RunTypeReplay, "":
	default:
		return pipeline.Options{}, eris.Errorf("unknown run type %q (full, incremental, replay)", runFlags.runType)
	}

	var excluded map[string]bool
	if len(runFlags.excludeProviders) > 0 {
		excluded = make(map[string]bool, len(runFlags.excludeProviders))
		for _, name := range runFlags.excludeProviders {
			excluded[name] = true
		}
	}

	return pipeline.Options{
		Type: runType,
		Selector: model.RunSelector{
			Source:         runFlags.source,
			Kind:           kind,
			CollectedAfter: after,
			RecordIDs:      runFlags.records,
		},
		Fields:            runFlags.fields,
		ConfigVersion:     runFlags.configVersion,
		ExcludedProviders: excluded,
	}, nil
}

func printRun(cmd *cobra.Command, run *model.PipelineRun) {
	cmd.Printf("run %s  type=%s  config=v%d  status=%s\n",
		run.ID, run.Type, run.ConfigSnapshotVersion, run.Status)
	cmd.Printf("  processed=%d accepted=%d unresolved=%d provider_calls=%d record_errors=%d checkpoint=%d\n",
		run.Stats.Processed, run.Stats.Accepted, run.Stats.Unresolved,
		run.Stats.ProviderCalls, run.Stats.RecordErrors, run.Checkpoint)
	if run.Error != "" {
		cmd.Printf("  error: %s\n", run.Error)
	}
	if run.Status == model.RunStatusPartial {
		cmd.Println(fmt.Sprintf("  resume with: trackline run --resume %s", run.ID))
	}
}

func init() {
	runCmd.Flags().StringVar(&runFlags.runType, "type", "full", "run type: full, incremental, replay")
	runCmd.Flags().StringVar(&runFlags.source, "source", "", "only records scraped from this source")
	runCmd.Flags().StringVar(&runFlags.kind, "kind", "", "only records of this kind: track, playlist, artist")
	runCmd.Flags().StringVar(&runFlags.after, "after", "", "only records collected after this RFC3339 timestamp")
	runCmd.Flags().StringSliceVar(&runFlags.fields, "fields", nil, "limit enrichment to these fields")
	runCmd.Flags().StringSliceVar(&runFlags.records, "records", nil, "limit the run to these record ids")
	runCmd.Flags().Int64Var(&runFlags.configVersion, "config-version", 0, "pin the run to a rule snapshot version (0 = current)")
	runCmd.Flags().StringSliceVar(&runFlags.excludeProviders, "exclude-providers", nil, "skip these providers in every waterfall")
	runCmd.Flags().StringVar(&runFlags.resume, "resume", "", "resume a partial run by id")

	rootCmd.AddCommand(runCmd)
}
