package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/waxworks/trackline/internal/model"
	"github.com/waxworks/trackline/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and edit the versioned waterfall configuration",
}

var rulesShowCmd = &cobra.Command{
	Use:   "show [field]",
	Short: "Show the current rule set, or one field's rule",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		set, err := env.Rules.GetSet(cmd.Context(), 0)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			rule, ok := set.Rules[args[0]]
			if !ok {
				return eris.Wrapf(rules.ErrUnknownField, "%s", args[0])
			}
			return printYAML(cmd, rule)
		}

		cmd.Printf("# config version %d\n", set.Version)
		return printYAML(cmd, set.Rules)
	},
}

var rulesUpdateFile string

var rulesUpdateCmd = &cobra.Command{
	Use:   "update <field>",
	Short: "Install a new rule for one field, allocating a new config version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(rulesUpdateFile)
		if err != nil {
			return eris.Wrapf(err, "read rule file %s", rulesUpdateFile)
		}
		var rule model.WaterfallRule
		if err := yaml.Unmarshal(data, &rule); err != nil {
			return eris.Wrap(err, "parse rule file")
		}

		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		version, err := env.Rules.UpdateRule(cmd.Context(), args[0], rule)
		if err != nil {
			return err
		}
		cmd.Printf("installed rule for %s as config version %d\n", args[0], version)
		return nil
	},
}

var rulesSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the version capturing the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		version, err := env.Rules.Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("config version %d\n", version)
		return nil
	},
}

var rulesSeedFile string

var rulesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Replace the whole rule set from a waterfall YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := rulesSeedFile
		if path == "" {
			path = cfg.Pipeline.RulesFile
		}
		ruleset, err := rules.LoadFile(path)
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		version, err := env.Rules.Seed(cmd.Context(), ruleset)
		if err != nil {
			return err
		}
		cmd.Printf("seeded %d field rules as config version %d\n", len(ruleset), version)
		return nil
	},
}

func printYAML(cmd *cobra.Command, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "marshal yaml")
	}
	cmd.Print(string(out))
	return nil
}

func init() {
	rulesUpdateCmd.Flags().StringVar(&rulesUpdateFile, "file", "", "YAML file holding the rule")
	_ = rulesUpdateCmd.MarkFlagRequired("file")
	rulesSeedCmd.Flags().StringVar(&rulesSeedFile, "file", "", "waterfall seed file (defaults to pipeline.rules_file)")

	rulesCmd.AddCommand(rulesShowCmd, rulesUpdateCmd, rulesSnapshotCmd, rulesSeedCmd)
	rootCmd.AddCommand(rulesCmd)
}
