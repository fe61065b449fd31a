package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered providers, their health, and rate limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		for _, desc := range env.Registry.List() {
			state := "enabled"
			if !desc.Enabled {
				state = "disabled"
			}
			cmd.Printf("%-16s %-8s %-8s rate=%.1f/s fields=%s\n",
				desc.Name, state, desc.Health, desc.RateLimitPerSecond,
				strings.Join(desc.SupportedFields, ","))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
