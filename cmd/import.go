package main

import (
	"github.com/spf13/cobra"
)

var importFlags struct {
	file   string
	source string
	kind   string
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import scraped raw records from a CSV, JSON, or XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(importFlags.kind)
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Importer.ImportFile(cmd.Context(), importFlags.file, importFlags.source, kind)
		if err != nil {
			return err
		}
		cmd.Printf("read=%d inserted=%d skipped=%d\n", res.Read, res.Inserted, res.Skipped)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFlags.file, "file", "", "file to import (.csv, .json, .xlsx)")
	importCmd.Flags().StringVar(&importFlags.source, "source", "", "scraping source the records came from")
	importCmd.Flags().StringVar(&importFlags.kind, "kind", "", "default record kind when a row omits one")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("source")

	rootCmd.AddCommand(importCmd)
}
