// Package commands implements the docstream CLI.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docstream",
	Short: "Document ingestion, extraction, and summarization service",
	Long: `Docstream ingests PDF documents through uploads and object-store
discovery, extracts their text through a layout-analysis service, and
generates summaries. The api and worker subcommands run the two halves
of the service; migrate prepares the database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine; explicit env vars still apply.
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
