package cmd

import (
	"github.com/knowledgeforge/kbsync/pkg/util"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kbsync",
	Short: "A CLI tool for keeping a vector knowledge base in sync with its sources",
	Long: `kbsync reconciles an external catalog of content sources against a local
registry, acquires and chunks their content, and keeps a remote vector index
consistent with it using fingerprint-based change detection.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger := util.NewLogger(zerolog.ErrorLevel)
		logger.Fatal().Err(err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	logger := util.NewLogger(zerolog.ErrorLevel)
	err := godotenv.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("No .env file found")
	}
}
