package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/home"
	"github.com/jackzampolin/underwrite/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "underwrite",
	Short: "Insurance submission pipeline with LLM-powered underwriting stages",
	Long: `Underwrite turns broker emails into quotes. Each email becomes a document
that moves through a fixed sequence of underwriting stages:

  - Extract client and coverage details from the email
  - Classify the industry and look up a base rate
  - Estimate revenue and compute the base premium
  - Apply premium modifiers and check underwriting authority
  - Describe coverage, assess risk and draft the broker reply

Underwriters watch the dashboard, correct any stage output and rerun
from there.`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.underwrite/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "underwrite home directory (default: ~/.underwrite)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or jsonl",
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// getHome returns the home directory, creating it if needed.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// configPath is --config, else the home config file when there is one.
// Empty means viper searches its default locations.
func configPath(h *home.Dir) string {
	if cfgFile == "" && h.ConfigExists() {
		return h.ConfigPath()
	}
	return cfgFile
}
