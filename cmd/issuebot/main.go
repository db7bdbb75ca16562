package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/issuebot/issuebot/internal/config"
)

// Set via -ldflags at release build time.
var (
	version   = "0.1.0"
	buildTime = "unknown"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "issuebot",
		Short: "Autonomous issue resolution for GitHub repositories",
		Long: `issuebot watches repositories for agent-ready issues, drives a
code-generation tool through implement/review/CI iterations on a
dedicated branch, and merges or escalates the result.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default ~/.issuebot/config.yaml)")

	rootCmd.AddCommand(
		newStartCmd(),
		newStatusCmd(),
		newReposCmd(),
		newDashboardCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configPath resolves the config file location, honoring --config.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}
