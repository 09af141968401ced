// Package app provides the entry point for the regsync command line tool.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modregistry/regsync/internal/config"
	"github.com/modregistry/regsync/internal/logger"
	"github.com/modregistry/regsync/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "regsync",
	DisableAutoGenTag: true,
	Short:             "Keep a module registry in sync with upstream releases",
	Long: `regsync keeps a source registry in sync with the upstream projects it
tracks: it diffs each module's registered versions against the
releases published upstream, registers what is missing and opens one
change proposal per module.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for regsync.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			logger.Errorf("Error retrieving format flag: %v", err)
			return
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				logger.Errorf("Error formatting version info as JSON: %v", err)
				return
			}
			fmt.Println(string(output))
		} else {
			fmt.Printf("regsync %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}

// loadConfigOrDefault loads the named config file. With no explicit
// path it falls back to the user-level file, and when that does not
// exist either, to built-in defaults pointing at the current directory.
func loadConfigOrDefault(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if path == "" {
		return config.NewDefault(), nil
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debugf("Loaded configuration from %s", path)
	return cfg, nil
}
