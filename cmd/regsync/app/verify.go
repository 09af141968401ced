package app

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/modregistry/regsync/internal/engine"
	"github.com/modregistry/regsync/internal/registry"
	"github.com/modregistry/regsync/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the registry tree for structural problems",
	Long: `Check the registry tree for structural problems.

Every module's metadata must validate, every listed version must have a
complete version directory, and every MODULE.bazel must declare the
registered version with a compatibility_level matching its major
component. Errors fail the command; warnings do not.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().String("config", "", "Path to configuration file (YAML format)")
	verifyCmd.Flags().String("registry", "", "Path to the local registry tree (overrides config)")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	registryPath, err := cmd.Flags().GetString("registry")
	if err != nil {
		return fmt.Errorf("failed to get registry flag: %w", err)
	}

	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	if registryPath == "" {
		registryPath = cfg.Registry.Path
	}

	store, err := registry.NewFileStore(registryPath)
	if err != nil {
		return err
	}

	findings, err := verify.Verify(cmd.Context(), store)
	if err != nil {
		return err
	}

	if len(findings) == 0 {
		fmt.Println("Registry verified: no findings.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Severity", "Module", "Version", "Path", "Finding")
	for _, f := range findings {
		if err := table.Append([]string{string(f.Severity), f.Module, f.Version, f.Path, f.Message}); err != nil {
			return fmt.Errorf("failed to render findings: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render findings: %w", err)
	}

	if engine.RunningInGitHubActions() {
		for _, f := range findings {
			fmt.Println(f.Annotation())
		}
	}

	if verify.HasErrors(findings) {
		// The findings table already explains the problem.
		cmd.SilenceUsage = true
		return fmt.Errorf("registry verification failed")
	}
	return nil
}
