package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/modregistry/regsync/internal/config"
	"github.com/modregistry/regsync/internal/engine"
	"github.com/modregistry/regsync/internal/logger"
	"github.com/modregistry/regsync/internal/materialize"
	"github.com/modregistry/regsync/internal/propose"
	"github.com/modregistry/regsync/internal/registry"
	"github.com/modregistry/regsync/internal/upstream"
)

var syncCmd = &cobra.Command{
	Use:   "sync [module...]",
	Short: "Synchronize registry modules with their upstream releases",
	Long: `Synchronize the registry with upstream releases.

Without arguments every module opted into periodic pull is processed.
Naming modules processes exactly those, whether or not they are opted
in; obsolete modules are always excluded.

Missing releases are registered in the local registry tree, oldest
first, and pushed as one change proposal per module. A module that is
already the subject of an open proposal has that proposal updated in
place instead of getting a second one.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format)")
	syncCmd.Flags().String("registry", "", "Path to the local registry tree (overrides config)")
	syncCmd.Flags().String("token", "", "Hosting platform token (overrides stored credentials)")
	syncCmd.Flags().Int("concurrency", 0, "Number of modules processed in parallel (overrides config)")
	syncCmd.Flags().Bool("dry-run", false, "Register versions locally without proposing changes")
	syncCmd.Flags().Bool("include-prereleases", false, "Consider upstream prereleases for registration")
}

type syncFlags struct {
	configPath         string
	registryPath       string
	token              string
	concurrency        int
	dryRun             bool
	includePrereleases bool
}

func getSyncFlags(cmd *cobra.Command) (syncFlags, error) {
	var (
		flags syncFlags
		err   error
	)
	if flags.configPath, err = cmd.Flags().GetString("config"); err != nil {
		return flags, fmt.Errorf("failed to get config flag: %w", err)
	}
	if flags.registryPath, err = cmd.Flags().GetString("registry"); err != nil {
		return flags, fmt.Errorf("failed to get registry flag: %w", err)
	}
	if flags.token, err = cmd.Flags().GetString("token"); err != nil {
		return flags, fmt.Errorf("failed to get token flag: %w", err)
	}
	if flags.concurrency, err = cmd.Flags().GetInt("concurrency"); err != nil {
		return flags, fmt.Errorf("failed to get concurrency flag: %w", err)
	}
	if flags.dryRun, err = cmd.Flags().GetBool("dry-run"); err != nil {
		return flags, fmt.Errorf("failed to get dry-run flag: %w", err)
	}
	if flags.includePrereleases, err = cmd.Flags().GetBool("include-prereleases"); err != nil {
		return flags, fmt.Errorf("failed to get include-prereleases flag: %w", err)
	}
	return flags, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flags, err := getSyncFlags(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfigOrDefault(flags.configPath)
	if err != nil {
		return err
	}
	registryPath := cfg.Registry.Path
	if flags.registryPath != "" {
		registryPath = flags.registryPath
	}

	store, err := registry.NewFileStore(registryPath)
	if err != nil {
		return err
	}

	token := resolveToken(ctx, flags.token)
	client, err := newUpstreamClient(cfg, token)
	if err != nil {
		return err
	}

	var proposer propose.Proposer
	if !flags.dryRun {
		proposer, err = newProposer(store, cfg, token)
		if err != nil {
			return err
		}
	}

	concurrency := cfg.Sync.GetConcurrency()
	if flags.concurrency > 0 {
		concurrency = flags.concurrency
	}

	eng := engine.NewDefaultEngine(store, client, materialize.NewDefaultMaterializer(client, store), proposer)
	report, err := eng.Run(ctx, engine.RunOptions{
		Modules:            args,
		Concurrency:        concurrency,
		DryRun:             flags.dryRun,
		IncludePrereleases: flags.includePrereleases || cfg.Upstream.IncludePrereleases,
	})
	if report != nil {
		if renderErr := report.Render(os.Stdout); renderErr != nil {
			logger.Errorf("Failed to render run report: %v", renderErr)
		}
		if engine.RunningInGitHubActions() {
			report.WriteAnnotations(os.Stdout)
		}
	}
	if err != nil {
		return err
	}

	if report.HasFailures() {
		// The report already explains the failures; no need for usage.
		cmd.SilenceUsage = true
		return fmt.Errorf("%d module(s) failed to synchronize", report.FailureCount())
	}
	return nil
}

func newUpstreamClient(cfg *config.Config, token string) (upstream.Client, error) {
	opts := []upstream.Option{
		upstream.WithRequestTimeout(cfg.Upstream.GetRequestTimeout()),
		upstream.WithRetryPolicy(upstream.RetryPolicy{
			MaxAttempts:     cfg.Upstream.Retry.GetMaxAttempts(),
			InitialInterval: cfg.Upstream.Retry.GetInitialInterval(),
			MaxInterval:     cfg.Upstream.Retry.GetMaxInterval(),
		}),
	}
	if cfg.Upstream.APIBaseURL != "" {
		opts = append(opts, upstream.WithBaseURL(cfg.Upstream.APIBaseURL))
	}
	if cfg.Upstream.DownloadBaseURL != "" {
		opts = append(opts, upstream.WithDownloadBaseURL(cfg.Upstream.DownloadBaseURL))
	}
	if token != "" {
		opts = append(opts, upstream.WithToken(token))
	}

	client, err := upstream.NewDefaultClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}
	return client, nil
}

func newProposer(store registry.Store, cfg *config.Config, token string) (propose.Proposer, error) {
	if cfg.Registry.Remote == "" {
		return nil, fmt.Errorf("registry.remote must be configured to propose changes (use --dry-run to skip proposing)")
	}
	owner, repo, err := cfg.Registry.OwnerRepo()
	if err != nil {
		return nil, err
	}

	return propose.NewDefaultProposer(store, propose.Options{
		Remote:       cfg.Registry.Remote,
		Owner:        owner,
		Repo:         repo,
		BaseBranch:   cfg.Proposal.GetBaseBranch(),
		BranchPrefix: cfg.Proposal.GetBranchPrefix(),
		AuthorName:   cfg.Proposal.GetAuthorName(),
		AuthorEmail:  cfg.Proposal.GetAuthorEmail(),
		Token:        token,
		// The registry is hosted on the same forge the upstream
		// projects live on.
		APIBaseURL:     cfg.Upstream.APIBaseURL,
		RequestTimeout: cfg.Upstream.GetRequestTimeout(),
	})
}
