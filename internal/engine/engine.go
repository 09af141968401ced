package engine

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks -source=engine.go Engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/modregistry/regsync/internal/logger"
	"github.com/modregistry/regsync/internal/materialize"
	"github.com/modregistry/regsync/internal/propose"
	"github.com/modregistry/regsync/internal/reconcile"
	"github.com/modregistry/regsync/internal/registry"
	"github.com/modregistry/regsync/internal/upstream"
)

const defaultConcurrency = 4

// RunOptions select and tune one synchronization run.
type RunOptions struct {
	// Modules names the modules to process. Empty means scheduled
	// semantics: every module opted into periodic pull. Naming modules
	// gives manual semantics: they are processed even without the
	// periodic-pull flag, though obsolete modules stay excluded.
	Modules []string

	// Concurrency bounds how many modules are processed in parallel.
	Concurrency int

	// DryRun registers versions locally but proposes nothing.
	DryRun bool

	// IncludePrereleases admits upstream prereleases.
	IncludePrereleases bool
}

// Engine drives the synchronization pipeline across modules.
type Engine interface {
	// Run processes the selected modules and reports the per-module
	// outcome. The returned error covers run-level failures only (the
	// registry could not be listed, the run was aborted); per-module
	// failures live in the report.
	Run(ctx context.Context, opts RunOptions) (*RunReport, error)
}

type defaultEngine struct {
	store        registry.Store
	upstream     upstream.Client
	materializer materialize.Materializer
	proposer     propose.Proposer
}

// NewDefaultEngine wires the pipeline together. The proposer may be
// nil only when every run will be a dry run.
func NewDefaultEngine(
	store registry.Store, client upstream.Client, m materialize.Materializer, p propose.Proposer,
) Engine {
	return &defaultEngine{
		store:        store,
		upstream:     client,
		materializer: m,
		proposer:     p,
	}
}

func (e *defaultEngine) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	if !opts.DryRun && e.proposer == nil {
		return nil, fmt.Errorf("proposing changes requires a configured registry remote")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	report := &RunReport{ID: uuid.NewString(), StartedAt: time.Now()}

	mods, preReports, err := e.selectModules(ctx, opts.Modules)
	if err != nil {
		return nil, err
	}
	report.Modules = preReports

	logger.Info("Starting sync run",
		"run_id", report.ID,
		"modules", len(mods),
		"explicit", len(opts.Modules) > 0,
		"dry_run", opts.DryRun)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	results := make([]ModuleReport, len(mods))
	for i, mod := range mods {
		g.Go(func() error {
			// An aborted run stops at module boundaries; modules
			// already past this point finish their pipeline.
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.runModule(gctx, mod, opts)
			return nil
		})
	}
	runErr := g.Wait()

	for _, rep := range results {
		if rep.Module != "" {
			report.Modules = append(report.Modules, rep)
		}
	}
	sort.Slice(report.Modules, func(i, j int) bool {
		return report.Modules[i].Module < report.Modules[j].Module
	})
	report.FinishedAt = time.Now()

	updated, upToDate, skipped, failed := report.counts()
	logger.Info("Sync run finished",
		"run_id", report.ID,
		"updated", updated,
		"up_to_date", upToDate,
		"skipped", skipped,
		"failed", failed)

	if runErr != nil {
		return report, fmt.Errorf("run aborted: %w", runErr)
	}
	return report, nil
}

// selectModules resolves the run's module set. Explicit names are
// looked up individually so an unknown or ineligible name shows up in
// the report instead of failing the run; a scheduled run lists the
// registry and keeps the modules opted into periodic pull.
func (e *defaultEngine) selectModules(ctx context.Context, names []string) ([]registry.Module, []ModuleReport, error) {
	if len(names) == 0 {
		all, err := e.store.ListModules(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list modules: %w", err)
		}
		var mods []registry.Module
		for _, mod := range all {
			if ok, reason := reconcile.Eligible(mod, false); !ok {
				logger.Infof("Skipping module %s: %s", mod.Name, reason)
				continue
			}
			mods = append(mods, mod)
		}
		return mods, nil, nil
	}

	var (
		mods    []registry.Module
		reports []ModuleReport
		seen    = make(map[string]struct{}, len(names))
	)
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		mod, err := e.store.GetModule(ctx, name)
		if err != nil {
			reports = append(reports, failedModuleReport(name, err))
			continue
		}
		if ok, reason := reconcile.Eligible(*mod, true); !ok {
			reports = append(reports, ModuleReport{
				Module:     name,
				Status:     StatusSkipped,
				SkipReason: reason,
			})
			continue
		}
		mods = append(mods, *mod)
	}
	return mods, reports, nil
}

// runModule executes one module's pipeline: diff known versions
// against upstream, materialize missing releases oldest first, propose
// what was registered. Failures never escape; they are folded into the
// returned report.
func (e *defaultEngine) runModule(ctx context.Context, mod registry.Module, opts RunOptions) ModuleReport {
	rep := ModuleReport{Module: mod.Name, Status: StatusUpToDate}

	repo, err := upstream.ParseRepository(mod.Metadata.Repository)
	if err != nil {
		return failedModuleReport(mod.Name, err)
	}

	releases, err := e.upstream.ListReleases(ctx, repo)
	if err != nil {
		return failedModuleReport(mod.Name, err)
	}

	missing := reconcile.Diff(mod.Name, mod.Metadata.Versions, releases, reconcile.Options{
		IncludePrereleases: opts.IncludePrereleases,
	})
	if len(missing) == 0 {
		logger.Infof("Module %s is up to date", mod.Name)
		return rep
	}

	// Oldest first. A failure stops the module so a newer version is
	// never registered ahead of an older missing one; versions already
	// written stay durable.
	entries := make([]*registry.VersionEntry, 0, len(missing))
	var failure error
	for _, rel := range missing {
		entry, err := e.materializer.Materialize(ctx, mod, rel)
		if err != nil {
			logger.Warnf("Module %s: version %s not registered: %v", mod.Name, rel.Version, err)
			failure = err
			break
		}
		logger.Infof("Module %s: registered version %s", mod.Name, entry.Version)
		entries = append(entries, entry)
		rep.NewVersions = append(rep.NewVersions, entry.Version)
	}

	if len(entries) > 0 && !opts.DryRun {
		result, err := e.proposer.Propose(ctx, mod, entries)
		if err != nil {
			logger.Warnf("Module %s: proposal not created: %v", mod.Name, err)
			if failure == nil {
				failure = err
			}
		} else {
			rep.Proposal = result
		}
	}

	switch {
	case failure == nil:
		rep.Status = StatusUpdated
	case len(entries) == 0:
		rep.Status = StatusFailed
	default:
		rep.Status = StatusPartiallyFailed
	}
	if failure != nil {
		rep.Failure = ClassifyFailure(failure)
		rep.Err = failure
	}
	return rep
}
