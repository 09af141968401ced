package propose

//go:generate mockgen -destination=mocks/mock_proposer.go -package=mocks -source=proposer.go Proposer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modregistry/regsync/internal/logger"
	"github.com/modregistry/regsync/internal/registry"
)

// State is the proposal outcome for one module in one run.
type State string

const (
	// StateOpen means a new proposal was created.
	StateOpen State = "open"

	// StateMergedIntoExisting means an open proposal already existed
	// and now carries the updated branch.
	StateMergedIntoExisting State = "merged-into-existing"

	// StateUnchanged means the remote registry already contained the
	// staged entries, so there was nothing to propose.
	StateUnchanged State = "unchanged"
)

// Result describes what happened to a module's proposal.
type Result struct {
	Module string
	Branch string
	State  State
	Number int
	URL    string
}

// Proposer lands a module's newly registered versions as a reviewable
// change on the hosting platform.
type Proposer interface {
	// FindOpen returns the open proposal for the module, or nil when
	// none is open.
	FindOpen(ctx context.Context, module string) (*Proposal, error)

	// Propose pushes the module's registry files to its proposal
	// branch and makes sure exactly one open proposal carries them.
	// Entries are the versions registered by this run, oldest first.
	Propose(ctx context.Context, mod registry.Module, entries []*registry.VersionEntry) (*Result, error)
}

// Options configure the proposer. Remote, Owner and Repo are required.
type Options struct {
	// Remote is the registry repository URL pushes go to.
	Remote string

	// Owner and Repo identify the hosting project for the proposal
	// API.
	Owner string
	Repo  string

	// BaseBranch is the branch proposals target.
	BaseBranch string

	// BranchPrefix prefixes the per-module proposal branch,
	// e.g. "update-" yields "update-widget".
	BranchPrefix string

	// AuthorName and AuthorEmail sign the proposal commits.
	AuthorName  string
	AuthorEmail string

	// Token authenticates pushes and API calls. Empty means anonymous,
	// which only works against local test remotes.
	Token string

	// APIBaseURL overrides the hosting API endpoint.
	APIBaseURL string

	// RequestTimeout bounds each API request.
	RequestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaseBranch == "" {
		o.BaseBranch = "main"
	}
	if o.BranchPrefix == "" {
		o.BranchPrefix = "update-"
	}
	if o.AuthorName == "" {
		o.AuthorName = "regsync"
	}
	if o.AuthorEmail == "" {
		o.AuthorEmail = "regsync@localhost"
	}
	if o.APIBaseURL == "" {
		o.APIBaseURL = defaultAPIBaseURL
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	return o
}

type defaultProposer struct {
	store registry.Store
	opts  Options
	api   *prClient
}

// NewDefaultProposer creates a Proposer that pushes branches with
// go-git and manages proposals through the pull request API.
func NewDefaultProposer(store registry.Store, opts Options) (Proposer, error) {
	if opts.Remote == "" {
		return nil, fmt.Errorf("proposer requires a registry remote")
	}
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("proposer requires the hosting owner and repository")
	}
	opts = opts.withDefaults()
	return &defaultProposer{
		store: store,
		opts:  opts,
		api:   newPRClient(opts.APIBaseURL, opts.Token, opts.RequestTimeout),
	}, nil
}

func (p *defaultProposer) branchFor(module string) string {
	return p.opts.BranchPrefix + module
}

func (p *defaultProposer) FindOpen(ctx context.Context, module string) (*Proposal, error) {
	prop, err := p.api.findOpen(ctx, p.opts.Owner, p.opts.Repo, p.branchFor(module))
	if err != nil {
		return nil, fmt.Errorf("%w: querying open proposal for %s: %v", ErrProposal, module, err)
	}
	return prop, nil
}

func (p *defaultProposer) Propose(ctx context.Context, mod registry.Module, entries []*registry.VersionEntry) (*Result, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no staged entries for %s", ErrProposal, mod.Name)
	}

	newVersions := make([]string, 0, len(entries))
	for _, entry := range entries {
		newVersions = append(newVersions, entry.Version)
	}

	// The branch carries the module's complete local state, not just
	// this run's entries, so an unmerged earlier proposal is absorbed
	// instead of leaving the branch's metadata pointing at missing
	// version directories.
	known, err := p.store.KnownVersions(ctx, mod.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProposal, mod.Name, err)
	}
	files, err := p.store.ModuleFiles(ctx, mod.Name, known)
	if err != nil {
		return nil, fmt.Errorf("%w: collecting files for %s: %v", ErrProposal, mod.Name, err)
	}

	branch := p.branchFor(mod.Name)
	title := proposalTitle(mod.Name, newVersions)

	pushed, err := p.pushBranch(ctx, branch, files, title)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProposal, mod.Name, err)
	}

	existing, err := p.FindOpen(ctx, mod.Name)
	if err != nil {
		return nil, err
	}

	result := &Result{Module: mod.Name, Branch: branch}

	if !pushed {
		if existing != nil {
			result.State = StateMergedIntoExisting
			result.Number = existing.Number
			result.URL = existing.URL
			return result, nil
		}
		logger.Warnf("module %s: versions %s already on %s, nothing to propose",
			mod.Name, strings.Join(newVersions, ", "), p.opts.BaseBranch)
		result.State = StateUnchanged
		return result, nil
	}

	if existing != nil {
		logger.Infof("module %s: updated open proposal #%d with versions %s",
			mod.Name, existing.Number, strings.Join(newVersions, ", "))
		result.State = StateMergedIntoExisting
		result.Number = existing.Number
		result.URL = existing.URL
		return result, nil
	}

	created, err := p.api.create(ctx, p.opts.Owner, p.opts.Repo, newProposal{
		Title:               title,
		Head:                branch,
		Base:                p.opts.BaseBranch,
		Body:                proposalBody(mod, entries),
		MaintainerCanModify: true,
	})
	if err != nil {
		// The branch is already pushed. A concurrent run may have
		// opened the proposal between the query and the create.
		if open, findErr := p.FindOpen(ctx, mod.Name); findErr == nil && open != nil {
			result.State = StateMergedIntoExisting
			result.Number = open.Number
			result.URL = open.URL
			return result, nil
		}
		return nil, fmt.Errorf("%w: creating proposal for %s: %v", ErrProposal, mod.Name, err)
	}

	logger.Infof("module %s: opened proposal #%d (%s)", mod.Name, created.Number, created.URL)
	result.State = StateOpen
	result.Number = created.Number
	result.URL = created.URL
	return result, nil
}

func proposalTitle(module string, versions []string) string {
	if len(versions) == 1 {
		return fmt.Sprintf("%s: add version %s", module, versions[0])
	}
	return fmt.Sprintf("%s: add versions %s", module, strings.Join(versions, ", "))
}

func proposalBody(mod registry.Module, entries []*registry.VersionEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Registers %d new version(s) of `%s`:\n\n", len(entries), mod.Name)
	for _, entry := range entries {
		fmt.Fprintf(&b, "- `%s` (%s)\n", entry.Version, entry.Source.URL)
	}
	b.WriteString("\nOpened automatically by regsync.\n")
	return b.String()
}
