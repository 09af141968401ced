package propose

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/modregistry/regsync/internal/logger"
)

const (
	cloneMaxFiles = 10 * 1000
	cloneMaxBytes = 100 * 1024 * 1024
)

// limitedMemFs returns an in-memory filesystem bounded for clones of
// untrusted size.
func limitedMemFs() billy.Filesystem {
	return &LimitedFs{
		Fs:            memfs.New(),
		MaxFiles:      cloneMaxFiles,
		TotalFileSize: cloneMaxBytes,
	}
}

// pushBranch clones the registry remote at the base branch into memory,
// overlays the given files, commits, and force-pushes the proposal
// branch. Returns false without pushing when the overlay leaves the
// base tree unchanged.
func (p *defaultProposer) pushBranch(ctx context.Context, branch string, files map[string][]byte, message string) (bool, error) {
	worktreeFs := limitedMemFs()
	// go-git wants separate filesystems for the storer and the checked
	// out files.
	storer := filesystem.NewStorage(limitedMemFs(), cache.NewObjectLRUDefault())

	cloneOpts := &git.CloneOptions{
		URL:           p.opts.Remote,
		ReferenceName: plumbing.NewBranchReferenceName(p.opts.BaseBranch),
		SingleBranch:  true,
		Auth:          p.gitAuth(),
		// No Depth: the in-process file transport cannot serve shallow
		// requests.
	}

	repo, err := git.CloneContext(ctx, storer, worktreeFs, cloneOpts)
	if err != nil {
		return false, fmt.Errorf("failed to clone %s: %w", p.opts.Remote, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}

	for path, content := range files {
		if err := util.WriteFile(wt.Filesystem, path, content, 0644); err != nil {
			return false, fmt.Errorf("failed to write %s: %w", path, err)
		}
		if _, err := wt.Add(path); err != nil {
			return false, fmt.Errorf("failed to stage %s: %w", path, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to read worktree status: %w", err)
	}
	if status.IsClean() {
		return false, nil
	}

	commit, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.opts.AuthorName,
			Email: p.opts.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	refSpec := config.RefSpec(fmt.Sprintf("+%s:%s",
		plumbing.NewBranchReferenceName(p.opts.BaseBranch),
		plumbing.NewBranchReferenceName(branch)))
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       p.gitAuth(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to push %s: %w", branch, err)
	}

	logger.Debugf("pushed %s at %s", branch, commit)
	return true, nil
}

// gitAuth maps the configured token to the transport credentials the
// hosting platform expects for token pushes. Anonymous when no token
// is set.
func (p *defaultProposer) gitAuth() transport.AuthMethod {
	if p.opts.Token == "" {
		return nil
	}
	return &githttp.BasicAuth{
		Username: "x-access-token",
		Password: p.opts.Token,
	}
}
