package helpers

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/onsi/gomega"
)

// SeedRegistryTree writes a registry checkout containing the given
// modules. Every listed version gets a complete version directory.
func SeedRegistryTree(root string, modules ...ModuleFixture) {
	gomega.Expect(os.MkdirAll(filepath.Join(root, "modules"), 0750)).To(gomega.Succeed())

	for _, mod := range modules {
		dir := filepath.Join(root, "modules", mod.Name)
		gomega.Expect(os.MkdirAll(dir, 0750)).To(gomega.Succeed())
		writeFile(filepath.Join(dir, "metadata.json"), MetadataJSON(mod))

		owner, repo := repoParts(mod.Repository)
		for _, version := range mod.Versions {
			verDir := filepath.Join(dir, version)
			gomega.Expect(os.MkdirAll(verDir, 0750)).To(gomega.Succeed())
			writeFile(filepath.Join(verDir, "MODULE.bazel"), ModuleBazel(mod.Name, version, MajorOf(version)))
			writeFile(filepath.Join(verDir, "source.json"), SourceJSON(owner, repo, version))
		}
	}
}

// RegistryTreeFiles collects every file under the tree's modules/
// directory, keyed by slash-separated registry-relative path.
func RegistryTreeFiles(root string) map[string][]byte {
	files := make(map[string][]byte)
	err := filepath.WalkDir(filepath.Join(root, "modules"), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return files
}

// SeedRemoteRepository initializes a bare repository at dir whose main
// branch carries the given files. The directory path serves as the
// push remote for proposals.
func SeedRemoteRepository(dir string, files map[string][]byte) {
	_, err := git.PlainInit(dir, true)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	workDir, err := os.MkdirTemp("", "regsync-remote-seed-*")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() { _ = os.RemoveAll(workDir) }()

	work, err := git.PlainInit(workDir, false)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	wt, err := work.Worktree()
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	for path, content := range files {
		full := filepath.Join(workDir, filepath.FromSlash(path))
		gomega.Expect(os.MkdirAll(filepath.Dir(full), 0750)).To(gomega.Succeed())
		gomega.Expect(os.WriteFile(full, content, 0600)).To(gomega.Succeed())
		_, err = wt.Add(path)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
	}

	_, err = wt.Commit("seed registry", &git.CommitOptions{
		Author: &object.Signature{Name: "seed", Email: "seed@localhost", When: time.Now()},
	})
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	_, err = work.CreateRemote(&config.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{dir},
	})
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	err = work.Push(&git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []config.RefSpec{"refs/heads/master:refs/heads/main"},
	})
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
}

// BranchFileContent reads one file from a branch tip in the bare
// remote.
func BranchFileContent(remoteDir, branch, path string) string {
	repo, err := git.PlainOpen(remoteDir)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	commit, err := repo.CommitObject(ref.Hash())
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	file, err := commit.File(path)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	content, err := file.Contents()
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return content
}

// RemoteHasBranch reports whether the bare remote carries the branch.
func RemoteHasBranch(remoteDir, branch string) bool {
	repo, err := git.PlainOpen(remoteDir)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	_, err = repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	return err == nil
}

func writeFile(path string, content []byte) {
	gomega.Expect(os.WriteFile(path, content, 0600)).To(gomega.Succeed())
}

// repoParts splits a metadata repository entry into its owner and
// repository components.
func repoParts(repository string) (string, string) {
	rest := strings.TrimPrefix(repository, "github:")
	parts := strings.SplitN(rest, "/", 2)
	gomega.Expect(parts).To(gomega.HaveLen(2))
	return parts[0], parts[1]
}
