package integration

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/modregistry/regsync/internal/engine"
	"github.com/modregistry/regsync/internal/materialize"
	"github.com/modregistry/regsync/internal/propose"
	"github.com/modregistry/regsync/internal/registry"
	"github.com/modregistry/regsync/internal/upstream"
	"github.com/modregistry/regsync/test-integration/sync/helpers"
)

// newSyncEngine wires the real engine, store, upstream client and
// proposer against the fake forge. An empty remote leaves the proposer
// unset, which is only valid for dry runs.
func newSyncEngine(root, remote string, forge *helpers.ForgeTestHelper) (engine.Engine, registry.Store) {
	store, err := registry.NewFileStore(root)
	Expect(err).NotTo(HaveOccurred())

	client, err := upstream.NewDefaultClient(
		upstream.WithBaseURL(forge.URL()),
		upstream.WithDownloadBaseURL(forge.URL()),
		upstream.WithRetryPolicy(upstream.RetryPolicy{
			MaxAttempts:     1,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		}),
	)
	Expect(err).NotTo(HaveOccurred())

	var proposer propose.Proposer
	if remote != "" {
		proposer, err = propose.NewDefaultProposer(store, propose.Options{
			Remote:     remote,
			Owner:      "example",
			Repo:       "registry",
			BaseBranch: "main",
			APIBaseURL: forge.URL(),
		})
		Expect(err).NotTo(HaveOccurred())
	}

	materializer := materialize.NewDefaultMaterializer(client, store)
	return engine.NewDefaultEngine(store, client, materializer, proposer), store
}

// moduleRow finds a module's row in the run report.
func moduleRow(report *engine.RunReport, name string) engine.ModuleReport {
	for _, row := range report.Modules {
		if row.Module == name {
			return row
		}
	}
	Fail("no report row for module " + name)
	return engine.ModuleReport{}
}

func releaseTime(n int) time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour)
}

var _ = Describe("Release synchronization", Label("sync"), func() {
	var (
		tempDir string
		root    string
		remote  string
		forge   *helpers.ForgeTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("sync-test-")
		root = filepath.Join(tempDir, "registry")
		remote = filepath.Join(tempDir, "remote")
		forge = helpers.NewForgeTestHelper()
	})

	AfterEach(func() {
		forge.Close()
		cleanupTempDir(tempDir)
	})

	Context("when a tracked module gains upstream releases", func() {
		BeforeEach(func() {
			helpers.SeedRegistryTree(root, helpers.ModuleFixture{
				Name:         "widget",
				Repository:   "github:acme/widget",
				Versions:     []string{"1.0.0"},
				PeriodicPull: true,
			})
			helpers.SeedRemoteRepository(remote, helpers.RegistryTreeFiles(root))

			forge.AddRelease("acme", "widget", helpers.PublishedRelease("widget", "1.0.0", releaseTime(0)))
			forge.AddRelease("acme", "widget", helpers.PublishedRelease("widget", "1.1.0", releaseTime(1)))
			forge.AddRelease("acme", "widget", helpers.PublishedRelease("widget", "1.2.0", releaseTime(2)))

			draft := helpers.PublishedRelease("widget", "9.9.9", releaseTime(3))
			draft.Draft = true
			forge.AddRelease("acme", "widget", draft)

			candidate := helpers.PublishedRelease("widget", "2.0.0-rc.1", releaseTime(4))
			candidate.Prerelease = true
			forge.AddRelease("acme", "widget", candidate)
		})

		It("should register the missing versions and open one proposal", func() {
			eng, store := newSyncEngine(root, remote, forge)

			report, err := eng.Run(ctx, engine.RunOptions{})
			Expect(err).NotTo(HaveOccurred())

			row := moduleRow(report, "widget")
			Expect(row.Status).To(Equal(engine.StatusUpdated))
			Expect(row.NewVersions).To(Equal([]string{"1.1.0", "1.2.0"}))
			Expect(row.Proposal).NotTo(BeNil())
			Expect(row.Proposal.State).To(Equal(propose.StateOpen))

			known, err := store.KnownVersions(ctx, "widget")
			Expect(err).NotTo(HaveOccurred())
			Expect(known).To(Equal([]string{"1.2.0", "1.1.0", "1.0.0"}))

			sourceJSON, err := os.ReadFile(filepath.Join(root, "modules", "widget", "1.1.0", "source.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(sourceJSON)).To(ContainSubstring(helpers.Digest(helpers.Archive("widget", "1.1.0"))))
			Expect(string(sourceJSON)).To(ContainSubstring(forge.URL() + "/acme/widget/archive/refs/tags/v1.1.0.tar.gz"))
			Expect(string(sourceJSON)).To(ContainSubstring(`"strip_prefix": "widget-1.1.0"`))

			Expect(forge.CreateCount()).To(Equal(1))
			record, ok := forge.OpenProposal("example", "update-widget")
			Expect(ok).To(BeTrue())
			Expect(record.Title).To(Equal("widget: add versions 1.1.0, 1.2.0"))
			Expect(row.Proposal.Number).To(Equal(record.Number))

			Expect(helpers.RemoteHasBranch(remote, "update-widget")).To(BeTrue())
			branchMeta := helpers.BranchFileContent(remote, "update-widget", "modules/widget/metadata.json")
			Expect(branchMeta).To(ContainSubstring(`"1.2.0"`))
			Expect(branchMeta).To(ContainSubstring(`"1.1.0"`))
		})

		It("should report up to date on the second run", func() {
			eng, _ := newSyncEngine(root, remote, forge)

			_, err := eng.Run(ctx, engine.RunOptions{})
			Expect(err).NotTo(HaveOccurred())

			report, err := eng.Run(ctx, engine.RunOptions{})
			Expect(err).NotTo(HaveOccurred())

			row := moduleRow(report, "widget")
			Expect(row.Status).To(Equal(engine.StatusUpToDate))
			Expect(row.NewVersions).To(BeEmpty())
			Expect(row.Proposal).To(BeNil())
			Expect(forge.CreateCount()).To(Equal(1))
		})

		It("should absorb later releases into the open proposal", func() {
			eng, _ := newSyncEngine(root, remote, forge)

			first, err := eng.Run(ctx, engine.RunOptions{})
			Expect(err).NotTo(HaveOccurred())
			firstNumber := moduleRow(first, "widget").Proposal.Number

			forge.AddRelease("acme", "widget", helpers.PublishedRelease("widget", "1.3.0", releaseTime(5)))

			second, err := eng.Run(ctx, engine.RunOptions{})
			Expect(err).NotTo(HaveOccurred())

			row := moduleRow(second, "widget")
			Expect(row.Status).To(Equal(engine.StatusUpdated))
			Expect(row.NewVersions).To(Equal([]string{"1.3.0"}))
			Expect(row.Proposal.State).To(Equal(propose.StateMergedIntoExisting))
			Expect(row.Proposal.Number).To(Equal(firstNumber))
			Expect(forge.CreateCount()).To(Equal(1))

			branchMeta := helpers.BranchFileContent(remote, "update-widget", "modules/widget/metadata.json")
			Expect(branchMeta).To(ContainSubstring(`"1.3.0"`))
		})

		It("should admit prereleases only when asked", func() {
			eng, store := newSyncEngine(root, "", forge)

			report, err := eng.Run(ctx, engine.RunOptions{DryRun: true, IncludePrereleases: true})
			Expect(err).NotTo(HaveOccurred())

			row := moduleRow(report, "widget")
			Expect(row.NewVersions).To(Equal([]string{"1.1.0", "1.2.0", "2.0.0-rc.1"}))

			known, err := store.KnownVersions(ctx, "widget")
			Expect(err).NotTo(HaveOccurred())
			Expect(known).To(Equal([]string{"2.0.0-rc.1", "1.2.0", "1.1.0", "1.0.0"}))
		})
	})

	Context("when the module file declaration is stale", func() {
		BeforeEach(func() {
			helpers.SeedRegistryTree(root, helpers.ModuleFixture{
				Name:         "widget",
				Repository:   "github:acme/widget",
				Versions:     []string{"1.0.0"},
				PeriodicPull: true,
			})

			forge.AddRelease("acme", "widget", helpers.PublishedRelease("widget", "1.0.0", releaseTime(0)))
			forge.AddRelease("acme", "widget", helpers.ReleaseFixture{
				Tag:         "v1.1.0",
				PublishedAt: releaseTime(1),
				ModuleBazel: helpers.ModuleBazel("widget", "0.0.0", 1),
				Archive:     helpers.Archive("widget", "1.1.0"),
			})
		})

		It("should stamp the declared version and record the patch", func() {
			eng, _ := newSyncEngine(root, "", forge)

			report, err := eng.Run(ctx, engine.RunOptions{DryRun: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(moduleRow(report, "widget").Status).To(Equal(engine.StatusUpdated))

			versionDir := filepath.Join(root, "modules", "widget", "1.1.0")

			moduleFile, err := os.ReadFile(filepath.Join(versionDir, "MODULE.bazel"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(moduleFile)).To(ContainSubstring(`version = "1.1.0"`))

			patch, err := os.ReadFile(filepath.Join(versionDir, "patches", "module_dot_bazel_version.patch"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(patch)).To(ContainSubstring(`-    version = "0.0.0"`))
			Expect(string(patch)).To(ContainSubstring(`+    version = "1.1.0"`))

			sourceJSON, err := os.ReadFile(filepath.Join(versionDir, "source.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(sourceJSON)).To(ContainSubstring(`"patch_strip": 1`))
			Expect(string(sourceJSON)).To(ContainSubstring("module_dot_bazel_version.patch"))
		})
	})

	Context("when one tracked module's upstream disappears", func() {
		BeforeEach(func() {
			helpers.SeedRegistryTree(root,
				helpers.ModuleFixture{
					Name:         "gadget",
					Repository:   "github:acme/gadget",
					Versions:     []string{"1.0.0"},
					PeriodicPull: true,
				},
				helpers.ModuleFixture{
					Name:         "widget",
					Repository:   "github:acme/widget",
					Versions:     []string{"1.0.0"},
					PeriodicPull: true,
				},
			)
			helpers.SeedRemoteRepository(remote, helpers.RegistryTreeFiles(root))

			// Only widget exists on the forge; gadget's repository is
			// gone upstream.
			forge.AddRelease("acme", "widget", helpers.PublishedRelease("widget", "1.0.0", releaseTime(0)))
			forge.AddRelease("acme", "widget", helpers.PublishedRelease("widget", "1.1.0", releaseTime(1)))
		})

		It("should isolate the failure to the vanished module", func() {
			eng, store := newSyncEngine(root, remote, forge)

			report, err := eng.Run(ctx, engine.RunOptions{Concurrency: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.HasFailures()).To(BeTrue())

			gadget := moduleRow(report, "gadget")
			Expect(gadget.Status).To(Equal(engine.StatusFailed))
			Expect(gadget.Failure).To(Equal(engine.FailureNotFound))

			widget := moduleRow(report, "widget")
			Expect(widget.Status).To(Equal(engine.StatusUpdated))
			Expect(widget.NewVersions).To(Equal([]string{"1.1.0"}))

			known, err := store.KnownVersions(ctx, "widget")
			Expect(err).NotTo(HaveOccurred())
			Expect(known).To(Equal([]string{"1.1.0", "1.0.0"}))
		})
	})
})
