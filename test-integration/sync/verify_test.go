package integration

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/modregistry/regsync/internal/engine"
	"github.com/modregistry/regsync/internal/verify"
	"github.com/modregistry/regsync/test-integration/sync/helpers"
)

var _ = Describe("Registry verification", Label("verify"), func() {
	var (
		tempDir string
		root    string
		forge   *helpers.ForgeTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("verify-test-")
		root = filepath.Join(tempDir, "registry")
		forge = helpers.NewForgeTestHelper()

		helpers.SeedRegistryTree(root, helpers.ModuleFixture{
			Name:         "widget",
			Repository:   "github:acme/widget",
			Versions:     []string{"1.0.0"},
			PeriodicPull: true,
		})
		forge.AddRelease("acme", "widget", helpers.PublishedRelease("widget", "1.0.0", releaseTime(0)))
		forge.AddRelease("acme", "widget", helpers.PublishedRelease("widget", "1.1.0", releaseTime(1)))
	})

	AfterEach(func() {
		forge.Close()
		cleanupTempDir(tempDir)
	})

	It("should find nothing wrong with a synchronized tree", func() {
		eng, store := newSyncEngine(root, "", forge)

		_, err := eng.Run(ctx, engine.RunOptions{DryRun: true})
		Expect(err).NotTo(HaveOccurred())

		findings, err := verify.Verify(ctx, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(findings).To(BeEmpty())
	})

	It("should report a tampered version entry", func() {
		eng, store := newSyncEngine(root, "", forge)

		_, err := eng.Run(ctx, engine.RunOptions{DryRun: true})
		Expect(err).NotTo(HaveOccurred())

		Expect(os.Remove(filepath.Join(root, "modules", "widget", "1.1.0", "MODULE.bazel"))).To(Succeed())

		findings, err := verify.Verify(ctx, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(findings).To(HaveLen(1))
		Expect(findings[0].Severity).To(Equal(verify.SeverityError))
		Expect(findings[0].Module).To(Equal("widget"))
		Expect(findings[0].Version).To(Equal("1.1.0"))
		Expect(findings[0].Message).To(ContainSubstring("MODULE.bazel"))
	})
})
