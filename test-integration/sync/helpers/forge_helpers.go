package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/onsi/gomega"
)

// ProposalRecord is one pull request held by the fake forge.
type ProposalRecord struct {
	Number int
	Title  string
	Branch string
	Base   string
	Body   string
	URL    string
}

// ForgeTestHelper is an in-process stand-in for the hosting platform.
// It serves release listings, module file contents, archive downloads
// and the pull request API from registered fixtures.
type ForgeTestHelper struct {
	server *httptest.Server

	mu        sync.Mutex
	releases  map[string][]ReleaseFixture // "owner/repo"
	proposals map[string]ProposalRecord   // "owner:branch"
	nextPR    int
	creates   int
}

// NewForgeTestHelper starts a fake forge with no repositories.
func NewForgeTestHelper() *ForgeTestHelper {
	f := &ForgeTestHelper{
		releases:  make(map[string][]ReleaseFixture),
		proposals: make(map[string]ProposalRecord),
		nextPR:    100,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/releases", f.handleReleases)
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/MODULE.bazel", f.handleModuleFile)
	mux.HandleFunc("GET /{owner}/{repo}/archive/refs/tags/{file}", f.handleArchive)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pulls", f.handleListProposals)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pulls", f.handleCreateProposal)
	f.server = httptest.NewServer(mux)
	return f
}

// URL returns the forge's base URL, usable as both the API and the
// download endpoint.
func (f *ForgeTestHelper) URL() string {
	return f.server.URL
}

// Close shuts the forge down.
func (f *ForgeTestHelper) Close() {
	f.server.Close()
}

// AddRelease publishes a release on the fake upstream repository.
func (f *ForgeTestHelper) AddRelease(owner, repo string, rel ReleaseFixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + repo
	f.releases[key] = append(f.releases[key], rel)
}

// AddOpenProposal seeds an already-open pull request, as left behind by
// an earlier run.
func (f *ForgeTestHelper) AddOpenProposal(owner, repo, branch string, number int, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposals[owner+":"+branch] = ProposalRecord{
		Number: number,
		Title:  title,
		Branch: branch,
		URL:    f.proposalURL(owner, repo, number),
	}
}

// OpenProposal returns the open pull request whose head is
// owner:branch.
func (f *ForgeTestHelper) OpenProposal(owner, branch string) (ProposalRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.proposals[owner+":"+branch]
	return rec, ok
}

// CreateCount returns how many pull request creations the forge served.
func (f *ForgeTestHelper) CreateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func (*ForgeTestHelper) proposalURL(owner, repo string, number int) string {
	return fmt.Sprintf("https://forge.test/%s/%s/pull/%d", owner, repo, number)
}

func (f *ForgeTestHelper) handleReleases(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fixtures, ok := f.releases[r.PathValue("owner")+"/"+r.PathValue("repo")]
	if !ok {
		writeNotFound(w)
		return
	}

	items := make([]map[string]any, 0, len(fixtures))
	for _, rel := range fixtures {
		items = append(items, map[string]any{
			"tag_name":     rel.Tag,
			"draft":        rel.Draft,
			"prerelease":   rel.Prerelease,
			"published_at": rel.PublishedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (f *ForgeTestHelper) handleModuleFile(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rel, ok := f.findRelease(r.PathValue("owner"), r.PathValue("repo"), r.URL.Query().Get("ref"))
	if !ok || rel.ModuleBazel == nil {
		writeNotFound(w)
		return
	}
	_, err := w.Write(rel.ModuleBazel)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
}

func (f *ForgeTestHelper) handleArchive(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tag := strings.TrimSuffix(r.PathValue("file"), ".tar.gz")
	rel, ok := f.findRelease(r.PathValue("owner"), r.PathValue("repo"), tag)
	if !ok || rel.Archive == nil {
		writeNotFound(w)
		return
	}
	_, err := w.Write(rel.Archive)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
}

func (f *ForgeTestHelper) handleListProposals(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	items := []map[string]any{}
	if rec, ok := f.proposals[r.URL.Query().Get("head")]; ok {
		items = append(items, proposalJSON(rec))
	}
	writeJSON(w, http.StatusOK, items)
}

func (f *ForgeTestHelper) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++

	var req struct {
		Title string `json:"title"`
		Head  string `json:"head"`
		Base  string `json:"base"`
		Body  string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	owner := r.PathValue("owner")
	key := owner + ":" + req.Head
	if _, exists := f.proposals[key]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Validation Failed: a pull request already exists",
		})
		return
	}

	rec := ProposalRecord{
		Number: f.nextPR,
		Title:  req.Title,
		Branch: req.Head,
		Base:   req.Base,
		Body:   req.Body,
		URL:    f.proposalURL(owner, r.PathValue("repo"), f.nextPR),
	}
	f.nextPR++
	f.proposals[key] = rec
	writeJSON(w, http.StatusCreated, proposalJSON(rec))
}

func (f *ForgeTestHelper) findRelease(owner, repo, tag string) (ReleaseFixture, bool) {
	for _, rel := range f.releases[owner+"/"+repo] {
		if rel.Tag == tag {
			return rel, true
		}
	}
	return ReleaseFixture{}, false
}

func proposalJSON(rec ProposalRecord) map[string]any {
	return map[string]any{
		"number":   rec.Number,
		"html_url": rec.URL,
		"title":    rec.Title,
		"head":     map[string]any{"ref": rec.Branch},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	gomega.Expect(json.NewEncoder(w).Encode(v)).To(gomega.Succeed())
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
}
