package vcs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/changegate/changegate/domain"
)

// fakeBackend is an in-memory stand-in for the remote backend. Counters
// and knobs let tests simulate read-after-write latency, outages and
// merge outcomes.
type fakeBackend struct {
	defaultBranch string
	refs          map[string]string

	blobCalls   int
	blobErr     error
	blobOutages int

	treeCalls   int
	lastEntries []TreeEntry

	commitCalls int
	lastParents []string

	// hiddenReads makes GetRef report not-found n more times for a
	// branch even though the ref exists.
	hiddenReads map[string]int

	mergeCalls   int
	mergeErr     error
	mergeNothing bool

	deleted   []string
	deleteErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		defaultBranch: "main",
		refs:          map[string]string{},
		hiddenReads:   map[string]int{},
	}
}

func (b *fakeBackend) DefaultBranch(ctx context.Context) (string, error) {
	return b.defaultBranch, nil
}

func (b *fakeBackend) GetRef(ctx context.Context, branch string) (string, error) {
	if n := b.hiddenReads[branch]; n > 0 {
		b.hiddenReads[branch] = n - 1
		return "", domain.ErrRefNotFound
	}
	sha, ok := b.refs[branch]
	if !ok {
		return "", domain.ErrRefNotFound
	}
	return sha, nil
}

func (b *fakeBackend) CreateRef(ctx context.Context, branch, sha string) error {
	if _, ok := b.refs[branch]; ok {
		return domain.ErrBranchExists
	}
	b.refs[branch] = sha
	return nil
}

func (b *fakeBackend) UpdateRef(ctx context.Context, branch, sha string) error {
	if _, ok := b.refs[branch]; !ok {
		return domain.ErrRefNotFound
	}
	b.refs[branch] = sha
	return nil
}

func (b *fakeBackend) DeleteRef(ctx context.Context, branch string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	if _, ok := b.refs[branch]; !ok {
		return domain.ErrRefNotFound
	}
	delete(b.refs, branch)
	b.deleted = append(b.deleted, branch)
	return nil
}

func (b *fakeBackend) CreateBlob(ctx context.Context, base64Content string) (string, error) {
	if b.blobOutages > 0 {
		b.blobOutages--
		return "", fmt.Errorf("%w: 502", domain.ErrRemoteUnavailable)
	}
	if b.blobErr != nil {
		return "", b.blobErr
	}
	b.blobCalls++
	return fmt.Sprintf("blob-%d", b.blobCalls), nil
}

func (b *fakeBackend) CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error) {
	b.treeCalls++
	b.lastEntries = entries
	return fmt.Sprintf("tree-%d", b.treeCalls), nil
}

func (b *fakeBackend) CreateCommit(ctx context.Context, message, treeSHA string, parents []string) (string, error) {
	b.commitCalls++
	b.lastParents = parents
	return fmt.Sprintf("commit-%d", b.commitCalls), nil
}

func (b *fakeBackend) Merge(ctx context.Context, base, head, message string) (bool, error) {
	b.mergeCalls++
	if b.mergeErr != nil {
		return false, b.mergeErr
	}
	if b.mergeNothing {
		return false, nil
	}
	return true, nil
}

func newTestWriter(b Backend) *ObjectWriter {
	w := NewObjectWriter(b)
	w.batchDelay = 0
	w.refDelay = 0
	w.sleep = func(time.Duration) {}
	return w
}

func textFile(path, content string) domain.SnapshotFile {
	return domain.SnapshotFile{Path: path, Content: []byte(content)}
}

func binFile(path string) domain.SnapshotFile {
	return domain.SnapshotFile{Path: path, Content: []byte{0x00, 0x01, 0x02}, IsBinary: true}
}

func TestWriteTreeSplitsTextAndBinary(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWriter(backend)

	files := []domain.SnapshotFile{
		textFile("app/config.json", `{"name":"demo"}`),
		binFile("assets/logo.png"),
		textFile("app/flow.json", `{}`),
	}

	tree, err := w.WriteTree(context.Background(), files, "")
	if err != nil {
		t.Fatalf("WriteTree failed: %v", err)
	}
	if tree == "" {
		t.Fatal("WriteTree returned empty tree SHA")
	}

	if backend.blobCalls != 1 {
		t.Errorf("blobCalls = %d, want 1", backend.blobCalls)
	}
	if len(backend.lastEntries) != 3 {
		t.Fatalf("tree entries = %d, want 3", len(backend.lastEntries))
	}

	for _, e := range backend.lastEntries {
		switch e.Path {
		case "assets/logo.png":
			if e.SHA == "" || e.Content != "" {
				t.Errorf("binary entry %q should reference a blob SHA, got %+v", e.Path, e)
			}
		default:
			if e.Content == "" || e.SHA != "" {
				t.Errorf("text entry %q should be inline, got %+v", e.Path, e)
			}
		}
	}
}

func TestWriteTreeBatchesBinaryBlobs(t *testing.T) {
	backend := newFakeBackend()
	w := NewObjectWriter(backend)
	w.refDelay = 0

	var pauses int
	w.sleep = func(time.Duration) { pauses++ }

	files := make([]domain.SnapshotFile, 0, 25)
	for i := 0; i < 25; i++ {
		files = append(files, binFile(fmt.Sprintf("bin/%d.dat", i)))
	}

	if _, err := w.WriteTree(context.Background(), files, ""); err != nil {
		t.Fatalf("WriteTree failed: %v", err)
	}

	if backend.blobCalls != 25 {
		t.Errorf("blobCalls = %d, want 25", backend.blobCalls)
	}
	// 25 blobs in batches of 10 pause twice, between batches only.
	if pauses != 2 {
		t.Errorf("inter-batch pauses = %d, want 2", pauses)
	}
}

func TestWriteTreeAbortsOnBlobFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.blobErr = errors.New("boom")
	w := newTestWriter(backend)

	files := []domain.SnapshotFile{binFile("a.bin"), textFile("b.txt", "b")}

	if _, err := w.WriteTree(context.Background(), files, ""); err == nil {
		t.Fatal("WriteTree should fail when a blob write fails")
	}
	if backend.treeCalls != 0 {
		t.Errorf("tree was created despite blob failure")
	}
}

func TestWriteTreeRejectsEmptySnapshot(t *testing.T) {
	w := newTestWriter(newFakeBackend())

	_, err := w.WriteTree(context.Background(), nil, "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestWriteRetriesOnRemoteUnavailable(t *testing.T) {
	backend := newFakeBackend()
	backend.blobOutages = 2
	w := newTestWriter(backend)

	if _, err := w.WriteTree(context.Background(), []domain.SnapshotFile{binFile("a.bin")}, ""); err != nil {
		t.Fatalf("WriteTree should recover from transient outages: %v", err)
	}
	if backend.blobCalls != 1 {
		t.Errorf("blobCalls = %d, want 1", backend.blobCalls)
	}
}

func TestWriteSurfacesPersistentOutage(t *testing.T) {
	backend := newFakeBackend()
	backend.blobOutages = 10
	w := newTestWriter(backend)

	_, err := w.WriteTree(context.Background(), []domain.SnapshotFile{binFile("a.bin")}, "")
	if !errors.Is(err, domain.ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
}

func TestCommitOrphan(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWriter(backend)

	if _, err := w.Commit(context.Background(), "tree-1", "", "root"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if len(backend.lastParents) != 0 {
		t.Errorf("orphan commit has parents: %v", backend.lastParents)
	}

	if _, err := w.Commit(context.Background(), "tree-1", "commit-1", "child"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if len(backend.lastParents) != 1 || backend.lastParents[0] != "commit-1" {
		t.Errorf("parents = %v, want [commit-1]", backend.lastParents)
	}
}

func TestAdvanceRefCreatesOrUpdates(t *testing.T) {
	backend := newFakeBackend()
	w := newTestWriter(backend)
	ctx := context.Background()

	if err := w.AdvanceRef(ctx, "feature", "sha-1", true); err != nil {
		t.Fatalf("AdvanceRef create failed: %v", err)
	}
	if backend.refs["feature"] != "sha-1" {
		t.Errorf("ref = %q, want sha-1", backend.refs["feature"])
	}

	if err := w.AdvanceRef(ctx, "feature", "sha-2", false); err != nil {
		t.Fatalf("AdvanceRef update failed: %v", err)
	}
	if backend.refs["feature"] != "sha-2" {
		t.Errorf("ref = %q, want sha-2", backend.refs["feature"])
	}

	if err := w.AdvanceRef(ctx, "missing", "sha-3", false); !errors.Is(err, domain.ErrRefNotFound) {
		t.Fatalf("err = %v, want ErrRefNotFound", err)
	}
}

func TestReadRefRetriesInvisibleRef(t *testing.T) {
	backend := newFakeBackend()
	backend.refs["fresh"] = "sha-9"
	backend.hiddenReads["fresh"] = 2
	w := newTestWriter(backend)

	sha, err := w.ReadRef(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("ReadRef should tolerate read-after-write latency: %v", err)
	}
	if sha != "sha-9" {
		t.Errorf("sha = %q, want sha-9", sha)
	}
}

func TestReadRefGivesUpAfterBoundedRetries(t *testing.T) {
	backend := newFakeBackend()
	backend.refs["slow"] = "sha-1"
	backend.hiddenReads["slow"] = 10
	w := newTestWriter(backend)

	_, err := w.ReadRef(context.Background(), "slow")
	if !errors.Is(err, domain.ErrRefNotFound) {
		t.Fatalf("err = %v, want ErrRefNotFound", err)
	}
	if backend.hiddenReads["slow"] != 7 {
		t.Errorf("GetRef attempts = %d, want 3", 10-backend.hiddenReads["slow"])
	}
}

func newTestManager(backend Backend) *StagingManager {
	return NewStagingManager(newTestWriter(backend), backend, "", "staging/")
}

func TestCreateStagingBranch(t *testing.T) {
	backend := newFakeBackend()
	backend.refs["main"] = "main-tip"
	m := newTestManager(backend)

	branch, err := m.CreateStagingBranch(context.Background(), "Add Invoice Flow", []domain.SnapshotFile{
		textFile("flow.json", "{}"),
	})
	if err != nil {
		t.Fatalf("CreateStagingBranch failed: %v", err)
	}

	if branch != "staging/add-invoice-flow" {
		t.Errorf("branch = %q, want staging/add-invoice-flow", branch)
	}
	if _, ok := backend.refs[branch]; !ok {
		t.Errorf("branch ref was not published")
	}
	if len(backend.lastParents) != 1 || backend.lastParents[0] != "main-tip" {
		t.Errorf("commit parents = %v, want [main-tip]", backend.lastParents)
	}
}

func TestCreateStagingBranchCollision(t *testing.T) {
	backend := newFakeBackend()
	backend.refs["main"] = "main-tip"
	backend.refs["staging/add-invoice-flow"] = "other-sha"
	m := newTestManager(backend)

	_, err := m.CreateStagingBranch(context.Background(), "Add Invoice Flow", []domain.SnapshotFile{
		textFile("flow.json", "{}"),
	})
	if !errors.Is(err, domain.ErrBranchExists) {
		t.Fatalf("err = %v, want ErrBranchExists", err)
	}
	// The existing branch is never overwritten.
	if backend.refs["staging/add-invoice-flow"] != "other-sha" {
		t.Errorf("collision overwrote existing branch")
	}
}

func TestCreateStagingBranchOrphanBootstrap(t *testing.T) {
	backend := newFakeBackend()
	m := newTestManager(backend)

	branch, err := m.CreateStagingBranch(context.Background(), "first change", []domain.SnapshotFile{
		textFile("app.json", "{}"),
	})
	if err != nil {
		t.Fatalf("CreateStagingBranch failed on empty repository: %v", err)
	}
	if len(backend.lastParents) != 0 {
		t.Errorf("orphan bootstrap commit has parents: %v", backend.lastParents)
	}
	if !strings.HasPrefix(branch, "staging/") {
		t.Errorf("branch = %q, want staging/ prefix", branch)
	}
}

func TestMergeStagingToMainDeletesBranch(t *testing.T) {
	backend := newFakeBackend()
	backend.refs["main"] = "main-tip"
	backend.refs["staging/x"] = "sha-x"
	m := newTestManager(backend)

	if err := m.MergeStagingToMain(context.Background(), "staging/x", "merge it"); err != nil {
		t.Fatalf("MergeStagingToMain failed: %v", err)
	}
	if _, ok := backend.refs["staging/x"]; ok {
		t.Errorf("staging branch not deleted after merge")
	}
}

func TestMergeStagingToMainIdempotent(t *testing.T) {
	backend := newFakeBackend()
	backend.refs["main"] = "main-tip"
	backend.refs["staging/x"] = "sha-x"
	backend.mergeNothing = true
	m := newTestManager(backend)

	// Base already contains head: a retry of a completed merge.
	if err := m.MergeStagingToMain(context.Background(), "staging/x", "merge it"); err != nil {
		t.Fatalf("already-merged retry should succeed: %v", err)
	}
}

func TestMergeStagingToMainSurvivesDeleteFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.refs["main"] = "main-tip"
	backend.refs["staging/x"] = "sha-x"
	backend.deleteErr = fmt.Errorf("%w: 503", domain.ErrRemoteUnavailable)
	m := newTestManager(backend)

	// The merge is the durability boundary; cleanup failure is logged,
	// not returned.
	if err := m.MergeStagingToMain(context.Background(), "staging/x", "merge it"); err != nil {
		t.Fatalf("delete failure must not fail the merge: %v", err)
	}
}

func TestMergeStagingToMainConflict(t *testing.T) {
	backend := newFakeBackend()
	backend.refs["main"] = "main-tip"
	backend.refs["staging/x"] = "sha-x"
	backend.mergeErr = domain.ErrMergeConflict
	m := newTestManager(backend)

	err := m.MergeStagingToMain(context.Background(), "staging/x", "merge it")
	if !errors.Is(err, domain.ErrMergeConflict) {
		t.Fatalf("err = %v, want ErrMergeConflict", err)
	}
	if _, ok := backend.refs["staging/x"]; !ok {
		t.Errorf("branch deleted despite merge conflict")
	}
}

func TestRestageBranchAdvancesTip(t *testing.T) {
	backend := newFakeBackend()
	backend.refs["staging/x"] = "old-tip"
	m := newTestManager(backend)

	err := m.RestageBranch(context.Background(), "staging/x", "x", []domain.SnapshotFile{
		textFile("flow.json", "v2"),
	})
	if err != nil {
		t.Fatalf("RestageBranch failed: %v", err)
	}
	if backend.refs["staging/x"] == "old-tip" {
		t.Errorf("branch tip did not advance")
	}
	if len(backend.lastParents) != 1 || backend.lastParents[0] != "old-tip" {
		t.Errorf("restage commit parents = %v, want [old-tip]", backend.lastParents)
	}
}
