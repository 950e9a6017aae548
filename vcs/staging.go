package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/changegate/changegate/domain"
)

// StagingManager owns the staging-branch lifecycle: one branch per
// unresolved change, created from the mainline tip, merged back on
// approval and deleted right after.
type StagingManager struct {
	writer     *ObjectWriter
	backend    Backend
	mainBranch string
	prefix     string
}

// NewStagingManager builds a manager. mainBranch may be empty, in which
// case the repository's default branch is looked up per operation.
func NewStagingManager(writer *ObjectWriter, backend Backend, mainBranch, prefix string) *StagingManager {
	return &StagingManager{
		writer:     writer,
		backend:    backend,
		mainBranch: mainBranch,
		prefix:     prefix,
	}
}

// BranchName derives the deterministic staging branch name for a title.
func (m *StagingManager) BranchName(title string) string {
	return DeriveBranchName(m.prefix, title)
}

// CreateStagingBranch stages a snapshot under a new branch derived from
// the change title. An existing branch with that name is a Conflict, not
// an overwrite: the caller must rename the change. When the mainline has
// no history yet the snapshot becomes an orphan root commit.
func (m *StagingManager) CreateStagingBranch(ctx context.Context, title string, files []domain.SnapshotFile) (string, error) {
	branch := m.BranchName(title)

	_, err := m.backend.GetRef(ctx, branch)
	switch {
	case err == nil:
		return "", fmt.Errorf("branch %s: %w", branch, domain.ErrBranchExists)
	case !errors.Is(err, domain.ErrRefNotFound):
		return "", fmt.Errorf("check branch %s: %w", branch, err)
	}

	baseSHA, err := m.mainlineTip(ctx)
	if err != nil {
		return "", err
	}

	treeSHA, err := m.writer.WriteTree(ctx, files, "")
	if err != nil {
		return "", fmt.Errorf("write snapshot tree: %w", err)
	}

	commitSHA, err := m.writer.Commit(ctx, treeSHA, baseSHA, "Stage change: "+title)
	if err != nil {
		return "", fmt.Errorf("write snapshot commit: %w", err)
	}

	if err := m.writer.AdvanceRef(ctx, branch, commitSHA, true); err != nil {
		return "", fmt.Errorf("publish branch %s: %w", branch, err)
	}

	// The backend may not serve a ref it just created; wait until the
	// branch is readable so reviews are never opened against a branch
	// that is not there yet.
	if _, err := m.writer.ReadRef(ctx, branch); err != nil {
		return "", fmt.Errorf("verify branch %s: %w", branch, err)
	}

	slog.Info("staging branch created",
		"branch", branch,
		"commit", commitSHA,
		"orphan", baseSHA == "")

	return branch, nil
}

// RestageBranch commits a fresh snapshot on top of an existing staging
// branch, used when a change comes back from CHANGES_REQUESTED.
func (m *StagingManager) RestageBranch(ctx context.Context, branch, title string, files []domain.SnapshotFile) error {
	tip, err := m.writer.ReadRef(ctx, branch)
	if err != nil {
		return fmt.Errorf("read branch %s: %w", branch, err)
	}

	treeSHA, err := m.writer.WriteTree(ctx, files, "")
	if err != nil {
		return fmt.Errorf("write snapshot tree: %w", err)
	}

	commitSHA, err := m.writer.Commit(ctx, treeSHA, tip, "Restage change: "+title)
	if err != nil {
		return fmt.Errorf("write snapshot commit: %w", err)
	}

	if err := m.writer.AdvanceRef(ctx, branch, commitSHA, false); err != nil {
		return fmt.Errorf("advance branch %s: %w", branch, err)
	}

	slog.Info("staging branch restaged", "branch", branch, "commit", commitSHA)

	return nil
}

// MergeStagingToMain merges the staging branch into the mainline and
// deletes the branch. The merge is idempotent: a branch whose commits
// are already on the mainline merges as a no-op success. Deleting the
// branch after a successful merge is best-effort; the merge is the
// durability boundary, cleanup is not.
func (m *StagingManager) MergeStagingToMain(ctx context.Context, branch, message string) error {
	base, err := m.mainline(ctx)
	if err != nil {
		return err
	}

	merged, err := m.backend.Merge(ctx, base, branch, message)
	if err != nil {
		if errors.Is(err, domain.ErrMergeConflict) {
			return fmt.Errorf("merge %s into %s: %w", branch, base, domain.ErrMergeConflict)
		}
		return fmt.Errorf("merge %s into %s: %w", branch, base, err)
	}

	if !merged {
		slog.Info("staging branch already merged", "branch", branch, "base", base)
	}

	if err := m.backend.DeleteRef(ctx, branch); err != nil && !errors.Is(err, domain.ErrRefNotFound) {
		slog.Warn("failed to delete staging branch after merge",
			"branch", branch,
			"error", err)
	}

	return nil
}

// DeleteStagingBranch removes a staging branch outright.
func (m *StagingManager) DeleteStagingBranch(ctx context.Context, branch string) error {
	return m.backend.DeleteRef(ctx, branch)
}

// mainline resolves the mainline branch name.
func (m *StagingManager) mainline(ctx context.Context) (string, error) {
	if m.mainBranch != "" {
		return m.mainBranch, nil
	}

	branch, err := m.backend.DefaultBranch(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve default branch: %w", err)
	}
	return branch, nil
}

// mainlineTip returns the mainline head SHA, or "" for an empty
// repository (orphan bootstrap).
func (m *StagingManager) mainlineTip(ctx context.Context) (string, error) {
	base, err := m.mainline(ctx)
	if err != nil {
		return "", err
	}

	sha, err := m.backend.GetRef(ctx, base)
	if errors.Is(err, domain.ErrRefNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read mainline %s: %w", base, err)
	}
	return sha, nil
}
