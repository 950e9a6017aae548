package lifecycleserv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	changerepo "github.com/changegate/changegate/database/change"
	"github.com/changegate/changegate/domain"
)

// Stager is the staging-branch lifecycle consumed by the orchestrator,
// implemented by vcs.StagingManager.
type Stager interface {
	CreateStagingBranch(ctx context.Context, title string, files []domain.SnapshotFile) (string, error)
	RestageBranch(ctx context.Context, branch, title string, files []domain.SnapshotFile) error
	MergeStagingToMain(ctx context.Context, branch, message string) error
}

type Notifier interface {
	Publish(n domain.Notification)
}

type Service interface {
	// SyncChange records a detected change and stages its snapshot. A
	// failed staging attempt leaves the change in DRAFT with no branch,
	// safe to retry from scratch.
	SyncChange(ctx context.Context, req domain.SyncChangeRequest) (domain.ChangeResponse, error)
	GetChange(ctx context.Context, changeID string) (domain.ChangeResponse, error)
	// MergeApproved merges the staging branch of an APPROVED change into
	// the mainline and deletes the branch. Idempotent: re-invoking it on
	// an already merged change succeeds.
	MergeApproved(ctx context.Context, changeID string) error
}

type impl struct {
	changes  changerepo.Repository
	stager   Stager
	notifier Notifier
}

func NewService(changes changerepo.Repository, stager Stager, notifier Notifier) Service {
	return &impl{
		changes:  changes,
		stager:   stager,
		notifier: notifier,
	}
}

func (s *impl) SyncChange(ctx context.Context, req domain.SyncChangeRequest) (domain.ChangeResponse, error) {
	if err := s.validateSyncRequest(req); err != nil {
		slog.Error("change sync validation failed",
			"app_id", req.AppID,
			"error", err)

		return domain.ChangeResponse{}, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	if req.ChangeID != "" {
		return s.resync(ctx, req)
	}

	change := domain.Change{
		ID:          uuid.NewString(),
		AppID:       req.AppID,
		Title:       req.Title,
		Description: req.Description,
		Status:      domain.ChangeDraft,
		RiskScore:   req.RiskScore,
		AuthorID:    req.AuthorID,
	}

	if err := s.changes.Create(ctx, change); err != nil {
		slog.Error("failed to create change",
			"app_id", req.AppID,
			"author_id", req.AuthorID,
			"error", err)

		return domain.ChangeResponse{}, err
	}

	branch, err := s.stager.CreateStagingBranch(ctx, change.Title, req.Files)
	if err != nil {
		// The change stays DRAFT with no branch; the sync can be
		// retried with this change_id (and a new title on Conflict).
		slog.Error("failed to stage change snapshot",
			"change_id", change.ID,
			"error", err)

		return domain.ChangeResponse{}, err
	}

	if err := s.changes.SetBranch(ctx, change.ID, branch); err != nil {
		return domain.ChangeResponse{}, err
	}

	slog.Info("change staged",
		"change_id", change.ID,
		"branch", branch,
		"files", len(req.Files))

	return s.GetChange(ctx, change.ID)
}

// resync restages an existing DRAFT change, either because the first
// staging attempt failed or because reviewers requested changes.
func (s *impl) resync(ctx context.Context, req domain.SyncChangeRequest) (domain.ChangeResponse, error) {
	change, err := s.changes.Get(ctx, req.ChangeID)
	if err != nil {
		return domain.ChangeResponse{}, err
	}

	if change.Status != domain.ChangeDraft {
		return domain.ChangeResponse{}, fmt.Errorf("change %s is %s: %w",
			change.ID, change.Status, domain.ErrChangeResolved)
	}

	if err := s.changes.UpdateDraft(ctx, change.ID, req.Title, req.Description, req.RiskScore); err != nil {
		return domain.ChangeResponse{}, err
	}

	if change.Branch != "" {
		if err := s.stager.RestageBranch(ctx, change.Branch, req.Title, req.Files); err != nil {
			slog.Error("failed to restage change snapshot",
				"change_id", change.ID,
				"branch", change.Branch,
				"error", err)

			return domain.ChangeResponse{}, err
		}

		return s.GetChange(ctx, change.ID)
	}

	branch, err := s.stager.CreateStagingBranch(ctx, req.Title, req.Files)
	if err != nil {
		slog.Error("failed to stage change snapshot",
			"change_id", change.ID,
			"error", err)

		return domain.ChangeResponse{}, err
	}

	if err := s.changes.SetBranch(ctx, change.ID, branch); err != nil {
		return domain.ChangeResponse{}, err
	}

	return s.GetChange(ctx, change.ID)
}

func (s *impl) GetChange(ctx context.Context, changeID string) (domain.ChangeResponse, error) {
	if strings.TrimSpace(changeID) == "" {
		return domain.ChangeResponse{}, domain.ErrBadRequest
	}

	change, err := s.changes.Get(ctx, changeID)
	if err != nil {
		return domain.ChangeResponse{}, err
	}

	return domain.ChangeResponse{Change: change}, nil
}

func (s *impl) MergeApproved(ctx context.Context, changeID string) error {
	change, err := s.changes.Get(ctx, changeID)
	if err != nil {
		return err
	}

	if change.Status != domain.ChangeApproved {
		return fmt.Errorf("change %s is %s, not APPROVED: %w",
			change.ID, change.Status, domain.ErrBadRequest)
	}

	if change.Branch == "" {
		// Branch already merged and cleaned up on a previous attempt.
		return nil
	}

	message := fmt.Sprintf("Merge change: %s", change.Title)
	if err := s.stager.MergeStagingToMain(ctx, change.Branch, message); err != nil {
		slog.Error("failed to merge staging branch",
			"change_id", change.ID,
			"branch", change.Branch,
			"error", err)

		return err
	}

	if err := s.changes.ClearBranch(ctx, change.ID); err != nil {
		slog.Warn("merged but failed to clear branch on change",
			"change_id", change.ID,
			"error", err)
	}

	slog.Info("change merged to mainline",
		"change_id", change.ID,
		"branch", change.Branch)

	s.notifier.Publish(domain.Notification{
		UserID:  change.AuthorID,
		Type:    domain.NotifyChangeMerged,
		Title:   "Change merged",
		Message: fmt.Sprintf("%q was merged to the mainline", change.Title),
		Data:    map[string]any{"change_id": change.ID, "merged_at": time.Now().UTC()},
	})

	return nil
}

func (s *impl) validateSyncRequest(req domain.SyncChangeRequest) error {
	if strings.TrimSpace(req.AppID) == "" {
		return errors.New("app ID is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(req.AuthorID) == "" {
		return errors.New("author ID is required")
	}
	if req.RiskScore < 0 || req.RiskScore > 100 {
		return errors.New("risk score must be between 0 and 100")
	}
	if len(req.Files) == 0 {
		return errors.New("snapshot must contain at least one file")
	}
	for _, f := range req.Files {
		if strings.TrimSpace(f.Path) == "" {
			return errors.New("snapshot file with empty path")
		}
	}

	return nil
}
