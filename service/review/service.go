package reviewserv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	changerepo "github.com/changegate/changegate/database/change"
	reviewrepo "github.com/changegate/changegate/database/review"
	userrepo "github.com/changegate/changegate/database/user"
	"github.com/changegate/changegate/domain"
)

// Merger promotes an approved change into the mainline, implemented by
// the lifecycle service.
type Merger interface {
	MergeApproved(ctx context.Context, changeID string) error
}

// Gate is the CI pipeline precondition checked before a change may
// transition to APPROVED.
type Gate interface {
	IsPassed(ctx context.Context, changeID string) (bool, error)
}

type Notifier interface {
	Publish(n domain.Notification)
}

type Service interface {
	// Submit moves a staged DRAFT change into review. Zero required or
	// provided reviewers is the low-risk fast lane: the change goes
	// straight to APPROVED with no review records.
	Submit(ctx context.Context, req domain.SubmitChangeRequest) (domain.SubmitChangeResponse, error)
	Start(ctx context.Context, req domain.StartReviewRequest) (domain.ReviewResponse, error)
	Decide(ctx context.Context, req domain.DecideReviewRequest) (domain.DecideReviewResponse, error)
	// Reevaluate recomputes the aggregate outcome for a PENDING change.
	// Invoked after an approval lands and after the pipeline gate turns
	// green. Idempotent: the terminal transition is guarded, so a race
	// between two callers triggers exactly one merge.
	Reevaluate(ctx context.Context, changeID string) error
	ListByChange(ctx context.Context, changeID string) (domain.ChangeReviewsResponse, error)
	SLA(ctx context.Context, reviewID string) (domain.ReviewSLAResponse, error)
}

type impl struct {
	changes  changerepo.Repository
	reviews  reviewrepo.Repository
	users    userrepo.Repository
	gate     Gate
	merger   Merger
	notifier Notifier
	now      func() time.Time
}

func NewService(
	changes changerepo.Repository,
	reviews reviewrepo.Repository,
	users userrepo.Repository,
	gate Gate,
	merger Merger,
	notifier Notifier,
) Service {
	return &impl{
		changes:  changes,
		reviews:  reviews,
		users:    users,
		gate:     gate,
		merger:   merger,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *impl) Submit(ctx context.Context, req domain.SubmitChangeRequest) (domain.SubmitChangeResponse, error) {
	if strings.TrimSpace(req.ChangeID) == "" {
		return domain.SubmitChangeResponse{}, domain.ErrBadRequest
	}

	change, err := s.changes.Get(ctx, req.ChangeID)
	if err != nil {
		return domain.SubmitChangeResponse{}, err
	}

	switch change.Status {
	case domain.ChangeDraft:
	case domain.ChangePending:
		return domain.SubmitChangeResponse{}, domain.ErrAlreadySubmitted
	default:
		return domain.SubmitChangeResponse{}, domain.ErrChangeResolved
	}

	// Reviews must never exist before the staging branch is visible.
	if change.Branch == "" {
		return domain.SubmitChangeResponse{}, domain.ErrNotStaged
	}

	reviewerIDs, err := s.pickReviewers(ctx, change, req.ReviewerIDs)
	if err != nil {
		return domain.SubmitChangeResponse{}, err
	}

	if len(reviewerIDs) == 0 {
		return s.fastLaneApprove(ctx, change)
	}

	reviews := make([]domain.Review, 0, len(reviewerIDs))
	for _, reviewerID := range reviewerIDs {
		reviews = append(reviews, domain.Review{
			ID:         uuid.NewString(),
			ChangeID:   change.ID,
			ReviewerID: reviewerID,
			Status:     domain.ReviewPending,
		})
	}

	if err := s.reviews.CreateBatch(ctx, reviews); err != nil {
		slog.Error("failed to create reviews",
			"change_id", change.ID,
			"error", err)

		return domain.SubmitChangeResponse{}, err
	}

	won, err := s.changes.TransitionStatus(ctx, change.ID, domain.ChangeDraft, domain.ChangePending)
	if err != nil {
		return domain.SubmitChangeResponse{}, err
	}
	if !won {
		return domain.SubmitChangeResponse{}, domain.ErrAlreadySubmitted
	}

	for _, rv := range reviews {
		s.notifier.Publish(domain.Notification{
			UserID:  rv.ReviewerID,
			Type:    domain.NotifyReviewAssigned,
			Title:   "Review assigned",
			Message: fmt.Sprintf("You were assigned to review %q", change.Title),
			Data:    map[string]any{"change_id": change.ID, "review_id": rv.ID},
		})
	}

	slog.Info("change submitted for review",
		"change_id", change.ID,
		"risk_tier", change.RiskTier,
		"reviewers_count", len(reviews))

	change.Status = domain.ChangePending

	return domain.SubmitChangeResponse{Change: change, Reviews: reviews}, nil
}

// fastLaneApprove is the zero-reviewer path: the change is approved
// outright and handed to the orchestrator for merge.
func (s *impl) fastLaneApprove(ctx context.Context, change domain.Change) (domain.SubmitChangeResponse, error) {
	won, err := s.changes.TransitionStatus(ctx, change.ID, domain.ChangeDraft, domain.ChangeApproved)
	if err != nil {
		return domain.SubmitChangeResponse{}, err
	}
	if !won {
		return domain.SubmitChangeResponse{}, domain.ErrAlreadySubmitted
	}

	slog.Info("change auto-approved",
		"change_id", change.ID,
		"risk_tier", change.RiskTier)

	// The approval is durable; a merge failure here is a retryable
	// cleanup gap, not a reason to fail the submission.
	if err := s.merger.MergeApproved(ctx, change.ID); err != nil {
		slog.Error("failed to merge auto-approved change",
			"change_id", change.ID,
			"error", err)
	}

	s.notifier.Publish(domain.Notification{
		UserID:  change.AuthorID,
		Type:    domain.NotifyChangeApproved,
		Title:   "Change approved",
		Message: fmt.Sprintf("%q was auto-approved (low risk)", change.Title),
		Data:    map[string]any{"change_id": change.ID},
	})

	change.Status = domain.ChangeApproved

	return domain.SubmitChangeResponse{Change: change, Reviews: []domain.Review{}}, nil
}

// pickReviewers resolves the reviewer set: explicit assignees when
// given, otherwise the risk tier decides how many are pulled from the
// eligible pool. The author never reviews their own change, and a
// short pool assigns fewer reviewers rather than blocking submission.
func (s *impl) pickReviewers(ctx context.Context, change domain.Change, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		seen := make(map[string]bool, len(explicit))
		ids := make([]string, 0, len(explicit))
		for _, id := range explicit {
			if id == "" || id == change.AuthorID || seen[id] {
				continue
			}
			if _, err := s.users.Get(ctx, id); err != nil {
				return nil, fmt.Errorf("reviewer %s: %w", id, err)
			}
			seen[id] = true
			ids = append(ids, id)
		}
		return ids, nil
	}

	required := domain.ReviewersForTier(change.RiskTier)
	if required == 0 {
		return nil, nil
	}

	adminOnly := change.RiskTier == domain.TierCritical
	ids, err := s.users.EligibleReviewers(ctx, change.AuthorID, adminOnly, required)
	if err != nil {
		return nil, err
	}

	if len(ids) < required {
		slog.Warn("reviewer pool short, assigning available reviewers",
			"change_id", change.ID,
			"required", required,
			"available", len(ids))
	}

	return ids, nil
}

func (s *impl) Start(ctx context.Context, req domain.StartReviewRequest) (domain.ReviewResponse, error) {
	rv, err := s.getOwnReview(ctx, req.ReviewID, req.ReviewerID)
	if err != nil {
		return domain.ReviewResponse{}, err
	}

	started, err := s.reviews.Start(ctx, rv.ID, s.now())
	if err != nil {
		return domain.ReviewResponse{}, err
	}
	if !started {
		// Already IN_PROGRESS; starting twice is harmless.
		slog.Info("review already started", "review_id", rv.ID)
	}

	rv, err = s.reviews.Get(ctx, rv.ID)
	if err != nil {
		return domain.ReviewResponse{}, err
	}

	return domain.ReviewResponse{Review: rv}, nil
}

func (s *impl) Decide(ctx context.Context, req domain.DecideReviewRequest) (domain.DecideReviewResponse, error) {
	rv, err := s.getOwnReview(ctx, req.ReviewID, req.ReviewerID)
	if err != nil {
		return domain.DecideReviewResponse{}, err
	}

	var status domain.ReviewStatus
	switch req.Decision {
	case domain.DecisionApprove:
		status = domain.ReviewApproved
	case domain.DecisionReject:
		status = domain.ReviewRejected
	case domain.DecisionRequestChanges:
		status = domain.ReviewChangesRequested
	default:
		return domain.DecideReviewResponse{}, fmt.Errorf("%w: unknown decision %q",
			domain.ErrValidation, req.Decision)
	}

	completed, err := s.reviews.Complete(ctx, rv.ID, status, req.Feedback, s.now())
	if err != nil {
		return domain.DecideReviewResponse{}, err
	}
	if !completed {
		return domain.DecideReviewResponse{}, domain.ErrReviewCompleted
	}

	change, err := s.changes.Get(ctx, rv.ChangeID)
	if err != nil {
		return domain.DecideReviewResponse{}, err
	}

	slog.Info("review decided",
		"review_id", rv.ID,
		"change_id", change.ID,
		"decision", req.Decision)

	switch status {
	case domain.ReviewRejected:
		// A single rejection resolves the change immediately; other
		// reviewers' pending reviews are left untouched, and the staging
		// branch stays for inspection.
		won, err := s.changes.TransitionStatus(ctx, change.ID, domain.ChangePending, domain.ChangeRejected)
		if err != nil {
			return domain.DecideReviewResponse{}, err
		}
		if won {
			s.notifier.Publish(domain.Notification{
				UserID:  change.AuthorID,
				Type:    domain.NotifyChangeRejected,
				Title:   "Change rejected",
				Message: fmt.Sprintf("%q was rejected: %s", change.Title, req.Feedback),
				Data:    map[string]any{"change_id": change.ID},
			})
		}

	case domain.ReviewChangesRequested:
		// Back to DRAFT for the resubmission loop.
		won, err := s.changes.TransitionStatus(ctx, change.ID, domain.ChangePending, domain.ChangeDraft)
		if err != nil {
			return domain.DecideReviewResponse{}, err
		}
		if won {
			s.notifier.Publish(domain.Notification{
				UserID:  change.AuthorID,
				Type:    domain.NotifyChangesRequested,
				Title:   "Changes requested",
				Message: fmt.Sprintf("Changes requested on %q: %s", change.Title, req.Feedback),
				Data:    map[string]any{"change_id": change.ID},
			})
		}

	case domain.ReviewApproved:
		if err := s.Reevaluate(ctx, change.ID); err != nil {
			return domain.DecideReviewResponse{}, err
		}
	}

	rv, err = s.reviews.Get(ctx, rv.ID)
	if err != nil {
		return domain.DecideReviewResponse{}, err
	}

	change, err = s.changes.Get(ctx, change.ID)
	if err != nil {
		return domain.DecideReviewResponse{}, err
	}

	return domain.DecideReviewResponse{Review: rv, ChangeStatus: change.Status}, nil
}

func (s *impl) Reevaluate(ctx context.Context, changeID string) error {
	change, err := s.changes.Get(ctx, changeID)
	if err != nil {
		return err
	}

	if change.Status != domain.ChangePending {
		return nil
	}

	// Re-read every review before deciding the aggregate; two approvals
	// may land concurrently and both end up here.
	reviews, err := s.reviews.ListByChange(ctx, changeID)
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		return nil
	}

	for _, rv := range reviews {
		if rv.Status != domain.ReviewApproved {
			s.notifyProgress(change, reviews)
			return nil
		}
	}

	passed, err := s.gate.IsPassed(ctx, changeID)
	if err != nil {
		return err
	}
	if !passed {
		slog.Info("change fully approved but pipeline gate not passed",
			"change_id", changeID)
		s.notifyProgress(change, reviews)
		return nil
	}

	won, err := s.changes.TransitionStatus(ctx, changeID, domain.ChangePending, domain.ChangeApproved)
	if err != nil {
		return err
	}
	if !won {
		// Lost the race; the winner owns the merge.
		return nil
	}

	slog.Info("change approved by full consensus", "change_id", changeID)

	if err := s.merger.MergeApproved(ctx, changeID); err != nil {
		slog.Error("failed to merge approved change",
			"change_id", changeID,
			"error", err)
	}

	s.notifier.Publish(domain.Notification{
		UserID:  change.AuthorID,
		Type:    domain.NotifyChangeApproved,
		Title:   "Change approved",
		Message: fmt.Sprintf("All reviewers approved %q", change.Title),
		Data:    map[string]any{"change_id": change.ID},
	})

	return nil
}

func (s *impl) notifyProgress(change domain.Change, reviews []domain.Review) {
	approved := 0
	for _, rv := range reviews {
		if rv.Status == domain.ReviewApproved {
			approved++
		}
	}

	s.notifier.Publish(domain.Notification{
		UserID:  change.AuthorID,
		Type:    domain.NotifyReviewProgress,
		Title:   "Review progress",
		Message: fmt.Sprintf("%d of %d approvals on %q", approved, len(reviews), change.Title),
		Data:    map[string]any{"change_id": change.ID},
	})
}

func (s *impl) ListByChange(ctx context.Context, changeID string) (domain.ChangeReviewsResponse, error) {
	if strings.TrimSpace(changeID) == "" {
		return domain.ChangeReviewsResponse{}, domain.ErrBadRequest
	}

	if _, err := s.changes.Get(ctx, changeID); err != nil {
		return domain.ChangeReviewsResponse{}, err
	}

	reviews, err := s.reviews.ListByChange(ctx, changeID)
	if err != nil {
		return domain.ChangeReviewsResponse{}, err
	}

	return domain.ChangeReviewsResponse{ChangeID: changeID, Reviews: reviews}, nil
}

// SLA is a pure read-side computation over review timestamps against
// the change's tier thresholds.
func (s *impl) SLA(ctx context.Context, reviewID string) (domain.ReviewSLAResponse, error) {
	if strings.TrimSpace(reviewID) == "" {
		return domain.ReviewSLAResponse{}, domain.ErrBadRequest
	}

	rv, err := s.reviews.Get(ctx, reviewID)
	if err != nil {
		return domain.ReviewSLAResponse{}, err
	}

	change, err := s.changes.Get(ctx, rv.ChangeID)
	if err != nil {
		return domain.ReviewSLAResponse{}, err
	}

	sla := domain.SLAForTier(change.RiskTier)
	resp := domain.ReviewSLAResponse{
		ReviewID: rv.ID,
		Tier:     change.RiskTier,
	}

	if rv.StartedAt != nil {
		hours := rv.StartedAt.Sub(rv.CreatedAt).Hours()
		resp.ResponseTime = &hours
	}
	if rv.CompletedAt != nil && rv.StartedAt != nil {
		hours := rv.CompletedAt.Sub(*rv.StartedAt).Hours()
		resp.ReviewTime = &hours
	}

	resp.Overdue = !rv.Terminal() && s.now().Sub(rv.CreatedAt) > sla.Review

	return resp, nil
}

func (s *impl) getOwnReview(ctx context.Context, reviewID, reviewerID string) (domain.Review, error) {
	if strings.TrimSpace(reviewID) == "" || strings.TrimSpace(reviewerID) == "" {
		return domain.Review{}, domain.ErrBadRequest
	}

	rv, err := s.reviews.Get(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}

	if rv.ReviewerID != reviewerID {
		return domain.Review{}, domain.ErrWrongReviewer
	}
	if rv.Terminal() {
		return domain.Review{}, domain.ErrReviewCompleted
	}

	return rv, nil
}
