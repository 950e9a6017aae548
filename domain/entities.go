package domain

import "time"

type ChangeStatus string

const (
	ChangeDraft    ChangeStatus = "DRAFT"
	ChangePending  ChangeStatus = "PENDING"
	ChangeApproved ChangeStatus = "APPROVED"
	ChangeRejected ChangeStatus = "REJECTED"
)

type ReviewStatus string

const (
	ReviewPending          ReviewStatus = "PENDING"
	ReviewInProgress       ReviewStatus = "IN_PROGRESS"
	ReviewApproved         ReviewStatus = "APPROVED"
	ReviewRejected         ReviewStatus = "REJECTED"
	ReviewChangesRequested ReviewStatus = "CHANGES_REQUESTED"
)

type PipelineStatus string

const (
	PipelinePending PipelineStatus = "PENDING"
	PipelineRunning PipelineStatus = "RUNNING"
	PipelinePassed  PipelineStatus = "PASSED"
	PipelineFailed  PipelineStatus = "FAILED"
)

type RiskTier string

const (
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

// User roles, ordered by seniority. Critical-tier changes may only be
// reviewed by admins.
const (
	RoleDeveloper  = "developer"
	RoleMaintainer = "maintainer"
	RoleAdmin      = "admin"
)

// TierForScore buckets a 0-100 risk score into a review tier.
func TierForScore(score int) RiskTier {
	switch {
	case score < 30:
		return TierLow
	case score < 60:
		return TierMedium
	case score < 80:
		return TierHigh
	default:
		return TierCritical
	}
}

// ReviewersForTier returns how many reviewers a tier requires.
func ReviewersForTier(tier RiskTier) int {
	switch tier {
	case TierLow:
		return 0
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	default:
		return 3
	}
}

// SLA holds the per-tier response and total-review thresholds.
type SLA struct {
	Response time.Duration
	Review   time.Duration
}

var tierSLAs = map[RiskTier]SLA{
	TierLow:      {Response: 24 * time.Hour, Review: 72 * time.Hour},
	TierMedium:   {Response: 8 * time.Hour, Review: 48 * time.Hour},
	TierHigh:     {Response: 4 * time.Hour, Review: 24 * time.Hour},
	TierCritical: {Response: 2 * time.Hour, Review: 8 * time.Hour},
}

// SLAForTier returns the thresholds for a tier.
func SLAForTier(tier RiskTier) SLA {
	return tierSLAs[tier]
}

type User struct {
	ID       string `json:"user_id"`
	Name     string `json:"username"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

type Change struct {
	ID          string       `json:"change_id"`
	AppID       string       `json:"app_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      ChangeStatus `json:"status"`
	RiskScore   int          `json:"risk_score"`
	RiskTier    RiskTier     `json:"risk_tier"`
	AuthorID    string       `json:"author_id"`
	Branch      string       `json:"staging_branch,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type Review struct {
	ID          string       `json:"review_id"`
	ChangeID    string       `json:"change_id"`
	ReviewerID  string       `json:"reviewer_id"`
	Status      ReviewStatus `json:"status"`
	Feedback    string       `json:"feedback,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Terminal reports whether the review has reached a final decision and
// can no longer be mutated.
func (r Review) Terminal() bool {
	return r.CompletedAt != nil
}

type CheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration int64  `json:"duration,omitempty"`
}

// PipelineRun is the latest CI outcome reported for a change. Only the
// most recent report is kept; re-delivery of the same report is a no-op.
type PipelineRun struct {
	ChangeID    string         `json:"change_id"`
	Status      PipelineStatus `json:"status"`
	RunID       string         `json:"run_id,omitempty"`
	RunURL      string         `json:"run_url,omitempty"`
	Checks      []CheckResult  `json:"checks,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SnapshotFile is one file of an application export. Binary content is
// carried as raw bytes and written to the VCS backend as a base64 blob.
type SnapshotFile struct {
	Path     string `json:"path"`
	Content  []byte `json:"content"`
	IsBinary bool   `json:"is_binary"`
}

// Notification is a fire-and-forget lifecycle message for a user.
type Notification struct {
	UserID  string         `json:"user_id"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

const (
	NotifyReviewAssigned   = "review_assigned"
	NotifyChangeApproved   = "change_approved"
	NotifyChangeRejected   = "change_rejected"
	NotifyChangesRequested = "changes_requested"
	NotifyChangeMerged     = "change_merged"
	NotifyReviewProgress   = "review_progress"
)
