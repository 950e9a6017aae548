package domain

type SyncChangeRequest struct {
	ChangeID    string         `json:"change_id,omitempty"`
	AppID       string         `json:"app_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	RiskScore   int            `json:"risk_score"`
	AuthorID    string         `json:"author_id"`
	Files       []SnapshotFile `json:"files"`
}

type SubmitChangeRequest struct {
	ChangeID    string   `json:"change_id"`
	ReviewerIDs []string `json:"reviewer_ids,omitempty"`
}

type StartReviewRequest struct {
	ReviewID   string `json:"review_id"`
	ReviewerID string `json:"reviewer_id"`
}

type DecideReviewRequest struct {
	ReviewID   string `json:"review_id"`
	ReviewerID string `json:"reviewer_id"`
	Decision   string `json:"decision"`
	Feedback   string `json:"feedback,omitempty"`
}

const (
	DecisionApprove        = "approve"
	DecisionReject         = "reject"
	DecisionRequestChanges = "request_changes"
)

type MergeChangeRequest struct {
	ChangeID string `json:"change_id"`
}

type SetActiveRequest struct {
	UserID   string `json:"user_id"`
	IsActive bool   `json:"is_active"`
}

// PipelineReport is the inbound CI webhook payload. The raw body is
// HMAC-signed by the sender; see the webhook handler.
type PipelineReport struct {
	ChangeID string        `json:"change_id"`
	Status   string        `json:"status"`
	RunID    string        `json:"run_id,omitempty"`
	RunURL   string        `json:"run_url,omitempty"`
	Checks   []CheckResult `json:"checks,omitempty"`
}
