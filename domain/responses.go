package domain

import (
	"encoding/json"
	"net/http"
	"time"
)

func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set(ContentType, ApplicationJSON)
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(data)
}

type ChangeResponse struct {
	Change Change `json:"change"`
}

type SubmitChangeResponse struct {
	Change  Change   `json:"change"`
	Reviews []Review `json:"reviews"`
}

type ReviewResponse struct {
	Review Review `json:"review"`
}

type DecideReviewResponse struct {
	Review       Review       `json:"review"`
	ChangeStatus ChangeStatus `json:"change_status"`
}

type ChangeReviewsResponse struct {
	ChangeID string   `json:"change_id"`
	Reviews  []Review `json:"reviews"`
}

type MergeChangeResponse struct {
	ChangeID string    `json:"change_id"`
	Branch   string    `json:"staging_branch"`
	MergedAt time.Time `json:"merged_at"`
}

type SetActiveResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
}

type PipelineRunResponse struct {
	Run PipelineRun `json:"pipeline_run"`
}

// ReviewSLAResponse is the read-side SLA report for one review.
type ReviewSLAResponse struct {
	ReviewID     string   `json:"review_id"`
	Tier         RiskTier `json:"risk_tier"`
	ResponseTime *float64 `json:"response_time_hours,omitempty"`
	ReviewTime   *float64 `json:"review_time_hours,omitempty"`
	Overdue      bool     `json:"overdue"`
}
