package domain

import (
	"context"
	"encoding/json"
	"net/http"
)

const (
	ContentType     = "Content-Type"
	ApplicationJSON = "application/json"
)

type ErrorResponse struct {
	Error Error `json:"error"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

var (
	ErrNotFound = Error{
		Code:    "NOT_FOUND",
		Message: "resource not found",
	}

	ErrBadRequest = Error{
		Code:    "BAD_REQUEST",
		Message: "bad request",
	}

	ErrValidation = Error{
		Code:    "VALIDATION_ERROR",
		Message: "request failed validation",
	}

	ErrUnauthorized = Error{
		Code:    "UNAUTHORIZED",
		Message: "caller is not allowed to perform this action",
	}

	ErrWrongReviewer = Error{
		Code:    "WRONG_REVIEWER",
		Message: "review belongs to a different reviewer",
	}

	ErrReviewCompleted = Error{
		Code:    "REVIEW_COMPLETED",
		Message: "review already has a final decision",
	}

	ErrAlreadySubmitted = Error{
		Code:    "ALREADY_SUBMITTED",
		Message: "change is already in review",
	}

	ErrChangeResolved = Error{
		Code:    "CHANGE_RESOLVED",
		Message: "change already reached a terminal status",
	}

	ErrNotStaged = Error{
		Code:    "NOT_STAGED",
		Message: "change has no staging branch yet",
	}

	ErrBranchExists = Error{
		Code:    "BRANCH_EXISTS",
		Message: "staging branch already exists, rename the change",
	}

	ErrRefNotFound = Error{
		Code:    "REF_NOT_FOUND",
		Message: "branch ref not found on the remote",
	}

	ErrMergeConflict = Error{
		Code:    "MERGE_CONFLICT",
		Message: "merge conflict requires manual resolution",
	}

	ErrRemoteUnavailable = Error{
		Code:    "REMOTE_UNAVAILABLE",
		Message: "version-control backend unavailable",
	}

	ErrInternal = Error{
		Code:    "INTERNAL_ERROR",
		Message: "internal server error",
	}
)

func NewErrorResponse(ctx context.Context, w http.ResponseWriter, e Error, statusCode int) {
	errRes := ErrorResponse{
		Error: e}

	jsonErrRes, err := json.Marshal(errRes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set(ContentType, ApplicationJSON)
	w.WriteHeader(statusCode)
	w.Write(jsonErrRes)
}
