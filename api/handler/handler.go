package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/changegate/changegate/domain"
	lifecycleserv "github.com/changegate/changegate/service/lifecycle"
	pipelineserv "github.com/changegate/changegate/service/pipeline"
	reviewserv "github.com/changegate/changegate/service/review"
	userserv "github.com/changegate/changegate/service/user"
)

// writeError maps domain errors onto HTTP status codes.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		domain.NewErrorResponse(ctx, w, domain.ErrNotFound, http.StatusNotFound)
	case errors.Is(err, domain.ErrRefNotFound):
		domain.NewErrorResponse(ctx, w, domain.ErrRefNotFound, http.StatusNotFound)
	case errors.Is(err, domain.ErrBranchExists):
		domain.NewErrorResponse(ctx, w, domain.ErrBranchExists, http.StatusConflict)
	case errors.Is(err, domain.ErrAlreadySubmitted):
		domain.NewErrorResponse(ctx, w, domain.ErrAlreadySubmitted, http.StatusConflict)
	case errors.Is(err, domain.ErrChangeResolved):
		domain.NewErrorResponse(ctx, w, domain.ErrChangeResolved, http.StatusConflict)
	case errors.Is(err, domain.ErrReviewCompleted):
		domain.NewErrorResponse(ctx, w, domain.ErrReviewCompleted, http.StatusConflict)
	case errors.Is(err, domain.ErrMergeConflict):
		domain.NewErrorResponse(ctx, w, domain.ErrMergeConflict, http.StatusConflict)
	case errors.Is(err, domain.ErrWrongReviewer):
		domain.NewErrorResponse(ctx, w, domain.ErrWrongReviewer, http.StatusForbidden)
	case errors.Is(err, domain.ErrUnauthorized):
		domain.NewErrorResponse(ctx, w, domain.ErrUnauthorized, http.StatusUnauthorized)
	case errors.Is(err, domain.ErrNotStaged):
		domain.NewErrorResponse(ctx, w, domain.ErrNotStaged, http.StatusConflict)
	case errors.Is(err, domain.ErrValidation):
		domain.NewErrorResponse(ctx, w, domain.ErrValidation, http.StatusBadRequest)
	case errors.Is(err, domain.ErrBadRequest):
		domain.NewErrorResponse(ctx, w, domain.ErrBadRequest, http.StatusBadRequest)
	case errors.Is(err, domain.ErrRemoteUnavailable):
		domain.NewErrorResponse(ctx, w, domain.ErrRemoteUnavailable, http.StatusBadGateway)
	default:
		slog.Error("request failed", "error", err)
		domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)
	}
}

func SyncChange(ctx context.Context, service lifecycleserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.SyncChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Error("failed to decode sync change request", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrBadRequest, http.StatusBadRequest)

			return
		}

		resp, err := service.SyncChange(ctx, req)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}

func GetChange(ctx context.Context, service lifecycleserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changeID := r.URL.Query().Get("change_id")

		resp, err := service.GetChange(ctx, changeID)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}

func MergeChange(ctx context.Context, service lifecycleserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.MergeChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Error("failed to decode merge change request", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrBadRequest, http.StatusBadRequest)

			return
		}

		if err := service.MergeApproved(ctx, req.ChangeID); err != nil {
			writeError(ctx, w, err)

			return
		}

		resp, err := service.GetChange(ctx, req.ChangeID)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}

func SubmitChange(ctx context.Context, service reviewserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.SubmitChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Error("failed to decode submit change request", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrBadRequest, http.StatusBadRequest)

			return
		}

		resp, err := service.Submit(ctx, req)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}

func ListChangeReviews(ctx context.Context, service reviewserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changeID := r.URL.Query().Get("change_id")

		resp, err := service.ListByChange(ctx, changeID)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}

func StartReview(ctx context.Context, service reviewserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.StartReviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Error("failed to decode start review request", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrBadRequest, http.StatusBadRequest)

			return
		}

		resp, err := service.Start(ctx, req)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}

func DecideReview(ctx context.Context, service reviewserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.DecideReviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Error("failed to decode decide review request", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrBadRequest, http.StatusBadRequest)

			return
		}

		resp, err := service.Decide(ctx, req)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}

func ReviewSLA(ctx context.Context, service reviewserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reviewID := r.URL.Query().Get("review_id")

		resp, err := service.SLA(ctx, reviewID)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}

func GetPipelineRun(ctx context.Context, service pipelineserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changeID := r.URL.Query().Get("change_id")

		resp, err := service.Get(ctx, changeID)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}

func SetActive(ctx context.Context, service userserv.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.SetActiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Error("failed to decode set active request", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrBadRequest, http.StatusBadRequest)

			return
		}

		resp, err := service.SetActive(ctx, req)
		if err != nil {
			writeError(ctx, w, err)

			return
		}

		if err = domain.WriteResponse(w, http.StatusOK, resp); err != nil {
			slog.Error("failed to write response", "error", err)
			domain.NewErrorResponse(ctx, w, domain.ErrInternal, http.StatusInternalServerError)

			return
		}
	}
}
