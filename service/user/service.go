package userserv

import (
	"context"
	"log/slog"
	"strings"

	userrepo "github.com/changegate/changegate/database/user"
	"github.com/changegate/changegate/domain"
)

type Service interface {
	// SetActive toggles a user's availability for reviewer assignment.
	SetActive(ctx context.Context, req domain.SetActiveRequest) (domain.SetActiveResponse, error)
}

type impl struct {
	repo userrepo.Repository
}

func NewService(repo userrepo.Repository) Service {
	return &impl{
		repo: repo,
	}
}

func (s *impl) SetActive(ctx context.Context, req domain.SetActiveRequest) (domain.SetActiveResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return domain.SetActiveResponse{}, domain.ErrBadRequest
	}

	user, err := s.repo.SetActive(ctx, req.UserID, req.IsActive)
	if err != nil {
		slog.Error("failed to set user active status",
			"user_id", req.UserID,
			"error", err)

		return domain.SetActiveResponse{}, err
	}

	slog.Info("user active status updated",
		"user_id", user.ID,
		"is_active", user.IsActive)

	return domain.SetActiveResponse{
		UserID:   user.ID,
		Username: user.Name,
		IsActive: user.IsActive,
	}, nil
}
