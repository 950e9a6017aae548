package pipelineserv

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	changerepo "github.com/changegate/changegate/database/change"
	pipelinerepo "github.com/changegate/changegate/database/pipeline"
	"github.com/changegate/changegate/domain"
)

// Reevaluator re-runs consensus aggregation for a change, implemented
// by the review service. A green pipeline can be the last missing
// precondition for a fully approved change.
type Reevaluator interface {
	Reevaluate(ctx context.Context, changeID string) error
}

type Service interface {
	// Ingest records a CI report for a change. Last write wins; applying
	// the same report twice yields the same state.
	Ingest(ctx context.Context, report domain.PipelineReport) (domain.PipelineRunResponse, error)
	Get(ctx context.Context, changeID string) (domain.PipelineRunResponse, error)
}

type impl struct {
	runs        pipelinerepo.Repository
	changes     changerepo.Repository
	reevaluator Reevaluator
	now         func() time.Time
}

func NewService(runs pipelinerepo.Repository, changes changerepo.Repository, reevaluator Reevaluator) Service {
	return &impl{
		runs:        runs,
		changes:     changes,
		reevaluator: reevaluator,
		now:         time.Now,
	}
}

// MapStatus translates the external run-status vocabulary into the
// internal enum. Unknown values are treated as PENDING rather than
// rejected, so a new CI vocabulary word never breaks ingestion.
func MapStatus(external string) domain.PipelineStatus {
	switch strings.ToLower(strings.TrimSpace(external)) {
	case "success", "passed":
		return domain.PipelinePassed
	case "failure", "failed", "cancelled", "canceled", "timeout", "timed_out":
		return domain.PipelineFailed
	case "in_progress", "queued", "running":
		return domain.PipelineRunning
	default:
		return domain.PipelinePending
	}
}

func (s *impl) Ingest(ctx context.Context, report domain.PipelineReport) (domain.PipelineRunResponse, error) {
	if strings.TrimSpace(report.ChangeID) == "" {
		return domain.PipelineRunResponse{}, domain.ErrValidation
	}

	if _, err := s.changes.Get(ctx, report.ChangeID); err != nil {
		return domain.PipelineRunResponse{}, err
	}

	run := domain.PipelineRun{
		ChangeID: report.ChangeID,
		Status:   MapStatus(report.Status),
		RunID:    report.RunID,
		RunURL:   report.RunURL,
		Checks:   report.Checks,
	}
	if run.Status == domain.PipelinePassed || run.Status == domain.PipelineFailed {
		completedAt := s.now()
		run.CompletedAt = &completedAt
	}

	if err := s.runs.Upsert(ctx, run); err != nil {
		slog.Error("failed to record pipeline run",
			"change_id", report.ChangeID,
			"error", err)

		return domain.PipelineRunResponse{}, err
	}

	slog.Info("pipeline status recorded",
		"change_id", report.ChangeID,
		"status", run.Status,
		"run_id", report.RunID)

	// A PASSED report may unblock a change that already has full
	// reviewer approval.
	if run.Status == domain.PipelinePassed {
		if err := s.reevaluator.Reevaluate(ctx, report.ChangeID); err != nil {
			slog.Error("failed to reevaluate change after pipeline pass",
				"change_id", report.ChangeID,
				"error", err)
		}
	}

	stored, err := s.runs.Get(ctx, report.ChangeID)
	if err != nil {
		return domain.PipelineRunResponse{}, err
	}

	return domain.PipelineRunResponse{Run: stored}, nil
}

func (s *impl) Get(ctx context.Context, changeID string) (domain.PipelineRunResponse, error) {
	if strings.TrimSpace(changeID) == "" {
		return domain.PipelineRunResponse{}, domain.ErrBadRequest
	}

	run, err := s.runs.Get(ctx, changeID)
	if err != nil {
		return domain.PipelineRunResponse{}, err
	}

	return domain.PipelineRunResponse{Run: run}, nil
}

// Gate is the merge precondition consumed by the review service. The
// gate is opt-in: with no CI integration configured every change reads
// as passed.
type Gate struct {
	runs    pipelinerepo.Repository
	enabled bool
}

func NewGate(runs pipelinerepo.Repository, enabled bool) *Gate {
	return &Gate{runs: runs, enabled: enabled}
}

func (g *Gate) IsPassed(ctx context.Context, changeID string) (bool, error) {
	if !g.enabled {
		return true, nil
	}

	run, err := g.runs.Get(ctx, changeID)
	if errors.Is(err, domain.ErrNotFound) {
		// Integration is on but CI has not reported yet.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return run.Status == domain.PipelinePassed, nil
}
