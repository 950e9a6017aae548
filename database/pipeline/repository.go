package pipelinerepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/changegate/changegate/domain"
)

type Repository interface {
	// Upsert replaces the run for a change; only the latest report is
	// kept (last write wins by arrival order).
	Upsert(ctx context.Context, run domain.PipelineRun) error
	Get(ctx context.Context, changeID string) (domain.PipelineRun, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) Upsert(ctx context.Context, run domain.PipelineRun) error {
	checks, err := json.Marshal(run.Checks)
	if err != nil {
		return fmt.Errorf("marshal check results: %w", err)
	}

	_, err = r.db.Exec(ctx, `
        INSERT INTO pipeline_runs (change_id, status, run_id, run_url, checks, completed_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, now())
        ON CONFLICT (change_id) DO UPDATE
        SET status = EXCLUDED.status,
            run_id = EXCLUDED.run_id,
            run_url = EXCLUDED.run_url,
            checks = EXCLUDED.checks,
            completed_at = EXCLUDED.completed_at,
            updated_at = now();`,
		run.ChangeID, run.Status, run.RunID, run.RunURL, checks, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert pipeline run for change %s: %w", run.ChangeID, err)
	}

	return nil
}

func (r *repository) Get(ctx context.Context, changeID string) (domain.PipelineRun, error) {
	var (
		run    domain.PipelineRun
		checks []byte
	)

	err := r.db.QueryRow(ctx, `
        SELECT change_id, status, run_id, run_url, checks, completed_at, updated_at
        FROM pipeline_runs
        WHERE change_id = $1;`, changeID).Scan(
		&run.ChangeID, &run.Status, &run.RunID, &run.RunURL, &checks,
		&run.CompletedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PipelineRun{}, domain.ErrNotFound
	} else if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("failed to get pipeline run for change %s: %w", changeID, err)
	}

	if err := json.Unmarshal(checks, &run.Checks); err != nil {
		return domain.PipelineRun{}, fmt.Errorf("unmarshal check results: %w", err)
	}

	return run, nil
}
