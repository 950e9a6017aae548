package changerepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/changegate/changegate/domain"
)

type Repository interface {
	Create(ctx context.Context, change domain.Change) error
	Get(ctx context.Context, id string) (domain.Change, error)
	// UpdateDraft refreshes the mutable fields of a DRAFT change on
	// resubmission.
	UpdateDraft(ctx context.Context, id, title, description string, riskScore int) error
	SetBranch(ctx context.Context, id, branch string) error
	ClearBranch(ctx context.Context, id string) error
	// TransitionStatus flips the status only when the current value
	// matches from. It reports whether this caller won the transition,
	// which is the single-writer guard for terminal states.
	TransitionStatus(ctx context.Context, id string, from, to domain.ChangeStatus) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) Create(ctx context.Context, change domain.Change) error {
	var authorExists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`,
		change.AuthorID).Scan(&authorExists)
	if err != nil {
		return fmt.Errorf("failed to check author existence: %w", err)
	}
	if !authorExists {
		return domain.ErrNotFound
	}

	_, err = r.db.Exec(ctx, `
        INSERT INTO changes (id, app_id, title, description, status, risk_score, author_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7);`,
		change.ID, change.AppID, change.Title, change.Description,
		change.Status, change.RiskScore, change.AuthorID)
	if err != nil {
		return fmt.Errorf("failed to save change: %w", err)
	}

	return nil
}

func (r *repository) Get(ctx context.Context, id string) (domain.Change, error) {
	var (
		change domain.Change
		branch sql.NullString
	)

	err := r.db.QueryRow(ctx, `
        SELECT id, app_id, title, description, status, risk_score, author_id, branch,
               created_at, updated_at
        FROM changes
        WHERE id = $1;`, id).Scan(
		&change.ID, &change.AppID, &change.Title, &change.Description,
		&change.Status, &change.RiskScore, &change.AuthorID, &branch,
		&change.CreatedAt, &change.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Change{}, domain.ErrNotFound
	} else if err != nil {
		return domain.Change{}, fmt.Errorf("failed to get change %s: %w", id, err)
	}

	change.Branch = branch.String
	change.RiskTier = domain.TierForScore(change.RiskScore)

	return change, nil
}

func (r *repository) UpdateDraft(ctx context.Context, id, title, description string, riskScore int) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE changes
        SET title = $2, description = $3, risk_score = $4, updated_at = now()
        WHERE id = $1 AND status = $5;`,
		id, title, description, riskScore, domain.ChangeDraft)
	if err != nil {
		return fmt.Errorf("failed to update draft change %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (r *repository) SetBranch(ctx context.Context, id, branch string) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE changes
        SET branch = $2, updated_at = now()
        WHERE id = $1;`, id, branch)
	if err != nil {
		return fmt.Errorf("failed to set branch on change %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (r *repository) ClearBranch(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE changes
        SET branch = NULL, updated_at = now()
        WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to clear branch on change %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (r *repository) TransitionStatus(ctx context.Context, id string, from, to domain.ChangeStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE changes
        SET status = $3, updated_at = now()
        WHERE id = $1 AND status = $2;`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition change %s to %s: %w", id, to, err)
	}

	return tag.RowsAffected() == 1, nil
}
