package reviewrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/changegate/changegate/domain"
)

type Repository interface {
	// CreateBatch inserts all reviews in one transaction; either every
	// assignee gets a review or none do.
	CreateBatch(ctx context.Context, reviews []domain.Review) error
	Get(ctx context.Context, id string) (domain.Review, error)
	ListByChange(ctx context.Context, changeID string) ([]domain.Review, error)
	// Start moves a PENDING review to IN_PROGRESS; reports whether the
	// row was actually updated.
	Start(ctx context.Context, id string, at time.Time) (bool, error)
	// Complete finalizes a review. Guarded on completed_at IS NULL so a
	// decided review is immutable.
	Complete(ctx context.Context, id string, status domain.ReviewStatus, feedback string, at time.Time) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) CreateBatch(ctx context.Context, reviews []domain.Review) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rv := range reviews {
		_, err := tx.Exec(ctx, `
            INSERT INTO reviews (id, change_id, reviewer_id, status)
            VALUES ($1, $2, $3, $4);`,
			rv.ID, rv.ChangeID, rv.ReviewerID, rv.Status)
		if err != nil {
			return fmt.Errorf("failed to assign reviewer %s: %w", rv.ReviewerID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("transaction uncommitted: %w", err)
	}

	return nil
}

func (r *repository) Get(ctx context.Context, id string) (domain.Review, error) {
	var rv domain.Review

	err := r.db.QueryRow(ctx, `
        SELECT id, change_id, reviewer_id, status, feedback,
               created_at, started_at, completed_at
        FROM reviews
        WHERE id = $1;`, id).Scan(
		&rv.ID, &rv.ChangeID, &rv.ReviewerID, &rv.Status, &rv.Feedback,
		&rv.CreatedAt, &rv.StartedAt, &rv.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Review{}, domain.ErrNotFound
	} else if err != nil {
		return domain.Review{}, fmt.Errorf("failed to get review %s: %w", id, err)
	}

	return rv, nil
}

func (r *repository) ListByChange(ctx context.Context, changeID string) ([]domain.Review, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, change_id, reviewer_id, status, feedback,
               created_at, started_at, completed_at
        FROM reviews
        WHERE change_id = $1
        ORDER BY created_at;`, changeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews for change %s: %w", changeID, err)
	}
	defer rows.Close()

	reviews := []domain.Review{}

	for rows.Next() {
		var rv domain.Review
		if err := rows.Scan(
			&rv.ID, &rv.ChangeID, &rv.ReviewerID, &rv.Status, &rv.Feedback,
			&rv.CreatedAt, &rv.StartedAt, &rv.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, rv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return reviews, nil
}

func (r *repository) Start(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE reviews
        SET status = $2, started_at = $3
        WHERE id = $1 AND status = $4;`,
		id, domain.ReviewInProgress, at, domain.ReviewPending)
	if err != nil {
		return false, fmt.Errorf("failed to start review %s: %w", id, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *repository) Complete(ctx context.Context, id string, status domain.ReviewStatus, feedback string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE reviews
        SET status = $2, feedback = $3, completed_at = $4,
            started_at = COALESCE(started_at, $4)
        WHERE id = $1 AND completed_at IS NULL;`,
		id, status, feedback, at)
	if err != nil {
		return false, fmt.Errorf("failed to complete review %s: %w", id, err)
	}

	return tag.RowsAffected() == 1, nil
}
