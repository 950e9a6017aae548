package userrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/changegate/changegate/domain"
)

type Repository interface {
	Get(ctx context.Context, id string) (domain.User, error)
	SetActive(ctx context.Context, id string, isActive bool) (domain.User, error)
	// EligibleReviewers returns active users who may review a change by
	// the given author, excluding the author. adminOnly restricts the
	// pool to the most senior role (critical tier).
	EligibleReviewers(ctx context.Context, authorID string, adminOnly bool, limit int) ([]string, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repository{
		db: db,
	}
}

func (r *repository) Get(ctx context.Context, id string) (domain.User, error) {
	var user domain.User

	err := r.db.QueryRow(ctx, `
        SELECT id, name, role, is_active
        FROM users
        WHERE id = $1;`, id).Scan(&user.ID, &user.Name, &user.Role, &user.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	} else if err != nil {
		return domain.User{}, fmt.Errorf("failed to get user %s: %w", id, err)
	}

	return user, nil
}

func (r *repository) SetActive(ctx context.Context, id string, isActive bool) (domain.User, error) {
	var user domain.User

	err := r.db.QueryRow(ctx, `
        UPDATE users
        SET is_active = $2
        WHERE id = $1
        RETURNING id, name, role, is_active;`, id, isActive).Scan(
		&user.ID, &user.Name, &user.Role, &user.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	} else if err != nil {
		return domain.User{}, fmt.Errorf("failed to set user active %s: %w", id, err)
	}

	return user, nil
}

func (r *repository) EligibleReviewers(ctx context.Context, authorID string, adminOnly bool, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id
        FROM users
        WHERE id != $1
          AND is_active = true
          AND ($2 = false OR role = $3)
        ORDER BY id
        LIMIT $4;`, authorID, adminOnly, domain.RoleAdmin, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get eligible reviewers: %w", err)
	}
	defer rows.Close()

	reviewers := []string{}

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reviewer: %w", err)
		}
		reviewers = append(reviewers, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return reviewers, nil
}
