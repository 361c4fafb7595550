// Package account is the read-only user directory used by the review workflow.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"formation-review/internal/models"
)

var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetUser loads one user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, phone, role
		FROM users
		WHERE id = $1`, id).Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}
