package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Instructor is an authenticated class owner.
type Instructor struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository persists instructor accounts and refresh tokens in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new instructor; a duplicate email returns ErrEmailTaken.
func (r *Repository) Insert(ctx context.Context, ins Instructor) (Instructor, error) {
	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO instructors (id, email, password_hash)
		VALUES ($1,$2,$3)
		RETURNING created_at
	`, ins.ID, ins.Email, ins.PasswordHash)
	if err := row.Scan(&ins.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Instructor{}, ErrEmailTaken
		}
		return Instructor{}, err
	}
	return ins, nil
}

// GetByEmail returns an instructor by email, nil when absent.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Instructor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM instructors WHERE email = $1
	`, email)
	var ins Instructor
	if err := row.Scan(&ins.ID, &ins.Email, &ins.PasswordHash, &ins.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ins, nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, instructorID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (instructor_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, instructorID, token, expiresAt)
	return err
}

// RefreshTokenValid reports whether the token is stored, unrevoked, and
// unexpired.
func (r *Repository) RefreshTokenValid(ctx context.Context, token string, now time.Time) (bool, error) {
	var valid bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM refresh_tokens
			WHERE token = $1 AND NOT revoked AND expires_at > $2
		)
	`, token, now).Scan(&valid)
	return valid, err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// isUniqueViolation matches Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
