package classroom

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists classes in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const classColumns = `id, instructor_id, name, schedule, capacity, enrollment_code,
	identifier_mode, identifier_hint, attendance_code, code_generated_at, code_expires_at, created_at`

func scanClass(row interface{ Scan(...any) error }) (*Class, error) {
	var cls Class
	err := row.Scan(&cls.ID, &cls.InstructorID, &cls.Name, &cls.Schedule, &cls.Capacity,
		&cls.EnrollmentCode, &cls.IdentifierMode, &cls.IdentifierHint,
		&cls.AttendanceCode, &cls.CodeGeneratedAt, &cls.CodeExpiresAt, &cls.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cls, nil
}

// Insert writes a new class.
func (r *Repository) Insert(ctx context.Context, cls Class) (Class, error) {
	if cls.ID == "" {
		cls.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO classes (id, instructor_id, name, schedule, capacity, enrollment_code, identifier_mode, identifier_hint)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, cls.ID, cls.InstructorID, cls.Name, cls.Schedule, cls.Capacity, cls.EnrollmentCode, cls.IdentifierMode, cls.IdentifierHint)
	if err := row.Scan(&cls.CreatedAt); err != nil {
		return Class{}, err
	}
	return cls, nil
}

// GetByID returns a class by id, nil when absent.
func (r *Repository) GetByID(ctx context.Context, id string) (*Class, error) {
	return scanClass(r.db.QueryRowContext(ctx,
		`SELECT `+classColumns+` FROM classes WHERE id = $1`, id))
}

// GetByEnrollmentCode resolves a student join lookup.
func (r *Repository) GetByEnrollmentCode(ctx context.Context, code string) (*Class, error) {
	return scanClass(r.db.QueryRowContext(ctx,
		`SELECT `+classColumns+` FROM classes WHERE enrollment_code = $1`, code))
}

// ListByInstructor returns all classes owned by an instructor.
func (r *Repository) ListByInstructor(ctx context.Context, instructorID string) ([]Class, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+classColumns+` FROM classes WHERE instructor_id = $1 ORDER BY created_at`, instructorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Class
	for rows.Next() {
		cls, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *cls)
	}
	return res, rows.Err()
}

// Delete removes a class owned by the instructor. Attendance records are not
// cascaded.
func (r *Repository) Delete(ctx context.Context, id, instructorID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM classes WHERE id = $1 AND instructor_id = $2`, id, instructorID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnrollmentCodeExists reports whether any class already uses the code.
func (r *Repository) EnrollmentCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM classes WHERE enrollment_code = $1)`, code).Scan(&exists)
	return exists, err
}

// SetAttendanceCode overwrites the class's active attendance code. The
// previous code, if any, stops validating immediately because validation is
// an exact match against the stored value.
func (r *Repository) SetAttendanceCode(ctx context.Context, id, code string, generatedAt, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE classes
		SET attendance_code = $2, code_generated_at = $3, code_expires_at = $4
		WHERE id = $1
	`, id, code, generatedAt, expiresAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearAttendanceCode removes the stored code, but only while it still is
// the given one; a session restarted in the meantime is left alone.
func (r *Repository) ClearAttendanceCode(ctx context.Context, id, code string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE classes
		SET attendance_code = NULL, code_generated_at = NULL, code_expires_at = NULL
		WHERE id = $1 AND attendance_code = $2
	`, id, code)
	return err
}

// SweepExpiredCodes clears every attendance code whose window has elapsed,
// returning the number of classes touched. Safety net for expiry
// notifications lost while the api process was down.
func (r *Repository) SweepExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE classes
		SET attendance_code = NULL, code_generated_at = NULL, code_expires_at = NULL
		WHERE attendance_code IS NOT NULL AND code_expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ActiveAttendanceCodeExists reports whether another class currently has the
// same unexpired code, used to retry generation on collision.
func (r *Repository) ActiveAttendanceCodeExists(ctx context.Context, code, excludeClassID string, now time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM classes
			WHERE attendance_code = $1 AND id <> $2 AND code_expires_at >= $3
		)
	`, code, excludeClassID, now).Scan(&exists)
	return exists, err
}
