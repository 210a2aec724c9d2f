package attendance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one accepted student check-in. Records are append-only; they are
// never mutated and survive deletion of their class.
type Record struct {
	ID          string    `json:"id"`
	ClassID     string    `json:"class_id"`
	StudentCode string    `json:"student_code"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new record.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, class_id, student_code, occurred_at)
		VALUES ($1,$2,$3,$4)
	`, rec.ID, rec.ClassID, rec.StudentCode, rec.OccurredAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Filter narrows ListByClass results. Zero values mean no restriction.
type Filter struct {
	From    time.Time
	To      time.Time
	Student string // substring match on the student identifier
}

// ListByClass returns a class's records oldest-first. The ascending order is
// what makes the export's first-seen student ordering deterministic.
func (r *Repository) ListByClass(ctx context.Context, classID string, f Filter) ([]Record, error) {
	query := `SELECT id, class_id, student_code, occurred_at FROM attendance_records WHERE class_id = $1`
	args := []any{classID}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	if f.Student != "" {
		args = append(args, "%"+f.Student+"%")
		query += fmt.Sprintf(" AND student_code ILIKE $%d", len(args))
	}
	query += " ORDER BY occurred_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ClassID, &rec.StudentCode, &rec.OccurredAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
