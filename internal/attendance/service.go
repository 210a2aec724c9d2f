package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"presenzo/internal/classroom"
)

// Validation failures a student can recover from by correcting input or
// waiting. Each maps to its own user-facing message at the handler layer.
var (
	ErrClassNotJoined  = errors.New("join a class before submitting attendance")
	ErrEmptyIdentifier = errors.New("student identifier required")
	ErrInvalidCode     = errors.New("invalid attendance code")
	ErrExpiredCode     = errors.New("attendance code has expired")
)

// ThrottledError rejects a resubmission inside the throttle window.
type ThrottledError struct {
	Wait time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("please wait %d seconds before submitting again", int(e.Wait.Seconds()+0.999))
}

// ClassSource resolves class records for validation; satisfied by
// *classroom.Repository.
type ClassSource interface {
	GetByID(ctx context.Context, id string) (*classroom.Class, error)
}

// RecordStore persists accepted check-ins; satisfied by *Repository.
type RecordStore interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	ListByClass(ctx context.Context, classID string, f Filter) ([]Record, error)
}

// Service validates student check-ins against the class's active attendance
// code and writes accepted records. The validity window here is the same one
// the session manager counts down from; expiry is always recomputed from the
// stored generated-at timestamp, never from client state.
type Service struct {
	classes  ClassSource
	records  RecordStore
	throttle Throttle
	window   time.Duration
	wait     time.Duration
	now      func() time.Time
}

// NewService creates a check-in service. window is the attendance-code
// validity window, wait the per-client resubmission throttle.
func NewService(classes ClassSource, records RecordStore, throttle Throttle, window, wait time.Duration) *Service {
	if window <= 0 {
		window = 3 * time.Minute
	}
	if wait <= 0 {
		wait = 180 * time.Second
	}
	return &Service{
		classes:  classes,
		records:  records,
		throttle: throttle,
		window:   window,
		wait:     wait,
		now:      time.Now,
	}
}

// CheckIn accepts or rejects a submitted attendance code and records the
// check-in on acceptance. clientKey identifies the submitting client for the
// resubmission throttle only.
func (s *Service) CheckIn(ctx context.Context, classID, studentCode, submittedCode, clientKey string) (Record, error) {
	if left, err := s.throttle.Remaining(ctx, clientKey); err == nil && left > 0 {
		rejectedCheckins.WithLabelValues("throttled").Inc()
		return Record{}, &ThrottledError{Wait: left}
	}

	if classID == "" {
		rejectedCheckins.WithLabelValues("not_joined").Inc()
		return Record{}, ErrClassNotJoined
	}
	cls, err := s.classes.GetByID(ctx, classID)
	if err != nil {
		return Record{}, err
	}
	if cls == nil {
		rejectedCheckins.WithLabelValues("not_joined").Inc()
		return Record{}, ErrClassNotJoined
	}

	if strings.TrimSpace(studentCode) == "" {
		rejectedCheckins.WithLabelValues("empty_identifier").Inc()
		return Record{}, ErrEmptyIdentifier
	}

	if cls.AttendanceCode == nil || *cls.AttendanceCode != submittedCode {
		rejectedCheckins.WithLabelValues("invalid_code").Inc()
		return Record{}, ErrInvalidCode
	}

	// The window boundary itself is still valid; one tick past it is not.
	now := s.now()
	if cls.CodeGeneratedAt == nil || now.After(cls.CodeGeneratedAt.Add(s.window)) {
		rejectedCheckins.WithLabelValues("expired_code").Inc()
		return Record{}, ErrExpiredCode
	}

	rec, err := s.records.Insert(ctx, Record{
		ClassID:     classID,
		StudentCode: studentCode,
		OccurredAt:  now,
	})
	if err != nil {
		return Record{}, err
	}

	acceptedCheckins.Inc()
	// Throttle state is advisory; a failed touch never undoes the record.
	_ = s.throttle.Touch(ctx, clientKey, s.wait)
	return rec, nil
}

// Records returns a class's check-ins for instructor display, oldest-first.
func (s *Service) Records(ctx context.Context, classID string, f Filter) ([]Record, error) {
	return s.records.ListByClass(ctx, classID, f)
}
