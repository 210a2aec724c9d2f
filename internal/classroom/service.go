package classroom

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Identifier modes a class can require from its students.
const (
	IdentifyFullName = "full-name"
	IdentifyNickname = "nickname"
	IdentifyCustom   = "custom"
)

// ErrNotFound is returned when a class does not exist or is not visible to
// the caller.
var ErrNotFound = errors.New("class not found")

// ErrCodeExhausted is returned when code generation keeps colliding with
// existing codes. At expected scale this means something is badly wrong.
var ErrCodeExhausted = errors.New("could not generate an unused code")

// Class is one instructor-owned classroom. The attendance-code triple is
// nil while no session has ever been started; expiry is always recomputed
// from GeneratedAt, never trusted from a client.
type Class struct {
	ID              string     `json:"id"`
	InstructorID    string     `json:"-"`
	Name            string     `json:"name"`
	Schedule        string     `json:"schedule"`
	Capacity        int        `json:"capacity"`
	EnrollmentCode  string     `json:"enrollment_code"`
	IdentifierMode  string     `json:"identifier_mode"`
	IdentifierHint  string     `json:"identifier_hint,omitempty"`
	AttendanceCode  *string    `json:"attendance_code,omitempty"`
	CodeGeneratedAt *time.Time `json:"attendance_code_generated_at,omitempty"`
	CodeExpiresAt   *time.Time `json:"attendance_code_expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CodeActive reports whether the class has an attendance code that is still
// inside its validity window at the given instant. The boundary instant
// itself is still valid.
func (c *Class) CodeActive(now time.Time) bool {
	return c.AttendanceCode != nil && c.CodeExpiresAt != nil && !now.After(*c.CodeExpiresAt)
}

// Store is the persistence surface the service needs. *Repository is the
// Postgres implementation; tests substitute an in-memory one.
type Store interface {
	Insert(ctx context.Context, cls Class) (Class, error)
	GetByID(ctx context.Context, id string) (*Class, error)
	GetByEnrollmentCode(ctx context.Context, code string) (*Class, error)
	ListByInstructor(ctx context.Context, instructorID string) ([]Class, error)
	Delete(ctx context.Context, id, instructorID string) error
	EnrollmentCodeExists(ctx context.Context, code string) (bool, error)
}

// CodeSource produces enrollment codes; satisfied by *codes.Generator.
type CodeSource interface {
	EnrollmentCode() string
}

// Service owns class lifecycle: creation with a collision-checked enrollment
// code, listing, student join lookup, and deletion.
type Service struct {
	store Store
	gen   CodeSource
}

// NewService creates a classroom service.
func NewService(store Store, gen CodeSource) *Service {
	return &Service{store: store, gen: gen}
}

const codeRetries = 5

// Create validates input, assigns an enrollment code that does not collide
// with any existing class, and persists the class.
func (s *Service) Create(ctx context.Context, instructorID, name, schedule string, capacity int, idMode, idHint string) (Class, error) {
	if instructorID == "" {
		return Class{}, errors.New("instructor id required")
	}
	if name == "" {
		return Class{}, errors.New("class name required")
	}
	if capacity <= 0 {
		return Class{}, errors.New("capacity must be positive")
	}
	switch idMode {
	case IdentifyFullName, IdentifyNickname, IdentifyCustom:
	case "":
		idMode = IdentifyNickname
	default:
		return Class{}, fmt.Errorf("unknown identifier mode %q", idMode)
	}
	if idMode != IdentifyCustom {
		idHint = ""
	}

	code, err := s.freshEnrollmentCode(ctx)
	if err != nil {
		return Class{}, err
	}

	return s.store.Insert(ctx, Class{
		InstructorID:   instructorID,
		Name:           name,
		Schedule:       schedule,
		Capacity:       capacity,
		EnrollmentCode: code,
		IdentifierMode: idMode,
		IdentifierHint: idHint,
	})
}

func (s *Service) freshEnrollmentCode(ctx context.Context) (string, error) {
	for i := 0; i < codeRetries; i++ {
		code := s.gen.EnrollmentCode()
		taken, err := s.store.EnrollmentCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

// List returns the instructor's classes.
func (s *Service) List(ctx context.Context, instructorID string) ([]Class, error) {
	return s.store.ListByInstructor(ctx, instructorID)
}

// Join resolves an enrollment code to its class, the student's entry point.
func (s *Service) Join(ctx context.Context, enrollmentCode string) (*Class, error) {
	if enrollmentCode == "" {
		return nil, ErrNotFound
	}
	cls, err := s.store.GetByEnrollmentCode(ctx, enrollmentCode)
	if err != nil {
		return nil, err
	}
	if cls == nil {
		return nil, ErrNotFound
	}
	return cls, nil
}

// Get returns a class the instructor owns.
func (s *Service) Get(ctx context.Context, id, instructorID string) (*Class, error) {
	cls, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cls == nil || cls.InstructorID != instructorID {
		return nil, ErrNotFound
	}
	return cls, nil
}

// Delete removes a class. Attendance records written against it are left in
// place; they stay readable by class id.
func (s *Service) Delete(ctx context.Context, id, instructorID string) error {
	return s.store.Delete(ctx, id, instructorID)
}
