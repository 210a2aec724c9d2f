package attendance

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"presenzo/internal/classroom"
)

type fakeClasses struct {
	mu   sync.Mutex
	byID map[string]*classroom.Class
}

func newFakeClasses(classes ...*classroom.Class) *fakeClasses {
	f := &fakeClasses{byID: make(map[string]*classroom.Class)}
	for _, c := range classes {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeClasses) GetByID(_ context.Context, id string) (*classroom.Class, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeClasses) SetAttendanceCode(_ context.Context, id, code string, generatedAt, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return classroom.ErrNotFound
	}
	c.AttendanceCode = &code
	c.CodeGeneratedAt = &generatedAt
	c.CodeExpiresAt = &expiresAt
	return nil
}

func (f *fakeClasses) ActiveAttendanceCodeExists(_ context.Context, code, excludeClassID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.byID {
		if id == excludeClassID {
			continue
		}
		if c.AttendanceCode != nil && *c.AttendanceCode == code &&
			c.CodeExpiresAt != nil && !now.After(*c.CodeExpiresAt) {
			return true, nil
		}
	}
	return false, nil
}

type fakeRecords struct {
	mu         sync.Mutex
	recs       []Record
	insertErr  error
	nextID     int
	insertedAt []time.Time
}

func (f *fakeRecords) Insert(_ context.Context, rec Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return Record{}, f.insertErr
	}
	f.nextID++
	rec.ID = "rec-" + strconv.Itoa(f.nextID)
	f.recs = append(f.recs, rec)
	f.insertedAt = append(f.insertedAt, rec.OccurredAt)
	return rec, nil
}

func (f *fakeRecords) ListByClass(_ context.Context, classID string, _ Filter) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, r := range f.recs {
		if r.ClassID == classID {
			out = append(out, r)
		}
	}
	return out, nil
}

func activeClass(id, code string, generatedAt time.Time, window time.Duration) *classroom.Class {
	exp := generatedAt.Add(window)
	return &classroom.Class{
		ID:              id,
		InstructorID:    "ins-1",
		Name:            "Intro",
		Capacity:        30,
		EnrollmentCode:  "1234",
		AttendanceCode:  &code,
		CodeGeneratedAt: &generatedAt,
		CodeExpiresAt:   &exp,
	}
}

const testWindow = 3 * time.Minute

func newCheckinService(classes *fakeClasses, records *fakeRecords, at time.Time) *Service {
	svc := NewService(classes, records, NewMemoryThrottle(), testWindow, 180*time.Second)
	svc.now = func() time.Time { return at }
	return svc
}

func TestCheckInAccepts(t *testing.T) {
	base := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	classes := newFakeClasses(activeClass("c1", "123", base, testWindow))
	records := &fakeRecords{}
	svc := newCheckinService(classes, records, base.Add(time.Minute))

	rec, err := svc.CheckIn(context.Background(), "c1", "A17", "123", "client-a")
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if rec.ClassID != "c1" || rec.StudentCode != "A17" {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(records.recs) != 1 {
		t.Fatalf("got %d records, want 1", len(records.recs))
	}
}

func TestCheckInTaxonomy(t *testing.T) {
	base := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		classID     string
		studentCode string
		code        string
		wantErr     error
	}{
		{"no class joined", "", "A17", "123", ErrClassNotJoined},
		{"unknown class", "missing", "A17", "123", ErrClassNotJoined},
		{"empty identifier", "c1", "   ", "123", ErrEmptyIdentifier},
		{"wrong code", "c1", "A17", "999", ErrInvalidCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classes := newFakeClasses(activeClass("c1", "123", base, testWindow))
			svc := newCheckinService(classes, &fakeRecords{}, base.Add(time.Minute))
			_, err := svc.CheckIn(context.Background(), tt.classID, tt.studentCode, tt.code, "client-a")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckInExpiryBoundary(t *testing.T) {
	base := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)

	// Exactly at the boundary: still valid.
	classes := newFakeClasses(activeClass("c1", "123", base, testWindow))
	svc := newCheckinService(classes, &fakeRecords{}, base.Add(testWindow))
	if _, err := svc.CheckIn(context.Background(), "c1", "A17", "123", "client-a"); err != nil {
		t.Fatalf("at boundary: got %v, want accept", err)
	}

	// One millisecond past: rejected.
	classes = newFakeClasses(activeClass("c1", "123", base, testWindow))
	svc = newCheckinService(classes, &fakeRecords{}, base.Add(testWindow+time.Millisecond))
	if _, err := svc.CheckIn(context.Background(), "c1", "A17", "123", "client-b"); !errors.Is(err, ErrExpiredCode) {
		t.Fatalf("past boundary: got %v, want ErrExpiredCode", err)
	}
}

func TestCheckInThrottle(t *testing.T) {
	base := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	// Window longer than the throttle so only the throttle can reject here.
	window := 10 * time.Minute
	classes := newFakeClasses(activeClass("c1", "123", base, window))
	records := &fakeRecords{}

	clock := base
	throttle := NewMemoryThrottle()
	throttle.now = func() time.Time { return clock }
	svc := NewService(classes, records, throttle, window, 180*time.Second)
	svc.now = func() time.Time { return clock }

	if _, err := svc.CheckIn(context.Background(), "c1", "A17", "123", "client-a"); err != nil {
		t.Fatalf("first submission: %v", err)
	}

	clock = base.Add(30 * time.Second)
	_, err := svc.CheckIn(context.Background(), "c1", "A17", "123", "client-a")
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("second submission: got %v, want ThrottledError", err)
	}
	if throttled.Wait <= 0 {
		t.Errorf("remaining wait = %v, want > 0", throttled.Wait)
	}

	// A different client is unaffected.
	if _, err := svc.CheckIn(context.Background(), "c1", "B22", "123", "client-b"); err != nil {
		t.Fatalf("other client: %v", err)
	}

	// After the window the same client is accepted again.
	clock = base.Add(181 * time.Second)
	if _, err := svc.CheckIn(context.Background(), "c1", "A17", "123", "client-a"); err != nil {
		t.Fatalf("third submission after window: %v", err)
	}
}

func TestCheckInValidationIsIdempotent(t *testing.T) {
	base := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	classes := newFakeClasses(activeClass("c1", "123", base, testWindow))

	// Same (code, identifier, timestamp) triple against an unchanged class
	// record: the accept/reject outcome must not depend on hidden state.
	for i := 0; i < 3; i++ {
		svc := newCheckinService(classes, &fakeRecords{}, base.Add(time.Minute))
		if _, err := svc.CheckIn(context.Background(), "c1", "A17", "123", "client-a"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		svc := newCheckinService(classes, &fakeRecords{}, base.Add(time.Minute))
		if _, err := svc.CheckIn(context.Background(), "c1", "A17", "999", "client-a"); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidCode", i, err)
		}
	}
}

func TestCheckInStoreWriteFailure(t *testing.T) {
	base := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	classes := newFakeClasses(activeClass("c1", "123", base, testWindow))
	records := &fakeRecords{insertErr: errors.New("connection reset")}
	svc := newCheckinService(classes, records, base.Add(time.Minute))

	_, err := svc.CheckIn(context.Background(), "c1", "A17", "123", "client-a")
	if err == nil {
		t.Fatal("want insert error surfaced")
	}

	// A failed write must not arm the throttle.
	records.insertErr = nil
	if _, err := svc.CheckIn(context.Background(), "c1", "A17", "123", "client-a"); err != nil {
		t.Fatalf("retry after store recovery: %v", err)
	}
}
