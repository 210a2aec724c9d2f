package attendance

import (
	"context"
	"sync"
	"time"

	"presenzo/internal/classroom"
	"presenzo/internal/queue"
)

// SessionStore is the class persistence the manager needs; satisfied by
// *classroom.Repository.
type SessionStore interface {
	SetAttendanceCode(ctx context.Context, id, code string, generatedAt, expiresAt time.Time) error
	ActiveAttendanceCodeExists(ctx context.Context, code, excludeClassID string, now time.Time) (bool, error)
}

// CodeSource produces attendance codes; satisfied by *codes.Generator.
type CodeSource interface {
	AttendanceCode() string
}

// Session is one active attendance window for a class.
type Session struct {
	ClassID     string    `json:"class_id"`
	Code        string    `json:"code"`
	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type sessionTimer struct {
	session Session
	timer   *time.Timer
}

// Manager owns the single active attendance code per class: generation with
// a collision check against other currently-active codes, the stored-code
// write, and a cancellable expiry timer per class. Timers only drive the
// countdown display and the expiry notification to the sweeper; validation
// recomputes expiry from the stored timestamp, so losing a timer can never
// extend a code's life.
type Manager struct {
	store SessionStore
	gen   CodeSource
	q     queue.Queue
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	active map[string]*sessionTimer // keyed by class id
}

// NewManager creates a session manager with the given validity window.
func NewManager(store SessionStore, gen CodeSource, q queue.Queue, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &Manager{
		store:  store,
		gen:    gen,
		q:      q,
		ttl:    ttl,
		now:    time.Now,
		active: make(map[string]*sessionTimer),
	}
}

// Start opens a new attendance window for the class, overwriting any code
// already active for it. The overwritten code stops validating immediately
// since validation is an exact match against the stored value.
func (m *Manager) Start(ctx context.Context, classID string) (Session, error) {
	now := m.now()
	code, err := m.freshCode(ctx, classID, now)
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		ClassID:     classID,
		Code:        code,
		GeneratedAt: now,
		ExpiresAt:   now.Add(m.ttl),
	}
	if err := m.store.SetAttendanceCode(ctx, classID, code, sess.GeneratedAt, sess.ExpiresAt); err != nil {
		// Session stays idle; the caller surfaces the error, no retry.
		return Session{}, err
	}

	m.mu.Lock()
	if prev, ok := m.active[classID]; ok {
		prev.timer.Stop()
	}
	st := &sessionTimer{session: sess}
	st.timer = time.AfterFunc(m.ttl, func() { m.expire(classID, sess) })
	m.active[classID] = st
	m.mu.Unlock()

	startedSessions.Inc()
	return sess, nil
}

func (m *Manager) freshCode(ctx context.Context, classID string, now time.Time) (string, error) {
	for i := 0; i < codeRetries; i++ {
		code := m.gen.AttendanceCode()
		taken, err := m.store.ActiveAttendanceCodeExists(ctx, code, classID, now)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", classroom.ErrCodeExhausted
}

const codeRetries = 5

func (m *Manager) expire(classID string, sess Session) {
	m.mu.Lock()
	if st, ok := m.active[classID]; ok && st.session.Code == sess.Code {
		delete(m.active, classID)
	}
	m.mu.Unlock()

	if m.q != nil {
		// Bounded so a backed-up queue cannot pin the timer goroutine; the
		// sweeper's periodic pass covers any dropped notification.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.q.Publish(ctx, queue.ExpiryMessage(classID, sess.Code))
	}
}

// Remaining reports the active session and its remaining validity for the
// instructor countdown, or false when the class is idle.
func (m *Manager) Remaining(classID string) (Session, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.active[classID]
	if !ok {
		return Session{}, 0, false
	}
	left := st.session.ExpiresAt.Sub(m.now())
	if left < 0 {
		left = 0
	}
	return st.session, left, true
}

// Stop cancels the class's timer without touching the stored code, used when
// the class itself is deleted.
func (m *Manager) Stop(classID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.active[classID]; ok {
		st.timer.Stop()
		delete(m.active, classID)
	}
}

// Close tears down every outstanding timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, st := range m.active {
		st.timer.Stop()
		delete(m.active, id)
	}
}
