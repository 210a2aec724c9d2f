package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"presenzo/internal/auth"
)

type memStore struct {
	mu      sync.Mutex
	byEmail map[string]Instructor
	tokens  map[string]tokenRow
}

type tokenRow struct {
	instructorID string
	expiresAt    time.Time
	revoked      bool
}

func newMemStore() *memStore {
	return &memStore{byEmail: make(map[string]Instructor), tokens: make(map[string]tokenRow)}
}

func (m *memStore) Insert(_ context.Context, ins Instructor) (Instructor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[ins.Email]; ok {
		return Instructor{}, ErrEmailTaken
	}
	ins.ID = "ins-" + ins.Email
	ins.CreatedAt = time.Now()
	m.byEmail[ins.Email] = ins
	return ins, nil
}

func (m *memStore) GetByEmail(_ context.Context, email string) (*Instructor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ins, ok := m.byEmail[email]; ok {
		return &ins, nil
	}
	return nil, nil
}

func (m *memStore) SaveRefreshToken(_ context.Context, instructorID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = tokenRow{instructorID: instructorID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) RefreshTokenValid(_ context.Context, token string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tokens[token]
	return ok && !row.revoked && row.expiresAt.After(now), nil
}

func (m *memStore) RevokeRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.tokens[token]; ok {
		row.revoked = true
		m.tokens[token] = row
	}
	return nil
}

func testService() (*Service, *memStore) {
	store := newMemStore()
	return NewService(store, TokenConfig{
		Issuer:      "presenzo-test",
		SigningKey:  "test-signing-key",
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  time.Hour,
		RememberTTL: 30 * 24 * time.Hour,
	}), store
}

func TestSignUpAndLogin(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	ins, pair, err := svc.SignUp(ctx, "Prof@Example.edu", "Secret1", false)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if ins.Email != "prof@example.edu" {
		t.Errorf("email not normalized: %q", ins.Email)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("missing tokens after sign-up")
	}

	claims, err := auth.Parse(pair.AccessToken, "test-signing-key", "presenzo-test")
	if err != nil {
		t.Fatalf("Parse access token: %v", err)
	}
	if claims.Subject != ins.ID || claims.Role != auth.RoleInstructor {
		t.Errorf("claims = %+v", claims)
	}

	if _, _, err := svc.SignUp(ctx, "prof@example.edu", "Secret1", false); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate sign-up: got %v, want ErrEmailTaken", err)
	}

	if _, _, err := svc.Login(ctx, "prof@example.edu", "Secret1", false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, _, err := svc.Login(ctx, "prof@example.edu", "wrong", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.edu", "Secret1", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestRememberExtendsRefresh(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	_, sessionOnly, err := svc.SignUp(ctx, "a@example.edu", "Secret1", false)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	_, remembered, err := svc.SignUp(ctx, "b@example.edu", "Secret1", true)
	if err != nil {
		t.Fatalf("SignUp remembered: %v", err)
	}
	if !remembered.RefreshExp.After(sessionOnly.RefreshExp.Add(24 * time.Hour)) {
		t.Errorf("remembered refresh %v not meaningfully longer than %v",
			remembered.RefreshExp, sessionOnly.RefreshExp)
	}
}

func TestRefreshRotation(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	_, pair, err := svc.SignUp(ctx, "prof@example.edu", "Secret1", false)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("refresh token not rotated")
	}

	// The old token was revoked by rotation.
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("reused token: got %v, want ErrInvalidRefreshToken", err)
	}

	// Logout revokes the current one too.
	if err := svc.Logout(ctx, next.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, next.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("after logout: got %v, want ErrInvalidRefreshToken", err)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		ok       bool
	}{
		{"valid", "Secret1", true},
		{"too short", "Ab1", false},
		{"no uppercase", "secret1", false},
		{"no lowercase", "SECRET1", false},
		{"no digit", "Secrets", false},
		{"valid mixed", "P4ssword", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.ok && err != nil {
				t.Errorf("%q rejected: %v", tt.password, err)
			}
			if !tt.ok && err == nil {
				t.Errorf("%q accepted", tt.password)
			}
		})
	}
}
