package account

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"presenzo/internal/auth"
)

var (
	// ErrEmailTaken rejects a sign-up against an existing account.
	ErrEmailTaken = errors.New("this email is already registered")
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("incorrect email or password")
	// ErrInvalidRefreshToken rejects unknown, revoked, or expired tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// Store is the persistence surface the service needs; satisfied by
// *Repository.
type Store interface {
	Insert(ctx context.Context, ins Instructor) (Instructor, error)
	GetByEmail(ctx context.Context, email string) (*Instructor, error)
	SaveRefreshToken(ctx context.Context, instructorID, token string, expiresAt time.Time) error
	RefreshTokenValid(ctx context.Context, token string, now time.Time) (bool, error)
	RevokeRefreshToken(ctx context.Context, token string) error
}

// TokenConfig holds the JWT parameters for issued sessions.
type TokenConfig struct {
	Issuer      string
	SigningKey  string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration // session-only persistence
	RememberTTL time.Duration // durable persistence ("remember me")
}

// Service handles instructor sign-up, login, refresh rotation, and logout.
type Service struct {
	store  Store
	tokens TokenConfig
}

// NewService creates an account service.
func NewService(store Store, tokens TokenConfig) *Service {
	return &Service{store: store, tokens: tokens}
}

// SignUp registers an instructor and logs them in.
func (s *Service) SignUp(ctx context.Context, email, password string, remember bool) (Instructor, auth.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return Instructor{}, auth.TokenPair{}, errors.New("valid email required")
	}
	if err := ValidatePassword(password); err != nil {
		return Instructor{}, auth.TokenPair{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Instructor{}, auth.TokenPair{}, err
	}
	ins, err := s.store.Insert(ctx, Instructor{Email: email, PasswordHash: string(hash)})
	if err != nil {
		return Instructor{}, auth.TokenPair{}, err
	}
	pair, err := s.issue(ctx, ins.ID, remember)
	return ins, pair, err
}

// Login verifies credentials and issues a token pair. remember selects the
// durable refresh TTL.
func (s *Service) Login(ctx context.Context, email, password string, remember bool) (Instructor, auth.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	ins, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return Instructor{}, auth.TokenPair{}, err
	}
	if ins == nil {
		return Instructor{}, auth.TokenPair{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(ins.PasswordHash), []byte(password)) != nil {
		return Instructor{}, auth.TokenPair{}, ErrInvalidCredentials
	}
	pair, err := s.issue(ctx, ins.ID, remember)
	return *ins, pair, err
}

// Refresh rotates a refresh token: the old token is revoked and a fresh pair
// issued. Revoked or expired tokens are rejected.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	claims, err := auth.Parse(refreshToken, s.tokens.SigningKey, s.tokens.Issuer)
	if err != nil {
		return auth.TokenPair{}, ErrInvalidRefreshToken
	}
	ok, err := s.store.RefreshTokenValid(ctx, refreshToken, time.Now())
	if err != nil {
		return auth.TokenPair{}, err
	}
	if !ok {
		return auth.TokenPair{}, ErrInvalidRefreshToken
	}
	if err := s.store.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return auth.TokenPair{}, err
	}
	return s.issue(ctx, claims.Subject, false)
}

// Logout revokes the refresh token; the access token simply ages out.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.store.RevokeRefreshToken(ctx, refreshToken)
}

func (s *Service) issue(ctx context.Context, instructorID string, remember bool) (auth.TokenPair, error) {
	refreshTTL := s.tokens.RefreshTTL
	if remember {
		refreshTTL = s.tokens.RememberTTL
	}
	pair, err := auth.Issue(instructorID, auth.RoleInstructor, s.tokens.Issuer, s.tokens.SigningKey, s.tokens.AccessTTL, refreshTTL)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.store.SaveRefreshToken(ctx, instructorID, pair.RefreshToken, pair.RefreshExp); err != nil {
		return auth.TokenPair{}, err
	}
	return pair, nil
}

// ValidatePassword enforces the sign-up password rule: at least 6
// characters with an upper-case letter, a lower-case letter, and a digit.
func ValidatePassword(password string) error {
	if len(password) < 6 {
		return errors.New("password must be at least 6 characters long")
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !lower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !digit {
		return errors.New("password must contain at least one number")
	}
	return nil
}
