// Package auth implements account registration, password verification, and
// JWT access tokens for the HTTP and WebSocket surfaces.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/parrotalk/parrotalk/pkg/history"
)

// Errors returned by the Service.
var (
	// ErrInvalidCredentials is returned for a wrong email/password pair.
	// Unknown email and wrong password are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken is returned for expired, malformed, or forged tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// defaultTokenTTL is how long issued access tokens stay valid.
const defaultTokenTTL = 30 * time.Minute

// minPasswordLen rejects trivially weak passwords at signup.
const minPasswordLen = 8

// Service issues and verifies credentials backed by a [history.UserStore].
type Service struct {
	users    history.UserStore
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithTokenTTL overrides the access token lifetime. Default 30 minutes.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.tokenTTL = ttl }
}

// WithNow overrides the time source. Used by tests.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service signing tokens with secret.
func NewService(users history.UserStore, secret []byte, opts ...ServiceOption) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	s := &Service{
		users:    users,
		secret:   secret,
		tokenTTL: defaultTokenTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Signup registers a new account. The password is bcrypt-hashed before it
// reaches the store. Returns [history.ErrEmailTaken] on duplicates.
func (s *Service) Signup(ctx context.Context, email, password string) (*history.User, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("auth: invalid email: %w", err)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("auth: password must be at least %d characters", minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	return s.users.CreateUser(ctx, email, string(hash))
}

// Login verifies the credentials and returns a signed access token plus the
// authenticated user.
func (s *Service) Login(ctx context.Context, email, password string) (string, *history.User, error) {
	user, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, history.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("auth: lookup user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueToken signs a token whose subject is the user ID.
func (s *Service) IssueToken(userID int64) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

// VerifyToken validates a token and returns the user ID it was issued for.
func (s *Service) VerifyToken(tokenString string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
