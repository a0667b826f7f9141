// Package auth issues and verifies user credentials: bcrypt password hashes
// and HS256 JWT access tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mnemolab/mnemo/internal/apperrors"
	"github.com/mnemolab/mnemo/internal/config"
	"github.com/mnemolab/mnemo/internal/store"
)

const (
	issuer          = "mnemo"
	minPasswordLen  = 8
	maxPasswordLen  = 72 // bcrypt input limit
	defaultTokenTTL = 24 * time.Hour
)

// ErrInvalidCredentials is returned for any login failure. One error for
// unknown email and wrong password, so responses never reveal whether an
// email is registered.
var ErrInvalidCredentials = errors.New("invalid email or password")

// UserStore is the persistence surface auth needs.
type UserStore interface {
	CreateUser(ctx context.Context, u *store.User) error
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
}

type Service struct {
	store  UserStore
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
}

func NewService(us UserStore, cfg config.AuthConfig, logger *zap.Logger) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret not configured")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: us, secret: []byte(cfg.JWTSecret), ttl: ttl, logger: logger}, nil
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, email, password, name string) (*store.User, error) {
	const op = "auth.Register"
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.E(apperrors.Validation, op, fmt.Errorf("invalid email"))
	}
	if len(password) < minPasswordLen {
		return nil, apperrors.E(apperrors.Validation, op, fmt.Errorf("password must be at least %d characters", minPasswordLen))
	}
	if len(password) > maxPasswordLen {
		return nil, apperrors.E(apperrors.Validation, op, fmt.Errorf("password must be at most %d characters", maxPasswordLen))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.E(apperrors.Internal, op, err)
	}

	u := &store.User{Email: email, CredentialHash: string(hash), Name: name}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, apperrors.E(apperrors.Internal, op, fmt.Errorf("create user: %w", err))
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID.String()))
	return u, nil
}

// Login verifies the password and mints an access token. All failures map to
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	const op = "auth.Login"
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return "", nil, apperrors.E(apperrors.Internal, op, err)
		}
		// burn comparable time so unknown emails are not distinguishable
		// by response latency
		bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B4VXG1sY4d1V9Y3p1pG9m1m9m1m9"), []byte(password))
		return "", nil, apperrors.E(apperrors.Unauthorized, op, ErrInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.CredentialHash), []byte(password)); err != nil {
		return "", nil, apperrors.E(apperrors.Unauthorized, op, ErrInvalidCredentials)
	}

	token, err := s.mintToken(u.ID)
	if err != nil {
		return "", nil, apperrors.E(apperrors.Internal, op, err)
	}
	return token, u, nil
}

func (s *Service) mintToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses the token and returns the authenticated user id.
func (s *Service) Verify(tokenString string) (uuid.UUID, error) {
	const op = "auth.Verify"
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, apperrors.E(apperrors.Unauthorized, op, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return uuid.Nil, apperrors.E(apperrors.Unauthorized, op, fmt.Errorf("invalid token"))
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperrors.E(apperrors.Unauthorized, op, fmt.Errorf("invalid subject: %w", err))
	}
	return userID, nil
}
