// Package auth implements bearer-token issuance and verification for the
// sync HTTP API (spec.md §6). Grounded on OllamaMax's pkg/auth/jwt.go
// JWTService, simplified from that service's RSA keypair (meant for
// multi-service trust across a cluster) to a single shared HMAC secret,
// since this server has exactly one issuer and one verifier. Password
// hashing follows pkg/database/repository_users.go's bcrypt usage.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tonimelisma/filesync-core/internal/repository"
)

// AccessTokenTTL and RefreshTokenTTL bound token lifetimes (spec.md §6).
const (
	AccessTokenTTL  = 1 * time.Hour
	RefreshTokenTTL = 30 * 24 * time.Hour
)

const issuer = "filesync-core"

// ErrInvalidCredentials covers unknown usernames and password mismatches,
// deliberately not distinguished to avoid leaking which one failed.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrInvalidToken covers expired, malformed, or wrong-type tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the JWT payload. Audience distinguishes access tokens from
// refresh tokens so a refresh token cannot be replayed as an access token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

const (
	audienceAccess  = "filesync-access"
	audienceRefresh = "filesync-refresh"
)

// Service issues and verifies bearer tokens against a shared secret.
type Service struct {
	secret []byte
	store  repository.Store
}

// NewService constructs a Service. secret must be non-empty.
func NewService(secret []byte, store repository.Store) *Service {
	return &Service{secret: secret, store: store}
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Login verifies username/password and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, *repository.User, error) {
	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}

		return nil, nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issue(user.Username)
	if err != nil {
		return nil, nil, err
	}

	return pair, user, nil
}

// Register creates a new user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, user *repository.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user.PasswordHash = string(hash)

	if err := s.store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

// Refresh validates a refresh token and issues a new token pair.
func (s *Service) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := s.parse(refreshToken, audienceRefresh)
	if err != nil {
		return nil, err
	}

	return s.issue(claims.Username)
}

// Verify validates an access token and returns the authenticated username.
func (s *Service) Verify(accessToken string) (string, error) {
	claims, err := s.parse(accessToken, audienceAccess)
	if err != nil {
		return "", err
	}

	return claims.Username, nil
}

func (s *Service) issue(username string) (*TokenPair, error) {
	now := time.Now()

	access, err := s.sign(username, audienceAccess, now.Add(AccessTokenTTL))
	if err != nil {
		return nil, err
	}

	refresh, err := s.sign(username, audienceRefresh, now.Add(RefreshTokenTTL))
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(AccessTokenTTL.Seconds())}, nil
}

func (s *Service) sign(username, audience string, expiresAt time.Time) (string, error) {
	now := time.Now()

	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: issuer, Subject: username, Audience: jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt), IssuedAt: jwt.NewNumericDate(now), NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

func (s *Service) parse(tokenString, wantAudience string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}

		return s.secret, nil
	}, jwt.WithAudience(wantAudience), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
