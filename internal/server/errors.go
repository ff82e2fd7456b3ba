// Package server implements the HTTP surface (spec.md §6): gin route
// groups, JWT/CORS middleware, and the handlers wiring together the sync
// decision engine, upload session manager, auth service, and event bus.
// Grounded on OllamaMax's pkg/api/server.go route/middleware shape.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tonimelisma/filesync-core/internal/auth"
	"github.com/tonimelisma/filesync-core/internal/decision"
	"github.com/tonimelisma/filesync-core/internal/repository"
	"github.com/tonimelisma/filesync-core/internal/storage"
	"github.com/tonimelisma/filesync-core/internal/uploadsession"
)

// errMissingBearer is the AuthError cause when the Authorization header is
// absent or not a Bearer token.
var errMissingBearer = errors.New("server: missing bearer token")

// Typed error taxonomy (spec.md §7), translated to HTTP status by
// statusFor below. ValidationError/NotFoundError/etc. wrap an underlying
// cause so %w chains still work with errors.Is/As against the cause.
type (
	// ValidationError covers bad input: malformed fields, size mismatches,
	// unknown enum values. Maps to 400.
	ValidationError struct{ Err error }

	// NotFoundError covers an unknown file, session, or user. Maps to 404.
	NotFoundError struct{ Err error }

	// IntegrityError covers checksum or assembled-size mismatches. Maps to 422.
	IntegrityError struct{ Err error }

	// AuthError covers missing/invalid credentials or tokens. Maps to 401.
	AuthError struct{ Err error }

	// ExpiredSessionError covers an upload session past its TTL. Maps to 410.
	ExpiredSessionError struct{ Err error }
)

func (e *ValidationError) Error() string      { return e.Err.Error() }
func (e *ValidationError) Unwrap() error       { return e.Err }
func (e *NotFoundError) Error() string         { return e.Err.Error() }
func (e *NotFoundError) Unwrap() error         { return e.Err }
func (e *IntegrityError) Error() string        { return e.Err.Error() }
func (e *IntegrityError) Unwrap() error        { return e.Err }
func (e *AuthError) Error() string             { return e.Err.Error() }
func (e *AuthError) Unwrap() error             { return e.Err }
func (e *ExpiredSessionError) Error() string   { return e.Err.Error() }
func (e *ExpiredSessionError) Unwrap() error   { return e.Err }

// classify maps a sentinel error returned by a core component to the
// taxonomy in spec.md §7, since uploadsession/repository/decision return
// plain sentinel-wrapped errors rather than these HTTP-shaped types.
func classify(err error) error {
	switch {
	case err == nil:
		return nil

	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, uploadsession.ErrNotFound),
		errors.Is(err, decision.ErrUserNotFound):
		return &NotFoundError{Err: err}

	case errors.Is(err, uploadsession.ErrExpired):
		return &ExpiredSessionError{Err: err}

	case errors.Is(err, uploadsession.ErrIntegrity):
		return &IntegrityError{Err: err}

	case errors.Is(err, storage.ErrStorage):
		return err

	case errors.Is(err, uploadsession.ErrValidation),
		errors.Is(err, uploadsession.ErrTooManyActive),
		errors.Is(err, decision.ErrBusy):
		return &ValidationError{Err: err}

	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return &AuthError{Err: err}

	default:
		return err
	}
}

// statusFor returns the HTTP status spec.md §7 assigns to err's taxonomy
// class, defaulting to 500 for anything unclassified (storage and database
// failures). Rows a sync submission wrote before such a failure are not
// rolled back.
func statusFor(err error) int {
	var (
		ve *ValidationError
		nf *NotFoundError
		ie *IntegrityError
		ae *AuthError
		ex *ExpiredSessionError
	)

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ie):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	case errors.As(err, &ex):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// respondErr classifies err against the taxonomy and writes the
// corresponding JSON error response.
func respondErr(c *gin.Context, err error) {
	classified := classify(err)
	c.JSON(statusFor(classified), gin.H{"error": classified.Error()})
}
