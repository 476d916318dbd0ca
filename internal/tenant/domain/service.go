package domain

import (
	"context"
	"errors"
)

// IdentityRequest is the decoded payload of POST /auth/identity:
// either claims parsed from a provider credential or the bare fields.
type IdentityRequest struct {
	Email   string
	Name    string
	Picture string
}

type Service interface {
	// EnsureFromIdentity upserts the tenant keyed by email and
	// returns it. The first handshake creates the row.
	EnsureFromIdentity(ctx context.Context, req IdentityRequest) (Tenant, error)
	GetByID(ctx context.Context, id string) (Tenant, error)
	GetByEmail(ctx context.Context, email string) (Tenant, error)
	// ResolveSoftMatch returns the most recently created tenant on
	// the highest plan. Used only by the gated OAuth fallback.
	ResolveSoftMatch(ctx context.Context) (Tenant, error)
	RecordSolve(ctx context.Context, id string) error
}

var (
	ErrInvalidEmail = errors.New("invalid_email")
	ErrInvalidID    = errors.New("invalid_id")
	ErrNotFound     = errors.New("not_found")
)
