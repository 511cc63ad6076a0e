package account

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountRepository is the credential store. Lookups of missing rows return
// an error wrapping apperr.ErrNotFound; Create and UpdateIdentity return one
// wrapping apperr.ErrDuplicateEmail when the email is taken.
type AccountRepository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	UpdateProfile(ctx context.Context, a *Account) error
	UpdateIdentity(ctx context.Context, a *Account) error
	SetRegistrationStatus(ctx context.Context, id uuid.UUID, status RegistrationStatus) error
	// SetTwoFactorSecret stores a new secret and clears the enabled flag.
	SetTwoFactorSecret(ctx context.Context, id uuid.UUID, secret string) error
	EnableTwoFactor(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Account, int, error)
}

type SignupRequestRepository interface {
	Create(ctx context.Context, r *SignupRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*SignupRequest, error)
	// GetByIDForUpdate locks the row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*SignupRequest, error)
	ListByStatus(ctx context.Context, status SignupRequestStatus, limit, offset int) ([]*SignupRequest, int, error)
	Decide(ctx context.Context, id uuid.UUID, status SignupRequestStatus, decidedBy uuid.UUID, at time.Time) error
}
