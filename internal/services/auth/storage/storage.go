// Package storage defines persistence contracts for the auth service.
package storage

import (
	"context"
	"time"

	"github.com/mate-community/mate/internal/platform/errors"
	"github.com/mate-community/mate/internal/services/auth/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrUsernameTaken indicates a user record already exists for a username.
var ErrUsernameTaken = errors.New(errors.CodeUsernameTaken, "username is already taken")

// ErrDuplicateCredential indicates a credential id is already registered.
// Credential ids are authenticator-global, not scoped per user.
var ErrDuplicateCredential = errors.New(errors.CodeDuplicateCredential, "credential id is already registered")

// ErrCredentialNotOwned indicates a credential belongs to a different user.
var ErrCredentialNotOwned = errors.New(errors.CodeNotAuthorized, "credential belongs to a different user")

// ErrLastCredential indicates a removal would leave a user with zero credentials.
var ErrLastCredential = errors.New(errors.CodeLastCredential, "cannot remove the last registered credential")

// UserStore persists auth user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
}

// PasskeyCredential stores one registered WebAuthn authenticator.
//
// Username is the owning principal identity rather than a foreign key to the
// users table: registration may complete before the account row exists.
type PasskeyCredential struct {
	CredentialID   string // base64url raw credential id
	Username       string
	PublicKey      []byte
	SignCount      uint32
	DeviceLabel    string
	CredentialJSON string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// PasskeyChallenge stores the outstanding ceremony state for one identity.
// At most one row exists per username; issuing overwrites the slot.
type PasskeyChallenge struct {
	Username    string
	Intent      string
	SessionJSON string
	CreatedAt   time.Time
}

// PasskeyStore persists WebAuthn credential and challenge data.
type PasskeyStore interface {
	// InsertPasskeyCredential adds a new credential.
	// Fails with ErrDuplicateCredential if the credential id exists.
	InsertPasskeyCredential(ctx context.Context, credential PasskeyCredential) error
	GetPasskeyCredential(ctx context.Context, credentialID string) (PasskeyCredential, error)
	// ListPasskeyCredentials returns a user's credentials ordered by creation time.
	ListPasskeyCredentials(ctx context.Context, username string) ([]PasskeyCredential, error)
	// UpdatePasskeyCredentialCounter overwrites the stored counter and credential
	// payload after a validated assertion. The caller has already checked the new
	// counter against the previous value.
	UpdatePasskeyCredentialCounter(ctx context.Context, credentialID string, signCount uint32, credentialJSON string, usedAt time.Time) error
	// RemovePasskeyCredential deletes a credential on behalf of a user.
	// Fails with ErrNotFound, ErrCredentialNotOwned, or ErrLastCredential.
	// The count guard and the delete run in one transaction.
	RemovePasskeyCredential(ctx context.Context, credentialID string, username string) error

	// PutPasskeyChallenge upserts the single challenge slot for an identity.
	PutPasskeyChallenge(ctx context.Context, challenge PasskeyChallenge) error
	// TakePasskeyChallenge removes and returns the challenge slot for an
	// identity. Fails with ErrNotFound when no slot exists. The read and the
	// delete run in one transaction so a challenge is consumable exactly once.
	TakePasskeyChallenge(ctx context.Context, username string) (PasskeyChallenge, error)
	// DeleteExpiredPasskeyChallenges sweeps slots created before the cutoff.
	DeleteExpiredPasskeyChallenges(ctx context.Context, before time.Time) error
}
