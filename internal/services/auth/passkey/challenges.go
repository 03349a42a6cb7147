package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/mate-community/mate/internal/platform/errors"
	"github.com/mate-community/mate/internal/services/auth/storage"
)

var (
	// ErrChallengeNotFound indicates no outstanding challenge exists for an identity.
	ErrChallengeNotFound = apperrors.New(apperrors.CodeChallengeNotFound, "no outstanding challenge for identity")
	// ErrChallengeExpired indicates the outstanding challenge aged past its TTL.
	ErrChallengeExpired = apperrors.New(apperrors.CodeChallengeExpired, "challenge has expired")
)

// ChallengeStore issues and consumes single-use ceremony challenges.
//
// Each identity owns one slot: issuing replaces whatever was outstanding
// (latest request wins), and consuming removes the slot whether or not the
// challenge is still fresh. Expired entries are deleted at consumption time,
// so no sweep is required for correctness; the app server still runs one to
// keep abandoned ceremonies from accumulating.
type ChallengeStore struct {
	store storage.PasskeyStore
	ttl   time.Duration
	now   func() time.Time
}

// NewChallengeStore wraps a passkey store with TTL semantics.
func NewChallengeStore(store storage.PasskeyStore, ttl time.Duration, now func() time.Time) *ChallengeStore {
	if now == nil {
		now = time.Now
	}
	return &ChallengeStore{store: store, ttl: ttl, now: now}
}

// Issue persists the ceremony session for an identity and returns the raw
// challenge bytes embedded in it. Any prior unconsumed challenge for the
// identity is overwritten atomically.
func (c *ChallengeStore) Issue(ctx context.Context, username string, intent Intent, session *webauthn.SessionData) ([]byte, error) {
	if session == nil {
		return nil, fmt.Errorf("session data is required")
	}
	challengeBytes, err := base64.RawURLEncoding.DecodeString(session.Challenge)
	if err != nil {
		return nil, fmt.Errorf("decode session challenge: %w", err)
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode session data: %w", err)
	}

	err = c.store.PutPasskeyChallenge(ctx, storage.PasskeyChallenge{
		Username:    username,
		Intent:      string(intent),
		SessionJSON: string(payload),
		CreatedAt:   c.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return challengeBytes, nil
}

// Sweep deletes challenge slots that aged past the TTL. Consume already
// rejects stale slots, so this only reclaims rows from abandoned ceremonies.
func (c *ChallengeStore) Sweep(ctx context.Context) error {
	cutoff := c.now().UTC().Add(-c.ttl)
	if err := c.store.DeleteExpiredPasskeyChallenges(ctx, cutoff); err != nil {
		return fmt.Errorf("sweep challenges: %w", err)
	}
	return nil
}

// Consume removes and returns the ceremony session for an identity.
//
// Missing slot: ErrChallengeNotFound. Stale slot: deleted, ErrChallengeExpired.
// A slot issued for a different ceremony intent reports ErrChallengeNotFound,
// since the caller's own challenge was overwritten by a later begin.
func (c *ChallengeStore) Consume(ctx context.Context, username string, intent Intent) (webauthn.SessionData, error) {
	taken, err := c.store.TakePasskeyChallenge(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return webauthn.SessionData{}, ErrChallengeNotFound
		}
		return webauthn.SessionData{}, fmt.Errorf("take challenge: %w", err)
	}

	if c.now().UTC().Sub(taken.CreatedAt) > c.ttl {
		return webauthn.SessionData{}, ErrChallengeExpired
	}
	if taken.Intent != string(intent) {
		return webauthn.SessionData{}, ErrChallengeNotFound
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(taken.SessionJSON), &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode session data: %w", err)
	}
	return session, nil
}
