package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/mate-community/mate/internal/platform/errors"
	"github.com/mate-community/mate/internal/services/auth/storage"
	"github.com/mate-community/mate/internal/services/auth/user"
)

var (
	// ErrPrincipalNotFound indicates no account exists for the identity.
	ErrPrincipalNotFound = apperrors.New(apperrors.CodePrincipalNotFound, "no account for identity")
	// ErrNoCredentialsRegistered indicates the account has zero passkeys.
	ErrNoCredentialsRegistered = apperrors.New(apperrors.CodeNoCredentialsRegistered, "no passkeys registered for account")
	// ErrUnknownCredential indicates the asserted credential id is not registered
	// to the identity. There is deliberately no fallback to another credential.
	ErrUnknownCredential = apperrors.New(apperrors.CodeUnknownCredential, "credential is not registered to identity")
	// ErrClonedAuthenticator indicates the reported signature counter did not
	// advance past the stored value, which suggests a cloned authenticator.
	ErrClonedAuthenticator = apperrors.New(apperrors.CodePossibleClonedAuthenticator, "signature counter did not advance")
)

// LoginResult reports a verified authentication ceremony.
//
// It is the signal that the caller may mint tokens for the account; the
// ceremony itself never touches token state.
type LoginResult struct {
	Account    user.User
	Credential storage.PasskeyCredential
}

// BeginLogin issues authentication options for an identity.
func (s *Service) BeginLogin(ctx context.Context, username string) (*protocol.CredentialAssertion, error) {
	ctx, span := s.tracer.Start(ctx, "passkey.begin_login")
	defer span.End()

	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}

	if _, err := s.users.GetUserByUsername(ctx, username); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	ceremony, _, err := s.loadCeremonyUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(ceremony.credentials) == 0 {
		return nil, ErrNoCredentialsRegistered
	}

	assertion, session, err := s.web.BeginLogin(ceremony,
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}

	if _, err := s.challenges.Issue(ctx, username, IntentLogin, session); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishLogin verifies an assertion response against a stored credential.
//
// The submitted credential id must match one of the identity's registered
// credentials exactly; a miss is UNKNOWN_CREDENTIAL, never a silent fallback
// to some other stored key. On success the stored counter is advanced and the
// caller receives the signal to mint tokens.
func (s *Service) FinishLogin(ctx context.Context, username string, responseJSON []byte) (LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "passkey.finish_login")
	defer span.End()

	if err := user.ValidateUsername(username); err != nil {
		return LoginResult{}, err
	}

	account, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return LoginResult{}, ErrPrincipalNotFound
		}
		return LoginResult{}, fmt.Errorf("load account: %w", err)
	}

	session, err := s.challenges.Consume(ctx, username, IntentLogin)
	if err != nil {
		return LoginResult{}, err
	}

	ceremony, records, err := s.loadCeremonyUser(ctx, username)
	if err != nil {
		return LoginResult{}, err
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return LoginResult{}, apperrors.Wrap(apperrors.CodeAssertionInvalid, "parse assertion response", err)
	}

	credentialID := EncodeCredentialID(parsed.RawID)
	var matched *storage.PasskeyCredential
	for i := range records {
		if records[i].CredentialID == credentialID {
			matched = &records[i]
			break
		}
	}
	if matched == nil {
		return LoginResult{}, ErrUnknownCredential
	}

	validated, err := s.web.ValidateLogin(ceremony, session, parsed)
	if err != nil {
		return LoginResult{}, apperrors.Wrap(apperrors.CodeAssertionInvalid, "verify assertion response", err)
	}

	// Clone detection: an authenticator that supports counters must report a
	// strictly increasing value. A stored counter of zero means the device
	// does not count, so whatever is reported is accepted.
	reported := parsed.Response.AuthenticatorData.Counter
	if matched.SignCount != 0 && reported <= matched.SignCount {
		log.Printf("possible cloned authenticator for %s: credential %s reported counter %d, stored %d",
			username, credentialID, reported, matched.SignCount)
		return LoginResult{}, ErrClonedAuthenticator
	}

	validated.Authenticator.SignCount = reported
	credentialJSON, err := json.Marshal(validated)
	if err != nil {
		return LoginResult{}, fmt.Errorf("encode credential: %w", err)
	}

	now := s.clock().UTC()
	if err := s.passkeys.UpdatePasskeyCredentialCounter(ctx, credentialID, reported, string(credentialJSON), now); err != nil {
		return LoginResult{}, fmt.Errorf("update credential counter: %w", err)
	}

	updated := *matched
	updated.SignCount = reported
	updated.CredentialJSON = string(credentialJSON)
	updated.UpdatedAt = now
	updated.LastUsedAt = &now

	return LoginResult{Account: account, Credential: updated}, nil
}
