package passkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/mate-community/mate/internal/platform/errors"
	"github.com/mate-community/mate/internal/services/auth/user"
	"github.com/mate-community/mate/internal/services/auth/storage"
)

// BeginRegistration issues registration options for an identity.
//
// Valid both before the account exists (signup) and after (device add). The
// identity's registered credentials are sent as exclusions so one
// authenticator cannot register twice for the same identity.
func (s *Service) BeginRegistration(ctx context.Context, username string) (*protocol.CredentialCreation, error) {
	ctx, span := s.tracer.Start(ctx, "passkey.begin_registration")
	defer span.End()

	if err := user.ValidateUsername(username); err != nil {
		return nil, err
	}

	ceremony, _, err := s.loadCeremonyUser(ctx, username)
	if err != nil {
		return nil, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithCredentialParameters(supportedCredentialParameters()),
	}
	if len(ceremony.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(ceremony.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.web.BeginRegistration(ceremony, options...)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	if _, err := s.challenges.Issue(ctx, username, IntentRegistration, session); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRegistration verifies an attestation response and persists the new
// credential.
//
// The identity's challenge is consumed first; on any verification failure the
// step is terminal and nothing is persisted. The consumed challenge is not
// restored, so the client restarts from BeginRegistration.
func (s *Service) FinishRegistration(ctx context.Context, username string, deviceLabel string, responseJSON []byte) (storage.PasskeyCredential, error) {
	ctx, span := s.tracer.Start(ctx, "passkey.finish_registration")
	defer span.End()

	if err := user.ValidateUsername(username); err != nil {
		return storage.PasskeyCredential{}, err
	}

	session, err := s.challenges.Consume(ctx, username, IntentRegistration)
	if err != nil {
		return storage.PasskeyCredential{}, err
	}

	ceremony, _, err := s.loadCeremonyUser(ctx, username)
	if err != nil {
		return storage.PasskeyCredential{}, err
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeAttestationInvalid, "parse attestation response", err)
	}

	credential, err := s.web.CreateCredential(ceremony, session, parsed)
	if err != nil {
		return storage.PasskeyCredential{}, apperrors.Wrap(apperrors.CodeAttestationInvalid, "verify attestation response", err)
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return storage.PasskeyCredential{}, fmt.Errorf("encode credential: %w", err)
	}

	now := s.clock().UTC()
	record := storage.PasskeyCredential{
		CredentialID:   EncodeCredentialID(credential.ID),
		Username:       username,
		PublicKey:      credential.PublicKey,
		SignCount:      credential.Authenticator.SignCount,
		DeviceLabel:    deviceLabel,
		CredentialJSON: string(credentialJSON),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.passkeys.InsertPasskeyCredential(ctx, record); err != nil {
		return storage.PasskeyCredential{}, err
	}
	return record, nil
}
