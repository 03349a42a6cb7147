package passkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/mate-community/mate/internal/platform/errors"
	"github.com/mate-community/mate/internal/services/auth/storage"
)

// ErrCredentialNotFound indicates a lifecycle operation referenced a missing credential.
var ErrCredentialNotFound = apperrors.New(apperrors.CodeNotFound, "credential not found")

// CredentialSummary is the client-safe view of a registered credential.
// Key material and raw credential payloads never leave the service.
type CredentialSummary struct {
	CredentialID string
	DeviceLabel  string
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

// ListCredentials returns summaries of an identity's registered credentials,
// ordered by creation time.
func (s *Service) ListCredentials(ctx context.Context, username string) ([]CredentialSummary, error) {
	ctx, span := s.tracer.Start(ctx, "passkey.list_credentials")
	defer span.End()

	records, err := s.passkeys.ListPasskeyCredentials(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	summaries := make([]CredentialSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, CredentialSummary{
			CredentialID: record.CredentialID,
			DeviceLabel:  record.DeviceLabel,
			CreatedAt:    record.CreatedAt,
			LastUsedAt:   record.LastUsedAt,
		})
	}
	return summaries, nil
}

// RevokeCredential removes one of the identity's credentials.
//
// A passkey-only account with zero authenticators is permanently unreachable,
// so removing the last credential is refused.
func (s *Service) RevokeCredential(ctx context.Context, username string, credentialID string) error {
	ctx, span := s.tracer.Start(ctx, "passkey.revoke_credential")
	defer span.End()

	err := s.passkeys.RemovePasskeyCredential(ctx, credentialID, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrCredentialNotFound
		}
		// Ownership and last-credential violations carry their own codes.
		return err
	}
	return nil
}
