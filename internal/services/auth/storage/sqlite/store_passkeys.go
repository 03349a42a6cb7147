package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mate-community/mate/internal/services/auth/storage"
)

// InsertPasskeyCredential adds a newly registered credential.
func (s *Store) InsertPasskeyCredential(ctx context.Context, credential storage.PasskeyCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if strings.TrimSpace(credential.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO passkeys (
	credential_id,
	username,
	public_key,
	sign_count,
	device_label,
	credential_json,
	created_at,
	updated_at,
	last_used_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		credential.CredentialID,
		credential.Username,
		credential.PublicKey,
		int64(credential.SignCount),
		credential.DeviceLabel,
		credential.CredentialJSON,
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		lastUsed,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrDuplicateCredential
		}
		return fmt.Errorf("insert passkey: %w", err)
	}
	return nil
}

// GetPasskeyCredential fetches a stored credential by credential id.
func (s *Store) GetPasskeyCredential(ctx context.Context, credentialID string) (storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasskeyCredential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PasskeyCredential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.PasskeyCredential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT credential_id, username, public_key, sign_count, device_label, credential_json, created_at, updated_at, last_used_at
FROM passkeys
WHERE credential_id = ?
`, credentialID)

	credential, err := scanPasskey(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeyCredential{}, storage.ErrNotFound
		}
		return storage.PasskeyCredential{}, fmt.Errorf("get passkey: %w", err)
	}
	return credential, nil
}

// ListPasskeyCredentials returns a user's credentials ordered by creation time.
func (s *Store) ListPasskeyCredentials(ctx context.Context, username string) ([]storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("username is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT credential_id, username, public_key, sign_count, device_label, credential_json, created_at, updated_at, last_used_at
FROM passkeys
WHERE username = ?
ORDER BY created_at ASC, credential_id ASC
`, username)
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	defer rows.Close()

	credentials := make([]storage.PasskeyCredential, 0)
	for rows.Next() {
		credential, err := scanPasskey(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan passkey: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	return credentials, nil
}

// UpdatePasskeyCredentialCounter overwrites the counter after a validated assertion.
func (s *Store) UpdatePasskeyCredentialCounter(ctx context.Context, credentialID string, signCount uint32, credentialJSON string, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE passkeys
SET sign_count = ?, credential_json = ?, updated_at = ?, last_used_at = ?
WHERE credential_id = ?
`,
		int64(signCount),
		credentialJSON,
		toMillis(usedAt),
		toMillis(usedAt),
		credentialID,
	)
	if err != nil {
		return fmt.Errorf("update passkey counter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update passkey counter: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RemovePasskeyCredential deletes a credential on behalf of a user.
//
// The ownership check, the count guard, and the delete run inside one
// transaction so two concurrent removals cannot both pass the guard and leave
// the user with zero credentials.
func (s *Store) RemovePasskeyCredential(ctx context.Context, credentialID string, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("username is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove passkey: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT username FROM passkeys WHERE credential_id = ?`, credentialID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("load passkey owner: %w", err)
	}
	if owner != username {
		return storage.ErrCredentialNotOwned
	}

	// The count guard is part of the delete statement itself, so the guard and
	// the delete cannot be separated by a concurrent writer.
	result, err := tx.ExecContext(ctx, `
DELETE FROM passkeys
WHERE credential_id = ?
  AND (SELECT COUNT(*) FROM passkeys WHERE username = ?) > 1
`, credentialID, username)
	if err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	if affected == 0 {
		return storage.ErrLastCredential
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove passkey: %w", err)
	}
	return nil
}

// PutPasskeyChallenge upserts the single challenge slot for an identity.
func (s *Store) PutPasskeyChallenge(ctx context.Context, challenge storage.PasskeyChallenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challenge.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if strings.TrimSpace(challenge.Intent) == "" {
		return fmt.Errorf("intent is required")
	}
	if strings.TrimSpace(challenge.SessionJSON) == "" {
		return fmt.Errorf("session json is required")
	}

	// Single upsert, not read-modify-write: concurrent begins for the same
	// identity resolve to latest-request-wins without a lost-update window.
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO passkey_challenges (username, intent, session_json, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(username) DO UPDATE SET
	intent = excluded.intent,
	session_json = excluded.session_json,
	created_at = excluded.created_at
`,
		challenge.Username,
		challenge.Intent,
		challenge.SessionJSON,
		toMillis(challenge.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put passkey challenge: %w", err)
	}
	return nil
}

// TakePasskeyChallenge removes and returns the challenge slot for an identity.
func (s *Store) TakePasskeyChallenge(ctx context.Context, username string) (storage.PasskeyChallenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasskeyChallenge{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PasskeyChallenge{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(username) == "" {
		return storage.PasskeyChallenge{}, fmt.Errorf("username is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM passkey_challenges
WHERE username = ?
RETURNING username, intent, session_json, created_at
`, username)

	var challenge storage.PasskeyChallenge
	var createdAt int64
	if err := row.Scan(&challenge.Username, &challenge.Intent, &challenge.SessionJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeyChallenge{}, storage.ErrNotFound
		}
		return storage.PasskeyChallenge{}, fmt.Errorf("take passkey challenge: %w", err)
	}
	challenge.CreatedAt = fromMillis(createdAt)
	return challenge, nil
}

// DeleteExpiredPasskeyChallenges sweeps slots created before the cutoff.
func (s *Store) DeleteExpiredPasskeyChallenges(ctx context.Context, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM passkey_challenges WHERE created_at < ?`, toMillis(before))
	if err != nil {
		return fmt.Errorf("delete expired passkey challenges: %w", err)
	}
	return nil
}

func scanPasskey(scan func(dest ...any) error) (storage.PasskeyCredential, error) {
	var credential storage.PasskeyCredential
	var signCount int64
	var createdAt int64
	var updatedAt int64
	var lastUsed sql.NullInt64
	if err := scan(
		&credential.CredentialID,
		&credential.Username,
		&credential.PublicKey,
		&signCount,
		&credential.DeviceLabel,
		&credential.CredentialJSON,
		&createdAt,
		&updatedAt,
		&lastUsed,
	); err != nil {
		return storage.PasskeyCredential{}, err
	}
	credential.SignCount = uint32(signCount)
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}
