package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mate-community/mate/internal/services/auth/storage"
	"github.com/mate-community/mate/internal/services/auth/user"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testCredential(credentialID, username string, createdAt time.Time) storage.PasskeyCredential {
	return storage.PasskeyCredential{
		CredentialID:   credentialID,
		Username:       username,
		PublicKey:      []byte{0x01, 0x02, 0x03},
		SignCount:      0,
		DeviceLabel:    "MacBook Touch ID",
		CredentialJSON: `{"id":"` + credentialID + `"}`,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestCreateUserAndLookup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	u := user.User{ID: "user-1", Username: "alice", Nickname: "Alice", Email: "alice@snu.ac.kr", CreatedAt: now, UpdatedAt: now}
	if err := store.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}

	byID, err := store.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if byID.Username != "alice" {
		t.Fatalf("username = %q, want %q", byID.Username, "alice")
	}

	byName, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get user by username: %v", err)
	}
	if byName.ID != "user-1" {
		t.Fatalf("id = %q, want %q", byName.ID, "user-1")
	}
	if !byName.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", byName.CreatedAt, now)
	}
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.CreateUser(ctx, user.User{ID: "user-1", Username: "alice", Nickname: "Alice", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	err := store.CreateUser(ctx, user.User{ID: "user-2", Username: "alice", Nickname: "Other", CreatedAt: now, UpdatedAt: now})
	if !errors.Is(err, storage.ErrUsernameTaken) {
		t.Fatalf("expected username taken, got %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetUserByUsername(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInsertPasskeyCredentialDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.InsertPasskeyCredential(ctx, testCredential("cred-1", "alice", now)); err != nil {
		t.Fatalf("insert credential: %v", err)
	}
	// Credential ids are global, so the conflict fires even for another user.
	err := store.InsertPasskeyCredential(ctx, testCredential("cred-1", "bob", now))
	if !errors.Is(err, storage.ErrDuplicateCredential) {
		t.Fatalf("expected duplicate credential, got %v", err)
	}
}

func TestListPasskeyCredentialsOrdered(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.InsertPasskeyCredential(ctx, testCredential("cred-b", "alice", base.Add(time.Minute))); err != nil {
		t.Fatalf("insert credential: %v", err)
	}
	if err := store.InsertPasskeyCredential(ctx, testCredential("cred-a", "alice", base)); err != nil {
		t.Fatalf("insert credential: %v", err)
	}
	if err := store.InsertPasskeyCredential(ctx, testCredential("cred-c", "bob", base)); err != nil {
		t.Fatalf("insert credential: %v", err)
	}

	credentials, err := store.ListPasskeyCredentials(ctx, "alice")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(credentials) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(credentials))
	}
	if credentials[0].CredentialID != "cred-a" || credentials[1].CredentialID != "cred-b" {
		t.Fatalf("unexpected order: %q, %q", credentials[0].CredentialID, credentials[1].CredentialID)
	}
}

func TestUpdatePasskeyCredentialCounter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.InsertPasskeyCredential(ctx, testCredential("cred-1", "alice", now)); err != nil {
		t.Fatalf("insert credential: %v", err)
	}

	usedAt := now.Add(time.Hour)
	if err := store.UpdatePasskeyCredentialCounter(ctx, "cred-1", 6, `{"id":"cred-1","sign":6}`, usedAt); err != nil {
		t.Fatalf("update counter: %v", err)
	}

	credential, err := store.GetPasskeyCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if credential.SignCount != 6 {
		t.Fatalf("sign count = %d, want 6", credential.SignCount)
	}
	if credential.LastUsedAt == nil || !credential.LastUsedAt.Equal(usedAt) {
		t.Fatalf("last used = %v, want %v", credential.LastUsedAt, usedAt)
	}

	if err := store.UpdatePasskeyCredentialCounter(ctx, "missing", 1, `{}`, usedAt); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemovePasskeyCredential(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.InsertPasskeyCredential(ctx, testCredential("cred-1", "alice", now)); err != nil {
		t.Fatalf("insert credential: %v", err)
	}
	if err := store.InsertPasskeyCredential(ctx, testCredential("cred-2", "alice", now)); err != nil {
		t.Fatalf("insert credential: %v", err)
	}
	if err := store.InsertPasskeyCredential(ctx, testCredential("cred-3", "bob", now)); err != nil {
		t.Fatalf("insert credential: %v", err)
	}

	// Not the owner.
	if err := store.RemovePasskeyCredential(ctx, "cred-3", "alice"); !errors.Is(err, storage.ErrCredentialNotOwned) {
		t.Fatalf("expected not owned, got %v", err)
	}
	remaining, err := store.ListPasskeyCredentials(ctx, "bob")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected bob's credential untouched, got %d", len(remaining))
	}

	// Missing credential.
	if err := store.RemovePasskeyCredential(ctx, "ghost", "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// Two credentials: removal succeeds and leaves one.
	if err := store.RemovePasskeyCredential(ctx, "cred-1", "alice"); err != nil {
		t.Fatalf("remove credential: %v", err)
	}
	remaining, err = store.ListPasskeyCredentials(ctx, "alice")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(remaining) != 1 || remaining[0].CredentialID != "cred-2" {
		t.Fatalf("unexpected remaining credentials: %+v", remaining)
	}

	// Last credential cannot be removed.
	if err := store.RemovePasskeyCredential(ctx, "cred-2", "alice"); !errors.Is(err, storage.ErrLastCredential) {
		t.Fatalf("expected last credential, got %v", err)
	}

	// Bob's sole credential follows the same invariant.
	if err := store.RemovePasskeyCredential(ctx, "cred-3", "bob"); !errors.Is(err, storage.ErrLastCredential) {
		t.Fatalf("expected last credential, got %v", err)
	}
}

func TestTakePasskeyChallengeSingleUse(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	challenge := storage.PasskeyChallenge{
		Username:    "alice",
		Intent:      "registration",
		SessionJSON: `{"challenge":"abc"}`,
		CreatedAt:   now,
	}
	if err := store.PutPasskeyChallenge(ctx, challenge); err != nil {
		t.Fatalf("put challenge: %v", err)
	}

	taken, err := store.TakePasskeyChallenge(ctx, "alice")
	if err != nil {
		t.Fatalf("take challenge: %v", err)
	}
	if taken.SessionJSON != challenge.SessionJSON {
		t.Fatalf("session json = %q, want %q", taken.SessionJSON, challenge.SessionJSON)
	}
	if !taken.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", taken.CreatedAt, now)
	}

	// Second take finds nothing: the slot is consumed exactly once.
	if _, err := store.TakePasskeyChallenge(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on second take, got %v", err)
	}
}

func TestPutPasskeyChallengeOverwritesSlot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := storage.PasskeyChallenge{Username: "alice", Intent: "registration", SessionJSON: `{"challenge":"one"}`, CreatedAt: now}
	second := storage.PasskeyChallenge{Username: "alice", Intent: "login", SessionJSON: `{"challenge":"two"}`, CreatedAt: now.Add(time.Second)}

	if err := store.PutPasskeyChallenge(ctx, first); err != nil {
		t.Fatalf("put first challenge: %v", err)
	}
	if err := store.PutPasskeyChallenge(ctx, second); err != nil {
		t.Fatalf("put second challenge: %v", err)
	}

	taken, err := store.TakePasskeyChallenge(ctx, "alice")
	if err != nil {
		t.Fatalf("take challenge: %v", err)
	}
	if taken.SessionJSON != second.SessionJSON {
		t.Fatalf("expected latest challenge to win, got %q", taken.SessionJSON)
	}
	if taken.Intent != "login" {
		t.Fatalf("intent = %q, want %q", taken.Intent, "login")
	}
}

func TestDeleteExpiredPasskeyChallenges(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stale := storage.PasskeyChallenge{Username: "alice", Intent: "login", SessionJSON: `{}`, CreatedAt: now.Add(-5 * time.Minute)}
	fresh := storage.PasskeyChallenge{Username: "bob", Intent: "login", SessionJSON: `{}`, CreatedAt: now}
	if err := store.PutPasskeyChallenge(ctx, stale); err != nil {
		t.Fatalf("put stale challenge: %v", err)
	}
	if err := store.PutPasskeyChallenge(ctx, fresh); err != nil {
		t.Fatalf("put fresh challenge: %v", err)
	}

	if err := store.DeleteExpiredPasskeyChallenges(ctx, now.Add(-2*time.Minute)); err != nil {
		t.Fatalf("delete expired: %v", err)
	}

	if _, err := store.TakePasskeyChallenge(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected stale challenge swept, got %v", err)
	}
	if _, err := store.TakePasskeyChallenge(ctx, "bob"); err != nil {
		t.Fatalf("expected fresh challenge kept, got %v", err)
	}
}
