package passkey

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/mate-community/mate/internal/platform/errors"
	"github.com/mate-community/mate/internal/services/auth/storage"
	"github.com/mate-community/mate/internal/services/auth/user"
)

func TestBeginRegistrationStoresChallenge(t *testing.T) {
	svc, _, passkeys, _, _ := newTestService(t)

	creation, err := svc.BeginRegistration(context.Background(), "mate_user")
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if creation == nil {
		t.Fatalf("expected creation options")
	}

	stored, ok := passkeys.challenges["mate_user"]
	if !ok {
		t.Fatalf("expected stored challenge slot")
	}
	if stored.Intent != string(IntentRegistration) {
		t.Fatalf("intent = %q, want %q", stored.Intent, IntentRegistration)
	}
}

func TestBeginRegistrationRejectsInvalidUsername(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	if _, err := svc.BeginRegistration(context.Background(), "ab"); !errors.Is(err, user.ErrInvalidUsername) {
		t.Fatalf("expected invalid username, got %v", err)
	}
	if _, err := svc.BeginRegistration(context.Background(), ""); !errors.Is(err, user.ErrEmptyUsername) {
		t.Fatalf("expected empty username, got %v", err)
	}
}

func TestBeginRegistrationExcludesExistingCredentials(t *testing.T) {
	svc, _, passkeys, web, _ := newTestService(t)

	if _, err := svc.BeginRegistration(context.Background(), "mate_user"); err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	withoutCredentials := web.registrationOptionCount

	passkeys.credentials["existing"] = storage.PasskeyCredential{
		CredentialID:   "existing",
		Username:       "mate_user",
		CredentialJSON: "{}",
	}
	if _, err := svc.BeginRegistration(context.Background(), "mate_user"); err != nil {
		t.Fatalf("begin registration with credential: %v", err)
	}
	if web.registrationOptionCount != withoutCredentials+1 {
		t.Fatalf("expected exclusion option added, got %d options vs %d", web.registrationOptionCount, withoutCredentials)
	}
}

func TestFinishRegistrationPersistsCredential(t *testing.T) {
	svc, _, passkeys, web, _ := newTestService(t)
	web.credential = &webauthn.Credential{
		ID:            []byte("cred-raw-id"),
		PublicKey:     []byte{0x01, 0x02},
		Authenticator: webauthn.Authenticator{SignCount: 0},
	}

	if _, err := svc.BeginRegistration(context.Background(), "mate_user"); err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	record, err := svc.FinishRegistration(context.Background(), "mate_user", "Pixel 9", []byte("{}"))
	if err != nil {
		t.Fatalf("finish registration: %v", err)
	}

	wantID := EncodeCredentialID([]byte("cred-raw-id"))
	if record.CredentialID != wantID {
		t.Fatalf("credential id = %q, want %q", record.CredentialID, wantID)
	}
	if record.Username != "mate_user" {
		t.Fatalf("username = %q, want %q", record.Username, "mate_user")
	}
	if record.DeviceLabel != "Pixel 9" {
		t.Fatalf("device label = %q, want %q", record.DeviceLabel, "Pixel 9")
	}
	if record.LastUsedAt != nil {
		t.Fatalf("expected no last-used timestamp at registration")
	}

	stored, ok := passkeys.credentials[wantID]
	if !ok {
		t.Fatalf("expected credential persisted")
	}
	if stored.CredentialJSON == "" {
		t.Fatalf("expected credential payload persisted")
	}
	if _, ok := passkeys.challenges["mate_user"]; ok {
		t.Fatalf("expected challenge consumed")
	}
}

func TestFinishRegistrationWithoutChallenge(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.FinishRegistration(context.Background(), "mate_user", "", []byte("{}"))
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestFinishRegistrationExpiredChallengeIsTerminal(t *testing.T) {
	svc, _, passkeys, _, _ := newTestService(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := issued
	svc.SetClock(func() time.Time { return clock })

	if _, err := svc.BeginRegistration(context.Background(), "mate_user"); err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	clock = issued.Add(121 * time.Second)
	if _, err := svc.FinishRegistration(context.Background(), "mate_user", "", []byte("{}")); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	if _, ok := passkeys.challenges["mate_user"]; ok {
		t.Fatalf("expected expired challenge removed")
	}
	// The retry has nothing left to consume.
	if _, err := svc.FinishRegistration(context.Background(), "mate_user", "", []byte("{}")); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after expiry, got %v", err)
	}
}

func TestFinishRegistrationParseFailureConsumesChallenge(t *testing.T) {
	svc, _, passkeys, _, parse := newTestService(t)
	parse.creationErr = fmt.Errorf("malformed payload")

	if _, err := svc.BeginRegistration(context.Background(), "mate_user"); err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	_, err := svc.FinishRegistration(context.Background(), "mate_user", "", []byte("not json"))
	if apperrors.CodeOf(err) != apperrors.CodeAttestationInvalid {
		t.Fatalf("expected attestation invalid, got %v", err)
	}
	if _, ok := passkeys.challenges["mate_user"]; ok {
		t.Fatalf("expected challenge consumed despite failure")
	}
	if len(passkeys.credentials) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestFinishRegistrationVerificationFailure(t *testing.T) {
	svc, _, passkeys, web, _ := newTestService(t)
	web.createErr = fmt.Errorf("challenge mismatch")

	if _, err := svc.BeginRegistration(context.Background(), "mate_user"); err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	_, err := svc.FinishRegistration(context.Background(), "mate_user", "", []byte("{}"))
	if apperrors.CodeOf(err) != apperrors.CodeAttestationInvalid {
		t.Fatalf("expected attestation invalid, got %v", err)
	}
	if len(passkeys.credentials) != 0 {
		t.Fatalf("expected nothing persisted")
	}
}

func TestFinishRegistrationDuplicateCredential(t *testing.T) {
	svc, _, passkeys, web, _ := newTestService(t)
	web.credential = &webauthn.Credential{ID: []byte("cred-raw-id")}
	passkeys.credentials[EncodeCredentialID([]byte("cred-raw-id"))] = storage.PasskeyCredential{
		CredentialID: EncodeCredentialID([]byte("cred-raw-id")),
		Username:     "someone_else",
	}

	if _, err := svc.BeginRegistration(context.Background(), "mate_user"); err != nil {
		t.Fatalf("begin registration: %v", err)
	}

	_, err := svc.FinishRegistration(context.Background(), "mate_user", "", []byte("{}"))
	if !errors.Is(err, storage.ErrDuplicateCredential) {
		t.Fatalf("expected ErrDuplicateCredential, got %v", err)
	}
}
