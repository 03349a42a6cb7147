package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mate-community/mate/internal/services/auth/storage"
)

// provider is the subset of webauthn.WebAuthn the ceremonies use. Tests
// substitute a fake so verification outcomes can be forced without real
// authenticator payloads.
type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// parser decodes client ceremony responses before verification.
type parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Service runs the passkey registration and authentication ceremonies.
type Service struct {
	config     Config
	web        provider
	parser     parser
	users      storage.UserStore
	passkeys   storage.PasskeyStore
	challenges *ChallengeStore
	clock      func() time.Time
	tracer     trace.Tracer
}

// NewService builds a passkey service for the configured relying party.
func NewService(cfg Config, users storage.UserStore, passkeys storage.PasskeyStore) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if passkeys == nil {
		return nil, fmt.Errorf("passkey store is required")
	}

	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName:         cfg.RPDisplayName,
		RPID:                  cfg.RPID,
		RPOrigins:             cfg.RPOrigins,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationRequired,
		},
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: cfg.CeremonyTimeout,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: cfg.CeremonyTimeout,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	clock := time.Now
	return &Service{
		config:     cfg,
		web:        web,
		parser:     defaultParser{},
		users:      users,
		passkeys:   passkeys,
		challenges: NewChallengeStore(passkeys, cfg.ChallengeTTL, clock),
		clock:      clock,
		tracer:     otel.Tracer("mate.auth.passkey"),
	}, nil
}

// SetClock overrides the service clock. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.clock = now
	s.challenges.now = now
}

// SweepExpiredChallenges reclaims challenge slots from abandoned ceremonies.
func (s *Service) SweepExpiredChallenges(ctx context.Context) error {
	return s.challenges.Sweep(ctx)
}

// supportedCredentialParameters lists the public-key algorithms offered at
// registration. ES256 and RS256 cover the platform authenticators in the wild.
func supportedCredentialParameters() []protocol.CredentialParameter {
	return []protocol.CredentialParameter{
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
		{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
	}
}

// ceremonyUser adapts an identity and its stored credentials to webauthn.User.
//
// The user handle is the username itself. Registration can therefore begin
// before any account row exists (signup) as well as after (device add), and
// both ceremonies resolve the same handle.
type ceremonyUser struct {
	username    string
	displayName string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.username)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.username
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.displayName != "" {
		return u.displayName
	}
	return u.username
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// loadCeremonyUser assembles the webauthn.User view for an identity from its
// stored credentials. The display name comes from the account row when one
// exists; pre-registration identities fall back to the username.
func (s *Service) loadCeremonyUser(ctx context.Context, username string) (*ceremonyUser, []storage.PasskeyCredential, error) {
	records, err := s.passkeys.ListPasskeyCredentials(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("list credentials: %w", err)
	}
	credentials, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, nil, err
	}

	displayName := ""
	if account, err := s.users.GetUserByUsername(ctx, username); err == nil {
		displayName = account.Nickname
	}

	return &ceremonyUser{
		username:    username,
		displayName: displayName,
		credentials: credentials,
	}, records, nil
}

func decodeStoredCredentials(records []storage.PasskeyCredential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

// EncodeCredentialID renders a raw credential id for transport and storage.
// Base64url without padding, applied exactly once at this boundary.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
