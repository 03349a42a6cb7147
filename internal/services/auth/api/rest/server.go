// Package rest exposes the passkey ceremonies and credential lifecycle over
// an HTTP JSON API.
package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/mate-community/mate/internal/platform/id"
	"github.com/mate-community/mate/internal/services/auth/passkey"
	"github.com/mate-community/mate/internal/services/auth/storage"
	"github.com/mate-community/mate/internal/services/auth/token"
	"github.com/mate-community/mate/internal/services/auth/user"
)

// PasskeyService is the ceremony surface the handlers call.
type PasskeyService interface {
	BeginRegistration(ctx context.Context, username string) (*protocol.CredentialCreation, error)
	FinishRegistration(ctx context.Context, username string, deviceLabel string, responseJSON []byte) (storage.PasskeyCredential, error)
	BeginLogin(ctx context.Context, username string) (*protocol.CredentialAssertion, error)
	FinishLogin(ctx context.Context, username string, responseJSON []byte) (passkey.LoginResult, error)
	ListCredentials(ctx context.Context, username string) ([]passkey.CredentialSummary, error)
	RevokeCredential(ctx context.Context, username string, credentialID string) error
	SweepExpiredChallenges(ctx context.Context) error
}

// Server hosts the passkey authentication endpoints.
type Server struct {
	passkeys    PasskeyService
	users       storage.UserStore
	tokens      *token.Issuer
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewServer builds a server bound to the ceremony service and backing stores.
func NewServer(passkeys PasskeyService, users storage.UserStore, tokens *token.Issuer) *Server {
	return &Server{
		passkeys:    passkeys,
		users:       users,
		tokens:      tokens,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// RegisterRoutes registers the passkey HTTP endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/passkey/signup/options", s.handleSignupOptions)
	mux.HandleFunc("/passkey/signup/verify", s.handleSignupVerify)
	mux.HandleFunc("/passkey/login/options", s.handleLoginOptions)
	mux.HandleFunc("/passkey/login/verify", s.handleLoginVerify)
	mux.HandleFunc("/passkey/credentials", s.handleCredentials)
	mux.HandleFunc("/passkey/credentials/", s.handleCredentialByID)
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// StartCleanup starts a periodic sweep of abandoned ceremony challenges.
//
// Consumption already rejects stale challenges, so the sweep only keeps
// abandoned rows from accumulating.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.passkeys == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.passkeys.SweepExpiredChallenges(ctx)
			}
		}
	}()
}

// authenticate resolves the account behind a bearer access token.
func (s *Server) authenticate(r *http.Request) (user.User, error) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return user.User{}, token.ErrInvalidToken
	}
	userID, err := s.tokens.Verify(strings.TrimPrefix(header, prefix), token.KindAccess)
	if err != nil {
		return user.User{}, err
	}
	account, err := s.users.GetUser(r.Context(), userID)
	if err != nil {
		// A token for a vanished account is treated the same as a bad token.
		return user.User{}, token.ErrInvalidToken
	}
	return account, nil
}
