package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/mate-community/mate/internal/platform/errors"
	"github.com/mate-community/mate/internal/services/auth/storage"
	"github.com/mate-community/mate/internal/services/auth/user"
)

type optionsRequest struct {
	Username string `json:"username"`
}

type signupVerifyRequest struct {
	Username    string          `json:"username"`
	Nickname    string          `json:"nickname"`
	Email       string          `json:"email"`
	DeviceLabel string          `json:"device_label"`
	Credential  json.RawMessage `json:"credential"`
}

type loginVerifyRequest struct {
	Username   string          `json:"username"`
	Credential json.RawMessage `json:"credential"`
}

type userPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Email    string `json:"email,omitempty"`
}

type authResponse struct {
	User         userPayload `json:"user"`
	CredentialID string      `json:"credential_id"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
}

type credentialPayload struct {
	CredentialID string `json:"credential_id"`
	DeviceLabel  string `json:"device_label,omitempty"`
	CreatedAt    string `json:"created_at"`
	LastUsedAt   string `json:"last_used_at,omitempty"`
}

type credentialsResponse struct {
	Credentials []credentialPayload `json:"credentials"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleSignupOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	creation, err := s.passkeys.BeginRegistration(r.Context(), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creation)
}

func (s *Server) handleSignupVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req signupVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Credential) == 0 {
		http.Error(w, "credential is required", http.StatusBadRequest)
		return
	}

	record, err := s.passkeys.FinishRegistration(r.Context(), req.Username, req.DeviceLabel, req.Credential)
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := s.ensureAccount(r, req)
	if err != nil {
		writeError(w, err)
		return
	}

	response, err := s.authResponseFor(account, record.CredentialID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, response)
}

// ensureAccount resolves the account for a verified registration, creating it
// when the ceremony ran pre-signup. A concurrent signup losing the insert race
// falls back to the row the winner created.
func (s *Server) ensureAccount(r *http.Request, req signupVerifyRequest) (user.User, error) {
	account, err := s.users.GetUserByUsername(r.Context(), req.Username)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, fmt.Errorf("load account: %w", err)
	}

	created, err := user.CreateUser(user.CreateUserInput{
		Username: req.Username,
		Nickname: req.Nickname,
		Email:    req.Email,
	}, s.clock, s.idGenerator)
	if err != nil {
		return user.User{}, err
	}
	if err := s.users.CreateUser(r.Context(), created); err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			return s.users.GetUserByUsername(r.Context(), req.Username)
		}
		return user.User{}, fmt.Errorf("create account: %w", err)
	}
	return created, nil
}

func (s *Server) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	assertion, err := s.passkeys.BeginLogin(r.Context(), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assertion)
}

func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Credential) == 0 {
		http.Error(w, "credential is required", http.StatusBadRequest)
		return
	}

	result, err := s.passkeys.FinishLogin(r.Context(), req.Username, req.Credential)
	if err != nil {
		writeError(w, err)
		return
	}

	response, err := s.authResponseFor(result.Account, result.Credential.CredentialID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) authResponseFor(account user.User, credentialID string) (authResponse, error) {
	access, err := s.tokens.MintAccessToken(account.ID)
	if err != nil {
		return authResponse{}, fmt.Errorf("mint access token: %w", err)
	}
	refresh, err := s.tokens.MintRefreshToken(account.ID)
	if err != nil {
		return authResponse{}, fmt.Errorf("mint refresh token: %w", err)
	}
	return authResponse{
		User: userPayload{
			ID:       account.ID,
			Username: account.Username,
			Nickname: account.Nickname,
			Email:    account.Email,
		},
		CredentialID: credentialID,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
	}, nil
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	account, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	summaries, err := s.passkeys.ListCredentials(r.Context(), account.Username)
	if err != nil {
		writeError(w, err)
		return
	}

	response := credentialsResponse{Credentials: make([]credentialPayload, 0, len(summaries))}
	for _, summary := range summaries {
		payload := credentialPayload{
			CredentialID: summary.CredentialID,
			DeviceLabel:  summary.DeviceLabel,
			CreatedAt:    summary.CreatedAt.UTC().Format(time.RFC3339),
		}
		if summary.LastUsedAt != nil {
			payload.LastUsedAt = summary.LastUsedAt.UTC().Format(time.RFC3339)
		}
		response.Credentials = append(response.Credentials, payload)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCredentialByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	credentialID := strings.TrimPrefix(r.URL.Path, "/passkey/credentials/")
	if credentialID == "" || strings.Contains(credentialID, "/") {
		http.Error(w, "credential id is required", http.StatusNotFound)
		return
	}

	account, err := s.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.passkeys.RevokeCredential(r.Context(), account.Username, credentialID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()
	message := "internal error"
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	if status >= http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: string(code), Message: message})
}
