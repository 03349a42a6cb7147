// Package user provides auth user management.
package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/mate-community/mate/internal/platform/errors"
	"github.com/mate-community/mate/internal/platform/id"
)

var (
	// ErrEmptyUsername indicates a missing username.
	ErrEmptyUsername = apperrors.New(apperrors.CodeUserEmptyUsername, "username is required")
	// ErrInvalidUsername indicates a username that does not match the required format.
	ErrInvalidUsername = apperrors.New(apperrors.CodeUserInvalidUsername, "username must be 3-32 lowercase alphanumeric, dot, dash, or underscore characters")

	usernamePattern = regexp.MustCompile(`^[a-z0-9_.\-]{3,32}$`)
)

// User represents an authenticated identity record.
//
// The username is the principal identity used by the passkey ceremonies;
// the ID is the internal record key used by tokens and lifecycle routes.
type User struct {
	ID        string
	Username  string
	Nickname  string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Username string
	Nickname string
	Email    string
}

// ValidateUsername enforces canonical username constraints shared by signup,
// login, and the passkey ceremony identity key.
func ValidateUsername(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyUsername
	}
	if !usernamePattern.MatchString(s) {
		return ErrInvalidUsername
	}
	return nil
}

// NormalizeCreateUserInput trims and validates user creation input.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Nickname = strings.TrimSpace(input.Nickname)
	input.Email = strings.TrimSpace(input.Email)
	if err := ValidateUsername(input.Username); err != nil {
		return CreateUserInput{}, err
	}
	if input.Nickname == "" {
		input.Nickname = input.Username
	}
	return input, nil
}

// CreateUser creates a durable user identity from validated input.
//
// The service layer treats this as the canonical point where untrusted signup
// data becomes a stable identity used by the token and passkey paths.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:        userID,
		Username:  normalized.Username,
		Nickname:  normalized.Nickname,
		Email:     normalized.Email,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}
