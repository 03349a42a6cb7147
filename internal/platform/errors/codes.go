// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Challenge errors
	CodeChallengeNotFound Code = "CHALLENGE_NOT_FOUND"
	CodeChallengeExpired  Code = "CHALLENGE_EXPIRED"

	// Ceremony errors
	CodeAttestationInvalid          Code = "ATTESTATION_INVALID"
	CodeAssertionInvalid            Code = "ASSERTION_INVALID"
	CodeUnknownCredential           Code = "UNKNOWN_CREDENTIAL"
	CodeDuplicateCredential         Code = "DUPLICATE_CREDENTIAL"
	CodePossibleClonedAuthenticator Code = "POSSIBLE_CLONED_AUTHENTICATOR"
	CodePrincipalNotFound           Code = "PRINCIPAL_NOT_FOUND"
	CodeNoCredentialsRegistered     Code = "NO_CREDENTIALS_REGISTERED"

	// Credential lifecycle errors
	CodeNotAuthorized  Code = "NOT_AUTHORIZED"
	CodeLastCredential Code = "LAST_CREDENTIAL"

	// User errors
	CodeUserEmptyUsername   Code = "USER_EMPTY_USERNAME"
	CodeUserInvalidUsername Code = "USER_INVALID_USERNAME"
	CodeUsernameTaken       Code = "USERNAME_TAKEN"

	// Token errors
	CodeTokenInvalid Code = "TOKEN_INVALID"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, stale or missing ceremony state
	case CodeChallengeNotFound,
		CodeChallengeExpired,
		CodeAttestationInvalid,
		CodeLastCredential,
		CodeUserEmptyUsername,
		CodeUserInvalidUsername:
		return http.StatusBadRequest

	// Unauthorized - authentication rejections
	case CodeAssertionInvalid,
		CodeUnknownCredential,
		CodePossibleClonedAuthenticator,
		CodeTokenInvalid:
		return http.StatusUnauthorized

	// Forbidden
	case CodeNotAuthorized:
		return http.StatusForbidden

	// Not found
	case CodePrincipalNotFound,
		CodeNoCredentialsRegistered,
		CodeNotFound:
		return http.StatusNotFound

	// Conflict
	case CodeDuplicateCredential,
		CodeUsernameTaken:
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
