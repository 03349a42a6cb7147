// Package auth defines the identity boundary of the Mate backend.
//
// It owns passkey registration and authentication, the server-side challenge
// lifecycle, token issuance, and the user accounts behind them, so the rest
// of the platform can depend on stable user IDs instead of re-implementing
// identity rules.
//
// Subpackages:
//   - app: auth server wiring and lifecycle
//   - api/rest: HTTP JSON handlers for the passkey ceremonies
//   - passkey: WebAuthn ceremony logic and challenge lifecycle
//   - token: JWT access and refresh token minting
//   - storage: persistence interfaces and SQLite implementations
//   - user: user domain model and helpers
package auth
