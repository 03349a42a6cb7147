// Package passkey implements the WebAuthn registration and authentication
// ceremonies for passwordless Mate accounts.
//
// Ceremony state never lives in process memory: every begin step persists its
// challenge in the single slot the identity owns, and every finish step
// consumes that slot exactly once. Stateless request handlers can therefore
// serve the two halves of a ceremony from different processes.
package passkey
