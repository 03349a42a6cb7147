// Package server composes and runs the auth process boundary.
//
// It wires the SQLite store, the passkey ceremony service, the token issuer,
// and the HTTP JSON API into one process so identity decisions are made from
// one source of truth.
package server
