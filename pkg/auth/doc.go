// Package auth holds the authentication configuration shared by the HTTP
// and broker steps and the protocol that resolves it.
//
// A config is a tagged union: Type names the scheme and exactly one payload
// field carries its parameters. Resolution is evaluated once per step
// execution with Pick (step, then context, then settings), and the winner is
// dispatched through a Registry of per-scheme handlers. A discriminator with
// no matching payload is skipped; a matching payload with empty required
// fields fails with *MissingFieldError.
//
// OAuth2 client credentials tokens are cached in a TokenCache keyed by client
// id and token URL.
package auth
