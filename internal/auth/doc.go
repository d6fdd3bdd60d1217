// Package auth provides authentication and authorisation for the bridge API.
//
// The bridge has a single operator account whose Argon2id password hash
// lives in the configuration. A successful login yields a short-lived
// HS256 access token. Tokens carry a role:
//   - admin may read devices, send commands and force refreshes
//   - viewer may only read devices and stream events
//
// Viewer tokens are minted offline with the CLI for dashboards and other
// read-only clients.
package auth
