// Package api implements the HTTP REST API and WebSocket server of the bridge.
//
// This package provides:
//   - read access to the device Directory
//   - command and refresh endpoints backed by the bridge
//   - a WebSocket hub streaming Directory change events
//   - JWT authentication with ticket-based WebSocket auth
//   - a middleware stack (request ID, logging, recovery, CORS, body limit, rate limit)
//
// # Security
//
// POST /api/v1/auth/token exchanges the admin password for an access token.
// Commands and refreshes need an admin token; reads accept viewer tokens.
// WebSocket connections authenticate with a single-use ticket so tokens
// never appear in URLs.
//
// # Graceful Degradation
//
// Reads and the WebSocket stream work while the bridge is still starting;
// commands answer 503 until the dispatcher is up.
package api
