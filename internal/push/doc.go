// Package push keeps the real-time device event channel alive and applies
// its events to the Directory as push updates.
//
// The Listener is a small state machine:
//
//	Disconnected ──start──▶ Authenticating ──ok──▶ Connected
//	      ▲                       │                    │
//	      └──── backoff ◀── fail ─┘◀──── drop ─────────┘
//
// Reconnects back off exponentially (full jitter, base 1s, cap 60s by
// default) and never give up; only cancelling Run stops the Listener.
// Health reports "disconnected" once the configured number of consecutive
// attempts has failed.
package push
