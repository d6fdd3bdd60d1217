// Package dispatch executes device commands.
//
// A Dispatcher resolves the target device through the Directory, validates
// the command against the device model, and sends it over a pooled
// station session from a transport.Transport. Connection-level failures
// are retried exactly once on a fresh session; device rejections are not
// retried. State implied by an acknowledged command is merged back into
// the Directory as an optimistic value with a short validity.
package dispatch
