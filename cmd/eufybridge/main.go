// eufybridge mirrors Eufy security devices onto an MQTT broker.
//
// It keeps a local directory of every device on the account, fed by a
// periodic cloud inventory and by real-time push events, publishes each
// property as a retained MQTT topic with Home Assistant discovery, and
// forwards commands from MQTT or the HTTP API to the stations on the LAN.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancelled on Ctrl+C or SIGTERM; every command shuts down from it.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
