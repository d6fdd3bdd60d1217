// Package bridge orchestrates the synchronization engine.
//
// A Bridge wires the cloud poller, push listener, command dispatcher and
// bus publisher around one Device Directory. Run performs the startup
// sequence, where only authentication and the first inventory refresh are
// fatal, then runs the background loops under an errgroup:
//
//   - publisher: Directory changes to the bus
//   - push listener: real-time updates into the Directory
//   - refresh: scheduled inventory refresh and push token check
//   - maintenance: optimistic expiry, periodic persistence, pending resync
//   - resync: refresh and republish on bus reconnect or Home Assistant restart
//   - telemetry: property history to InfluxDB, when configured
//
// Cancelling the Run context shuts down in order: in-flight commands
// finish up to their timeout, the bus closes with an "offline" status and
// the Directory is persisted.
package bridge
