// Package relay is a client for the JSON websocket protocol spoken by the
// device relay server, which fronts both the push event stream and the
// local station command channel.
//
// On connect the server sends a version frame that is checked against a
// minimum semantic version. Commands carry a UUID messageId and are
// answered by a result frame with the same ID; events stream in between.
//
//	conn, err := relay.Dial(ctx, "ws://192.168.1.20:3000", relay.Options{MinServerVersion: "1.0.0"})
//	res, err := conn.Call(ctx, "station.set_guard_mode", map[string]any{"serialNumber": sn, "mode": 1})
package relay
