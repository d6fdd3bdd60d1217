// Package transport carries commands to devices on the local network.
//
// A Transport connects to a station by LAN address and returns a Session
// that sends commands and waits for acknowledgements. Failures are split
// into ErrConnection (worth one retry on a fresh session) and ErrRejected
// (the device said no; terminal).
package transport
