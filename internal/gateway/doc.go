// Package gateway maintains the WebSocket connection to the KOOK gateway.
//
// # Session
//
// Session owns one connection lifecycle, from endpoint fetch through the
// hello handshake to the live frame exchange:
//
//	Disconnected -> FetchingEndpoint -> Connecting -> AwaitingHello -> Live -> Closing
//
// While live, the session sends a ping carrying the last observed sequence
// number on every heartbeat interval, and forwards Event frames to its Sink.
// Run is synchronous: it returns nil only when the context is cancelled, and
// an error for every other way the connection can end. A server Reconnect
// (5) frame clears the resume state and surfaces as ErrServerReconnect.
//
// # Supervisor
//
// Supervisor restarts a failed session with exponential backoff, doubling
// from two seconds up to a sixty second ceiling. The attempt counter resets
// as soon as a session completes its hello handshake, so an outage after a
// long healthy run starts from the shortest delay again.
//
// Usage:
//
//	session := gateway.NewSession(gateway.SessionConfig{
//	    Endpoint: client,
//	    Sink:     pipe,
//	    Logger:   logger,
//	})
//	err := gateway.NewSupervisor(session, logger).Run(ctx)
package gateway
