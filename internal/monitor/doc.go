// Package monitor is the bridge's entry point: it validates account
// configuration, builds each account's session stack, and supervises the
// concurrent per-account gateway sessions.
//
// # Per-account stack
//
// For every enabled account the monitor wires:
//
//	rest.Client -> gateway.Session -> gateway.Supervisor
//	                     |
//	               pipeline.Pipeline -> monitor.Dispatcher
//	                                        |
//	                     policy.Gate + history.Store + host.Runtime
//
// Accounts share no mutable state and run in parallel. Fatal configuration
// problems (missing token, disabled account) surface before any socket is
// opened; transient network failures are absorbed by the supervisor.
package monitor
