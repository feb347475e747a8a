// Package history provides a transient, capacity-bounded buffer of
// unaddressed group messages, kept per channel and injected as context
// when the bot is addressed.
package history
