// Package pipeline admits decoded gateway events to the message handler,
// filtering self-echo, system, and unsupported message types, and isolating
// each dispatch so one failing event never disturbs the session.
package pipeline
