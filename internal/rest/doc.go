// Package rest wraps the small slice of the platform HTTP API the bridge
// consumes: gateway endpoint discovery, self-identity lookup, and message
// delivery for channel and direct targets.
package rest
