// Package host defines the host-runtime capability surface the bridge
// depends on, plus an HTTP implementation backed by the host gateway's
// send API with SSE reply streaming.
package host
