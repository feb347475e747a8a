// Package frame implements the gateway signal frame codec: the {s,d,sn}
// JSON envelope wrapping every gateway message, plus the normalized
// inbound event model decoded from Event frame payloads.
package frame
