// Package account resolves global and per-account configuration into the
// effective view consumed by the session, pipeline, and policy layers.
package account
