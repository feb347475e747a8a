// Package policy implements the access-control gate applied to admitted
// events: group allow-lists, direct-message policies including pairing
// delegation, and the mention requirement for group channels.
package policy
