// Package auth provides handshake authenticators for the relay.
//
// Each authenticator inspects the handshake payload, for example
//
//	{"role": "worker", "token": "<jwt>"}
//	{"role": "client", "key": "<relay key>"}
//
// and reports whether the peer may take the role it asks for. Invalid
// credentials are a plain rejection; only operational failures (such as
// an unreachable database) are returned as errors.
package auth

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// field returns a string field of the handshake payload, or "" when absent.
func field(payload json.RawMessage, name string) string {
	res := gjson.GetBytes(payload, name)
	if res.Type != gjson.String {
		return ""
	}
	return res.Str
}
