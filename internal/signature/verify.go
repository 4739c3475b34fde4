// Package signature authenticates inbound webhook bodies with a shared secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// DefaultHeader carries the base64 HMAC-SHA256 of the raw request body
const DefaultHeader = "X-Shopify-Hmac-Sha256"

// Sign returns the base64-encoded HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided is the signature of rawBody under secret.
// rawBody must be the exact bytes received on the wire. An empty secret or an
// empty signature never verifies.
func Verify(rawBody []byte, provided, secret string) bool {
	if secret == "" {
		return false
	}
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return false
	}

	expected := Sign(rawBody, secret)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
