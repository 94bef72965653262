// Package secure holds the constant-time primitives shared by API key
// validation, the billing webhook and the admin channel.
package secure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Equal reports whether a and b hold the same bytes. Buffers of different
// length are rejected before the loop; the loop itself never exits early.
func Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := 0; i < len(a); i++ {
		acc |= a[i] ^ b[i]
	}
	return acc == 0
}

// EqualString is Equal for strings.
func EqualString(a, b string) bool {
	return Equal([]byte(a), []byte(b))
}

// HMACHex returns the lowercase hex HMAC-SHA256 of msg under key.
func HMACHex(key []byte, msg string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
