// Package keys generates API key material and parses the external key format
// eog_{keyId}_{secret}.
package keys

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"strings"
)

const (
	// Prefix is the first segment of every API key.
	Prefix = "eog"

	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	keyIDBytes  = 8
	secretBytes = 32

	// KeyIDLength is ceil(64 / log2(62)).
	KeyIDLength = 11
	// SecretLength is ceil(256 / log2(62)). Secrets are left-padded to it so
	// the length never reveals the magnitude of the random value.
	SecretLength = 43
)

// ErrMalformed is returned by Parse for anything that is not a well-formed key.
var ErrMalformed = errors.New("malformed api key")

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

var base = big.NewInt(int64(len(alphabet)))

// Base62 encodes b as a big-endian unsigned integer in base 62.
func Base62(b []byte) string {
	n := new(big.Int).SetBytes(b)
	if n.Sign() == 0 {
		return "0"
	}
	var out []byte
	mod := new(big.Int)
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append(out, alphabet[mod.Int64()])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func randomBase62(nbytes, width int) (string, error) {
	b := make([]byte, nbytes)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return "", err
	}
	s := Base62(b)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s, nil
}

// NewKeyID returns the public id component: 8 random bytes in base62.
func NewKeyID() (string, error) {
	return randomBase62(keyIDBytes, KeyIDLength)
}

// NewSecret returns the private component: 32 random bytes in base62,
// padded to SecretLength.
func NewSecret() (string, error) {
	return randomBase62(secretBytes, SecretLength)
}

// Format joins a key id and secret into the external key string.
func Format(keyID, secret string) string {
	return Prefix + "_" + keyID + "_" + secret
}

// DisplayPrefix is the non-secret part of a key shown in listings.
func DisplayPrefix(keyID string) string {
	return Prefix + "_" + keyID
}

// Parse splits a candidate key into its id and secret, checking the prefix,
// segment lengths and alphabet. It performs no store access, so callers can
// reject garbage before any lookup.
func Parse(s string) (keyID, secret string, err error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 || parts[0] != Prefix {
		return "", "", ErrMalformed
	}
	if len(parts[1]) != KeyIDLength || len(parts[2]) != SecretLength {
		return "", "", ErrMalformed
	}
	if !isBase62(parts[1]) || !isBase62(parts[2]) {
		return "", "", ErrMalformed
	}
	return parts[1], parts[2], nil
}

// LooksLikeKey reports whether s carries the API key prefix. Used to route a
// bearer credential to key validation instead of token verification.
func LooksLikeKey(s string) bool {
	return strings.HasPrefix(s, Prefix+"_")
}

func isBase62(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}
