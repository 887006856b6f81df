// Package auth holds the primitives behind possession-based capability tokens:
// keyed HMAC-SHA256 digests, constant-time comparison and secret generation.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// TokenHexLen is the length of a hex encoded HMAC-SHA256 digest.
const TokenHexLen = 64

// PayloadSeparator joins payload fields before signing.
const PayloadSeparator = "|"

// SignHex returns hex(HMAC-SHA256(key, parts joined by "|")).
func SignHex(key []byte, parts ...string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(strings.Join(parts, PayloadSeparator)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHex recomputes the digest over parts and compares it to presented in
// constant time. Tokens of the wrong shape are rejected before comparing.
func VerifyHex(key []byte, presented string, parts ...string) bool {
	if len(presented) != TokenHexLen {
		return false
	}
	return Equal(presented, SignHex(key, parts...))
}

// Equal compares two tokens in constant time with respect to their contents.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// DeriveKey expands a configured master secret into a purpose-bound signing key.
func DeriveKey(secret []byte, info string, size int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	if size <= 0 {
		size = sha256.Size
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}
