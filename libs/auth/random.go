package auth

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Bytes >= 252 (7*36) are rejected so that every symbol is equally likely.
const base36AcceptBelow = 252

// NonceBytes is the entropy of a record nonce.
const NonceBytes = 32

// NewNonce returns NonceBytes of crypto randomness, hex encoded.
func NewNonce() (string, error) {
	return newNonce(rand.Reader)
}

func newNonce(r io.Reader) (string, error) {
	var b [NonceBytes]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// RandomBase36 returns n uniformly distributed characters from [0-9a-z].
func RandomBase36(n int) (string, error) {
	return randomBase36(rand.Reader, n)
}

func randomBase36(r io.Reader, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	out := make([]byte, 0, n)
	buf := make([]byte, max(2*n, 16))
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= base36AcceptBelow {
				continue
			}
			out = append(out, base36Alphabet[b%36])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
