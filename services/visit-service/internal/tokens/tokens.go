// Package tokens issues and verifies the two capability tokens of a page.
//
// A manage token proves the bearer holds the owner link of a page. An
// ownership token proves the bearer created one particular slot. Both are
// HMAC-SHA256 digests over a "|" joined payload that ends in a record nonce,
// so replacing the nonce revokes every token derived from it.
package tokens

import (
	"strconv"

	"github.com/md-rashed-zaman/visitwindow/libs/auth"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
)

const keyInfo = "visitwindow/capability/v1"

type Service struct {
	key []byte
}

// NewService derives the signing key from the configured secret.
func NewService(secret string) (*Service, error) {
	key, err := auth.DeriveKey([]byte(secret), keyInfo, 0)
	if err != nil {
		return nil, err
	}
	return &Service{key: key}, nil
}

// ManageToken signs reference|pageNonce.
func (s *Service) ManageToken(reference, pageNonce string) string {
	return auth.SignHex(s.key, reference, pageNonce)
}

// VerifyManage reports whether token was issued for the page's current nonce.
func (s *Service) VerifyManage(reference, pageNonce, token string) bool {
	if pageNonce == "" || token == "" {
		return false
	}
	return auth.VerifyHex(s.key, token, reference, pageNonce)
}

// OwnershipToken signs reference|date|time|duration|slotNonce.
func (s *Service) OwnershipToken(reference string, slot model.Slot) string {
	return auth.SignHex(s.key, ownershipPayload(reference, slot)...)
}

// VerifyOwnership checks token against the stored slot, which must carry its
// nonce.
func (s *Service) VerifyOwnership(reference string, slot model.Slot, token string) bool {
	if slot.Nonce == "" || token == "" {
		return false
	}
	return auth.VerifyHex(s.key, token, ownershipPayload(reference, slot)...)
}

func ownershipPayload(reference string, slot model.Slot) []string {
	return []string{
		reference,
		string(slot.Date),
		string(slot.Time),
		strconv.Itoa(slot.Duration),
		slot.Nonce,
	}
}
