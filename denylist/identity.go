package denylist

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentity is returned when a string is not a canonical identity.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the immutable 128-bit value that identifies a user.
type Identity = uuid.UUID

// keyNamespace scopes identities derived from SSH public keys.
var keyNamespace = uuid.MustParse("4f0b4a5e-2d55-4c9e-9a37-6c0c8d1e7a21")

// IdentityFromKey derives a stable identity from the wire encoding of a public key.
func IdentityFromKey(wire []byte) Identity {
	return uuid.NewSHA1(keyNamespace, wire)
}

// ParseIdentity accepts only the 8-4-4-4-12 hyphenated form.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if len(s) != 36 {
		return uuid.Nil, ErrInvalidIdentity
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, ErrInvalidIdentity
	}
	return id, nil
}

// NormalizeName lower-cases a name for storage and lookup.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
