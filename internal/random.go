package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

type SessionHandle [16]byte

func NewSessionHandle() (SessionHandle, error) {
	var sh SessionHandle
	_, err := rand.Read(sh[:])
	return sh, err
}

func (s SessionHandle) Bytes() []byte {
	return s[:]
}

func (s SessionHandle) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionHandle(handle string) (SessionHandle, error) {
	var sh SessionHandle

	raw, err := base64.RawURLEncoding.DecodeString(handle)
	if err != nil {
		return sh, err
	}
	if len(raw) != len(sh) {
		return sh, errors.New("invalid session handle size")
	}

	copy(sh[:], raw)
	return sh, nil
}

// NewReservationToken returns an opaque one-shot owner token for
// check-then-act reservations. The token proves ownership on release.
func NewReservationToken() (string, error) {
	var raw [24]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
