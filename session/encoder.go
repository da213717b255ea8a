package session

import (
	"encoding/json"
	"errors"
)

const sessionSchemaVersionCurrent = 1

// sessionRecord is the persisted form of the fixed session fields. The
// schema is append-only: new versions add fields but never reinterpret old
// ones. CompletedFactors are not part of the record; they live in their own
// hash.
type sessionRecord struct {
	V             int    `json:"v"`
	SessionHandle string `json:"sh"`
	UserID        string `json:"uid"`
	RecipeUserID  string `json:"rui"`
	TenantID      string `json:"tid"`
	CreatedAt     int64  `json:"iat"`
	ExpiresAt     int64  `json:"exp"`
}

// ErrSessionCorrupt is returned when a stored session blob cannot be
// decoded.
var ErrSessionCorrupt = errors.New("session blob corrupt")

// Encode serializes the fixed session fields into the versioned JSON blob
// stored in Redis. Completed factors are excluded; the store keeps them in a
// separate hash.
func Encode(s *Session) ([]byte, error) {
	if s.SessionHandle == "" || s.UserID == "" || s.TenantID == "" {
		return nil, errors.New("session missing required fields")
	}

	return json.Marshal(sessionRecord{
		V:             sessionSchemaVersionCurrent,
		SessionHandle: s.SessionHandle,
		UserID:        s.UserID,
		RecipeUserID:  s.RecipeUserID,
		TenantID:      s.TenantID,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
	})
}

// Decode parses a blob produced by [Encode]. Any malformed, unversioned, or
// incomplete blob yields [ErrSessionCorrupt]. CompletedFactors is left nil;
// the store populates it from the factors hash.
func Decode(data []byte) (*Session, error) {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrSessionCorrupt
	}
	if rec.V < 1 || rec.V > sessionSchemaVersionCurrent {
		return nil, ErrSessionCorrupt
	}
	if rec.SessionHandle == "" || rec.UserID == "" || rec.TenantID == "" {
		return nil, ErrSessionCorrupt
	}

	return &Session{
		SessionHandle: rec.SessionHandle,
		UserID:        rec.UserID,
		RecipeUserID:  rec.RecipeUserID,
		TenantID:      rec.TenantID,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
	}, nil
}
