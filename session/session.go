// Package session manages the server-side session records that anchor
// every issued token pair. A token is only as alive as its session: if
// the record is gone from the store, the token is dead no matter what
// its signature and expiry say.
package session

import (
	"encoding/json"
	"time"
)

// Session is one authenticated device/browser context for a subject.
type Session struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subjectId"`
	TenantID  string    `json:"tenantId,omitempty"`
	CSRFToken string    `json:"csrfToken"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Remember  bool      `json:"remember,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its absolute expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func encodeSession(s *Session) ([]byte, error) {
	return json.Marshal(s)
}

func decodeSession(raw []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
