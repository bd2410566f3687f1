package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// MessageID builds the synthetic id a session assigns to an inbound message.
// It is unique per (session, seq) and sorts by receipt time within a session.
func MessageID(sessionID string, at time.Time, seq uint64) string {
	var b strings.Builder
	b.Grow(len(sessionID) + 32)
	b.WriteString(sessionID)
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(at.UnixMilli(), 36))
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(seq, 36))
	return b.String()
}

// IsNumeric reports whether s is a non-empty run of ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
