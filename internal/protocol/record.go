package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxTextLen is the server-side cap on message text, in runes.
	MaxTextLen = 500
	// MinNameLen and MaxNameLen bound a display name, in runes.
	MinNameLen = 2
	MaxNameLen = 20
)

// ErrInvalidName is returned by ValidateName for names outside the allowed length.
var ErrInvalidName = errors.New("invalid display name")

// DeliveryState tracks an outbound message on the client. The relay has no
// notion of pending, so the field never travels on the wire.
type DeliveryState string

const (
	Pending DeliveryState = "pending"
	Sent    DeliveryState = "sent"
	Failed  DeliveryState = "failed"
)

// MessageRecord is one chat message. ID is assigned once by the author and
// never renamed; two records with the same ID are the same message.
type MessageRecord struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Author    string        `json:"username"`
	Timestamp int64         `json:"timestamp"`
	State     DeliveryState `json:"-"`
}

// Presence is the server-side status of a session.
type Presence string

const (
	Online  Presence = "online"
	Away    Presence = "away"
	Offline Presence = "offline"
)

// Valid reports whether p is one of the known presence values.
func (p Presence) Valid() bool {
	switch p {
	case Online, Away, Offline:
		return true
	}
	return false
}

// UserPresence is one row of a users_list snapshot.
type UserPresence struct {
	Username string   `json:"username"`
	Status   Presence `json:"status"`
	LastSeen int64    `json:"lastSeen"`
}

// ValidateName trims name and checks its length.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinNameLen || n > MaxNameLen {
		return "", fmt.Errorf("%w: %q must be %d-%d characters", ErrInvalidName, name, MinNameLen, MaxNameLen)
	}
	return name, nil
}

// CleanText strips control characters (tab and newline survive), trims
// surrounding space and truncates to MaxTextLen runes.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	count := 0
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			continue
		}
		if r == utf8.RuneError {
			continue
		}
		if count == MaxTextLen {
			break
		}
		b.WriteRune(r)
		count++
	}
	return strings.TrimSpace(b.String())
}
