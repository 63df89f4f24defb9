package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	// Fallback marks a profile synthesized after a failed lookup.
	Fallback bool `json:"fallback,omitempty"`
}

// FallbackProfile builds an offline profile whose name is derived from the id.
func FallbackProfile(id string) *Profile {
	return &Profile{
		ID:          id,
		DisplayName: FallbackDisplayName(id),
		Fallback:    true,
	}
}

// FallbackDisplayName never returns the raw id.
func FallbackDisplayName(id string) string {
	suffix := []rune(strings.ToUpper(id))
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	if len(suffix) == 0 {
		return "Unknown user"
	}
	return fmt.Sprintf("User #%s", string(suffix))
}

// PresenceLabel renders "online", "last seen 3 minutes ago" or "offline".
func (p *Profile) PresenceLabel(now time.Time) string {
	if p.Online {
		return "online"
	}
	if p.LastSeen.IsZero() {
		return "offline"
	}
	return "last seen " + humanize.RelTime(p.LastSeen, now, "ago", "from now")
}
