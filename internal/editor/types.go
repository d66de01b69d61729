package editor

import (
	"time"

	"github.com/antoniostano/piiguard/internal/token"
)

// State is the redaction bookkeeping kept per attached surface.
type State struct {
	// LastOriginalMap maps the tokens of the most recent apply to the text
	// they replaced.
	LastOriginalMap  map[string]string `json:"last_original_map"`
	ActiveRedactions []token.Redaction `json:"active_redactions"`
}

func (s State) clone() State {
	out := State{
		LastOriginalMap:  make(map[string]string, len(s.LastOriginalMap)),
		ActiveRedactions: append([]token.Redaction(nil), s.ActiveRedactions...),
	}
	for k, v := range s.LastOriginalMap {
		out.LastOriginalMap[k] = v
	}
	return out
}

// Snapshot describes an attached surface.
type Snapshot struct {
	ID             string    `json:"surface_id"`
	Host           string    `json:"host"`
	State          State     `json:"state"`
	AttachedAt     time.Time `json:"attached_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// AttachRequest defines the payload for attaching a surface over HTTP.
type AttachRequest struct {
	SurfaceID string `json:"surface_id"`
	Host      string `json:"host"`
}

// AttachResponse returns the attached surface.
type AttachResponse struct {
	SurfaceID       string    `json:"surface_id"`
	Host            string    `json:"host"`
	Created         bool      `json:"created"`
	AttachedAt      time.Time `json:"attached_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
