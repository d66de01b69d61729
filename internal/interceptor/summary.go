package interceptor

import (
	"github.com/antoniostano/piiguard/internal/pii"
	"github.com/antoniostano/piiguard/internal/token"
)

// Summary is what a HUD renders for a surface: its active redactions, each
// undoable by token.
type Summary struct {
	SurfaceID  string
	Redactions []token.Redaction
	Counts     map[pii.Kind]int
	// UserAction marks summaries caused by an explicit user action (apply or
	// undo) rather than a background refresh.
	UserAction bool
}

func newSummary(surfaceID string, reds []token.Redaction, userAction bool) Summary {
	counts := make(map[pii.Kind]int, len(reds))
	for _, r := range reds {
		counts[r.Kind]++
	}
	return Summary{
		SurfaceID:  surfaceID,
		Redactions: reds,
		Counts:     counts,
		UserAction: userAction,
	}
}
