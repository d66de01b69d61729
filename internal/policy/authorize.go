package policy

import (
	"slices"

	"github.com/antoniostano/piiguard/internal/pii"
)

// IsHostEnabled decides whether the engine runs on host. A per-site override
// wins over the target host list; a disabled policy or empty host is never
// enabled.
func IsHostEnabled(p Policy, host string) bool {
	host = normalizeHost(host)
	if !p.Enabled || host == "" {
		return false
	}
	if site, ok := p.PerSite[host]; ok {
		return site.Enabled
	}
	return slices.Contains(p.TargetHosts, host)
}

// IsKindBlocked decides whether candidates of kind are offered for
// redaction. AllowKinds wins; an empty BlockKinds blocks everything else.
func IsKindBlocked(p Policy, kind pii.Kind) bool {
	if slices.Contains(p.AllowKinds, kind) {
		return false
	}
	if len(p.BlockKinds) == 0 {
		return true
	}
	return slices.Contains(p.BlockKinds, kind)
}
