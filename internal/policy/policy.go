// Package policy holds the user's redaction policy and the rules derived from
// it: which hosts the engine runs on and which kinds it offers to redact.
package policy

import (
	"strings"

	"github.com/antoniostano/piiguard/internal/pii"
)

const (
	// PolicyKey and AllowlistKey are the fixed storage namespaces.
	PolicyKey    = "pii_policy_v1"
	AllowlistKey = "pii_allowlist_v1"

	DefaultRemoteDetectorURL = "http://127.0.0.1:8000/redact"
)

// SiteOverride forces the engine on or off for a single host.
type SiteOverride struct {
	Enabled bool `json:"enabled" toml:"enabled" yaml:"enabled"`
}

// Policy is replaced wholesale on every change; callers get clones.
type Policy struct {
	Enabled     bool                    `json:"enabled" toml:"enabled" yaml:"enabled"`
	TargetHosts []string                `json:"targetHosts" toml:"target_hosts" yaml:"target_hosts"`
	PerSite     map[string]SiteOverride `json:"perSite" toml:"per_site" yaml:"per_site"`
	AllowKinds  []pii.Kind              `json:"allowKinds" toml:"allow_kinds" yaml:"allow_kinds"`
	// Empty BlockKinds blocks every kind not in AllowKinds.
	BlockKinds []pii.Kind `json:"blockKinds" toml:"block_kinds" yaml:"block_kinds"`
	// LocalProxy is carried for storage compatibility and has no behavior.
	LocalProxy        bool   `json:"localProxy" toml:"local_proxy" yaml:"local_proxy"`
	UseRemoteDetector bool   `json:"useNerApi" toml:"use_remote_detector" yaml:"use_remote_detector"`
	RemoteDetectorURL string `json:"nerApiUrl" toml:"remote_detector_url" yaml:"remote_detector_url"`
}

// Default returns the policy used when nothing is stored.
func Default() Policy {
	return Policy{
		Enabled: true,
		TargetHosts: []string{
			"chat.openai.com",
			"claude.ai",
			"gemini.google.com",
			"bard.google.com",
			"perplexity.ai",
			"poe.com",
			"chatgpt.com",
		},
		PerSite:    map[string]SiteOverride{},
		AllowKinds: []pii.Kind{},
		BlockKinds: []pii.Kind{
			pii.KindEmail,
			pii.KindPhone,
			pii.KindCreditCard,
			pii.KindNationalID,
			pii.KindAddress,
			pii.KindIP,
			pii.KindName,
		},
		UseRemoteDetector: true,
		RemoteDetectorURL: DefaultRemoteDetectorURL,
	}
}

// Clone returns a deep copy.
func (p Policy) Clone() Policy {
	out := p
	out.TargetHosts = append([]string(nil), p.TargetHosts...)
	out.AllowKinds = append([]pii.Kind(nil), p.AllowKinds...)
	out.BlockKinds = append([]pii.Kind(nil), p.BlockKinds...)
	out.PerSite = make(map[string]SiteOverride, len(p.PerSite))
	for host, o := range p.PerSite {
		out.PerSite[host] = o
	}
	return out
}

// Normalize canonicalizes hosts and kind names in place. Kind aliases from
// older payloads (NRIC, DOB) are mapped, unknown kinds are dropped.
func (p *Policy) Normalize() {
	hosts := make([]string, 0, len(p.TargetHosts))
	for _, h := range p.TargetHosts {
		if h = normalizeHost(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	p.TargetHosts = hosts

	sites := make(map[string]SiteOverride, len(p.PerSite))
	for h, o := range p.PerSite {
		if h = normalizeHost(h); h != "" {
			sites[h] = o
		}
	}
	p.PerSite = sites

	p.AllowKinds = normalizeKinds(p.AllowKinds)
	p.BlockKinds = normalizeKinds(p.BlockKinds)

	p.RemoteDetectorURL = strings.TrimSpace(p.RemoteDetectorURL)
	if p.RemoteDetectorURL == "" {
		p.RemoteDetectorURL = DefaultRemoteDetectorURL
	}
}

func normalizeHost(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func normalizeKinds(in []pii.Kind) []pii.Kind {
	out := make([]pii.Kind, 0, len(in))
	seen := make(map[pii.Kind]struct{}, len(in))
	for _, k := range in {
		kind, ok := pii.ParseKind(string(k))
		if !ok {
			continue
		}
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		out = append(out, kind)
	}
	return out
}
