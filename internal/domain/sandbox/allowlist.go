package sandbox

import "strings"

// NetworkAllowlist matches hostnames against exact names, "*.suffix"
// wildcards and the single "*" wildcard. Matching is case-insensitive.
type NetworkAllowlist struct {
	allowAll         bool
	exact            map[string]struct{}
	wildcardSuffixes []string
}

// NewNetworkAllowlist compiles the manifest's network patterns.
func NewNetworkAllowlist(patterns []string) *NetworkAllowlist {
	a := &NetworkAllowlist{exact: make(map[string]struct{}, len(patterns))}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		switch {
		case p == "":
			continue
		case p == "*":
			a.allowAll = true
		case strings.HasPrefix(p, "*."):
			// keep the leading dot so *.example.com does not match example.com
			a.wildcardSuffixes = append(a.wildcardSuffixes, p[1:])
		default:
			a.exact[p] = struct{}{}
		}
	}
	return a
}

// IsAllowed reports whether host may be contacted.
func (a *NetworkAllowlist) IsAllowed(host string) bool {
	if a.allowAll {
		return true
	}
	host = strings.ToLower(host)
	if _, ok := a.exact[host]; ok {
		return true
	}
	for _, suffix := range a.wildcardSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// Empty reports whether the allowlist can never match anything.
func (a *NetworkAllowlist) Empty() bool {
	return !a.allowAll && len(a.exact) == 0 && len(a.wildcardSuffixes) == 0
}
