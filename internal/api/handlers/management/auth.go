package management

import (
	"sort"

	"github.com/nghyane/llm-mux/internal/provider"
)

// LastRefreshFunc reads a human-readable last-refresh timestamp string out
// of an Auth's metadata, supplied by the caller so this package doesn't need
// to know each provider's metadata key conventions.
type LastRefreshFunc func(auth *provider.Auth) string

// BuildAuthStatus renders the configured provider registry into the
// read-only snapshot GET /v0/management/auth returns, sorted by provider
// name for a stable response body.
func BuildAuthStatus(auths map[provider.Format]*provider.Auth, lastRefresh LastRefreshFunc) AuthStatusResponse {
	entries := make([]AuthEntry, 0, len(auths))
	for family, auth := range auths {
		entry := AuthEntry{Provider: string(family)}
		if auth != nil {
			entry.ID = auth.ID
			entry.Configured = true
			entry.Disabled = auth.Disabled
			if lastRefresh != nil {
				entry.LastRefresh = lastRefresh(auth)
			}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Provider < entries[j].Provider })
	return AuthStatusResponse{Providers: entries}
}
