package executor

import "time"

// TokenExpiryBuffer is how far before an access token's recorded expiry the
// token manager treats it as already unusable, per spec.md §3's "near-expiry"
// credential invariant.
const TokenExpiryBuffer = 2 * time.Minute

// MetaStringValue reads a string field out of an Auth.Metadata map, used by
// the token manager to pick up whatever a provider's Execute/Refresh stashed
// there (access_token, project, ...) without each caller re-implementing the
// type assertion.
func MetaStringValue(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// TokenExpiry reads the "expiry" metadata field (RFC3339, as every provider
// in this gateway stamps it after a refresh) and returns the zero time if
// absent or unparsable.
func TokenExpiry(meta map[string]any) time.Time {
	raw := MetaStringValue(meta, "expiry")
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
