// Package management implements the gateway's read-only operational
// endpoints (spec.md §6 "Management API"): a snapshot of each configured
// provider's credential state. This is a deliberately narrow slice of the
// teacher's full auth-file CRUD/upload/quota surface (see
// internal/api/handlers/management/auth_files.go in the reference pack) -
// credential management here is config-file driven, not an uploadable
// multi-account pool, so only the read path survives.
package management

// AuthEntry describes one configured provider slot's credential state,
// the way the teacher's buildAuthFileEntry summarizes a stored auth file.
type AuthEntry struct {
	Provider    string `json:"provider"`
	ID          string `json:"id"`
	Configured  bool   `json:"configured"`
	Disabled    bool   `json:"disabled"`
	LastRefresh string `json:"last_refresh,omitempty"`
}

// AuthStatusResponse is the full body of GET /v0/management/auth.
type AuthStatusResponse struct {
	Providers []AuthEntry `json:"providers"`
}
