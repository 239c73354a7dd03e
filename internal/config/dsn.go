package config

import (
	"fmt"
	"strings"
)

// ParsedDSN is the decomposed form of a usage-backend DSN, one of
// "sqlite://<path>" or "postgres://...". An empty input DSN yields a nil
// ParsedDSN (usage backend disabled, counters stay in-memory only).
type ParsedDSN struct {
	Backend string
	Path    string // sqlite file path
	URL     string // full URL, for postgres
}

// ParseDSN recognizes the two usage-backend DSN schemes named in spec.md §6.
func ParseDSN(dsn string) (*ParsedDSN, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return &ParsedDSN{Backend: "sqlite", Path: strings.TrimPrefix(dsn, "sqlite://")}, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return &ParsedDSN{Backend: "postgres", URL: dsn}, nil
	default:
		return nil, fmt.Errorf("unrecognized usage DSN scheme: %q", dsn)
	}
}
