// Package base provides shared connector infrastructure: the read-only
// statement guard every SQL connector runs before execution, and the
// retry policy used by the pull layer.
package base

import (
	"strings"

	"github.com/ajitpratap0/syncforge/pkg/errors"
)

// mutatingKeywords are statement-leading keywords that modify data or
// schema. The guard rejects them at the connector boundary; it does not
// trust the caller.
var mutatingKeywords = map[string]struct{}{
	"insert":   {},
	"update":   {},
	"delete":   {},
	"merge":    {},
	"replace":  {},
	"upsert":   {},
	"create":   {},
	"alter":    {},
	"drop":     {},
	"truncate": {},
	"rename":   {},
	"grant":    {},
	"revoke":   {},
	"set":      {},
	"call":     {},
	"exec":     {},
	"execute":  {},
	"copy":     {},
	"lock":     {},
	"vacuum":   {},
	"analyze":  {},
	"comment":  {},
}

// GuardReadOnly classifies a SQL statement and rejects anything that is
// not a plain read. Multi-statement payloads are rejected outright since
// a trailing statement could mutate.
func GuardReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return errors.New(errors.ErrorTypeValidation, "empty query")
	}

	// Reject statement stacking. A single trailing semicolon is tolerated.
	if i := strings.Index(trimmed, ";"); i >= 0 && i != len(trimmed)-1 {
		return errors.New(errors.ErrorTypePermission, "multi-statement queries are not allowed on read-only connections").
			WithDetail("statement_prefix", safePrefix(trimmed))
	}
	trimmed = strings.TrimSuffix(trimmed, ";")

	keyword := leadingKeyword(trimmed)
	if _, mutating := mutatingKeywords[keyword]; mutating {
		return errors.Newf(errors.ErrorTypePermission, "mutating statement %q rejected on read-only connection", keyword).
			WithDetail("statement_prefix", safePrefix(trimmed))
	}

	switch keyword {
	case "select", "with", "show", "describe", "explain", "table", "values":
		return nil
	}

	return errors.Newf(errors.ErrorTypePermission, "statement %q is not a recognized read-only statement", keyword).
		WithDetail("statement_prefix", safePrefix(trimmed))
}

// leadingKeyword extracts the first SQL keyword, skipping comments
func leadingKeyword(query string) string {
	s := strings.TrimSpace(query)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return ""
			}
			s = strings.TrimSpace(s[nl+1:])
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return ""
			}
			s = strings.TrimSpace(s[end+2:])
		default:
			end := len(s)
			for i, r := range s {
				if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' {
					end = i
					break
				}
			}
			return strings.ToLower(s[:end])
		}
	}
}

// safePrefix returns a short statement prefix for error details. Full
// statements are withheld since caller-supplied queries may embed literals.
func safePrefix(query string) string {
	const max = 32
	if len(query) > max {
		return query[:max]
	}
	return query
}
