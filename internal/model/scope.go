package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Scope is a capability granted to an API key. The set of scopes is closed:
// read access is implied by any valid key, write access gates mutations.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
)

// ParseScope validates a scope string against the closed scope set.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeRead:
		return ScopeRead, nil
	case ScopeWrite:
		return ScopeWrite, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Scopes is the set of scopes held by an API key. Stored as a
// comma-separated string in the database.
type Scopes []Scope

// DefaultScopes is the scope set assigned to a new key when none is given.
func DefaultScopes() Scopes {
	return Scopes{ScopeRead, ScopeWrite}
}

// Has reports whether the set contains the given scope.
func (s Scopes) Has(scope Scope) bool {
	for _, have := range s {
		if have == scope {
			return true
		}
	}
	return false
}

// ParseScopes validates a list of scope strings, rejecting unknown entries
// and deduplicating the result.
func ParseScopes(raw []string) (Scopes, error) {
	out := make(Scopes, 0, len(raw))
	for _, r := range raw {
		sc, err := ParseScope(r)
		if err != nil {
			return nil, err
		}
		if !out.Has(sc) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s Scopes) String() string {
	parts := make([]string, len(s))
	for i, sc := range s {
		parts[i] = string(sc)
	}
	return strings.Join(parts, ",")
}

// Value implements driver.Valuer for sqlx storage.
func (s Scopes) Value() (driver.Value, error) {
	return s.String(), nil
}

// Scan implements sql.Scanner. Unknown scopes in stored data are rejected
// rather than silently dropped.
func (s *Scopes) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Scopes", src)
	}
	if raw == "" {
		*s = nil
		return nil
	}
	parsed, err := ParseScopes(strings.Split(raw, ","))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IPList is an optional allowlist of client IPs for a key. Empty means any
// IP is accepted. Stored as a comma-separated string.
type IPList []string

// Allows reports whether the given client IP may use the key. An empty
// list or an unknown client IP allows the request; filtering only applies
// when both sides are known.
func (l IPList) Allows(clientIP string) bool {
	if len(l) == 0 || clientIP == "" {
		return true
	}
	for _, ip := range l {
		if ip == clientIP {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (l IPList) Value() (driver.Value, error) {
	return strings.Join(l, ","), nil
}

// Scan implements sql.Scanner.
func (l *IPList) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into IPList", src)
	}
	if raw == "" {
		*l = nil
		return nil
	}
	*l = strings.Split(raw, ",")
	return nil
}
