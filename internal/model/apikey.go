package model

import "time"

// DefaultRateLimitRPM is the per-key requests-per-minute ceiling applied
// when a key is created without an explicit limit.
const DefaultRateLimitRPM = 60

// APIKey represents a workspace API key used to authenticate requests
// against the public v1 API. The raw secret is never stored; only a SHA-256
// hash and a short prefix for identification are persisted.
type APIKey struct {
	ID           string     `json:"id" db:"id"`
	WorkspaceID  string     `json:"workspace_id" db:"workspace_id"`
	Name         string     `json:"name" db:"name"`
	KeyHash      string     `json:"-" db:"key_hash"`    // SHA-256 hash, never expose
	Prefix       string     `json:"prefix" db:"prefix"` // First 12 chars for identification
	Scopes       Scopes     `json:"scopes" db:"scopes"`
	AllowedIPs   IPList     `json:"allowed_ips,omitempty" db:"allowed_ips"`
	RateLimitRPM int        `json:"rate_limit_rpm" db:"rate_limit_rpm"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Limit returns the effective requests-per-minute ceiling for the key.
func (k *APIKey) Limit() int {
	if k.RateLimitRPM <= 0 {
		return DefaultRateLimitRPM
	}
	return k.RateLimitRPM
}
