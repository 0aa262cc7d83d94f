// Package apikey implements the admin credential-issuance HTTP operation:
// POST /admin/api-keys. Resolution of presented keys lives in internal/auth
// (C1); this package only mints new ones.
package apikey

import "time"

// RateLimits is the optional per-credential window override.
type RateLimits struct {
	BurstLimit  int `json:"burst_limit"`
	MinuteLimit int `json:"minute_limit"`
	HourLimit   int `json:"hour_limit"`
	DayLimit    int `json:"day_limit"`
}

// CreateRequest is the JSON body for POST /admin/api-keys.
type CreateRequest struct {
	Name          string      `json:"name" validate:"required"`
	Tenant        string      `json:"tenant" validate:"required"`
	Scopes        []string    `json:"scopes" validate:"required,min=1,dive,required"`
	RateLimits    *RateLimits `json:"rate_limits,omitempty"`
	ExpiresInDays *int        `json:"expires_in_days,omitempty" validate:"omitempty,gte=1,lte=3650"`
	AllowedIPs    []string    `json:"allowed_ips,omitempty"`
}

// CreateResponse is the JSON body returned by POST /admin/api-keys. Key is
// the plaintext credential, shown exactly once.
type CreateResponse struct {
	APIKey    string     `json:"apiKey"`
	Key       string     `json:"key"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
