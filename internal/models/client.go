package models

import (
	"strings"
	"time"
)

// ApiClient represents a caller authenticated against the assessment store
type ApiClient struct {
	ID             int        `json:"id"`
	Name           string     `json:"name"`
	ApiKey         string     `json:"-"`
	OrganizationID string     `json:"organization_id"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	Permissions    []string   `json:"permissions"`
}

// HasPermission checks if client has a specific permission.
// "assessments:*" matches any assessments permission and "*" matches everything.
func (c *ApiClient) HasPermission(required string) bool {
	if c == nil || !c.IsActive {
		return false
	}

	for _, perm := range c.Permissions {
		if perm == required || perm == "*" {
			return true
		}

		if strings.HasSuffix(perm, ":*") {
			prefix := strings.TrimSuffix(perm, "*")
			if strings.HasPrefix(required, prefix) {
				return true
			}
		}
	}

	return false
}

// MaskedApiKey returns first 8 characters of API key for logging
func (c *ApiClient) MaskedApiKey() string {
	if len(c.ApiKey) < 8 {
		return "***"
	}
	return c.ApiKey[:8] + "..."
}
