package media

import "time"

// StorageConfig is a persisted storage backend configuration.
//
// The registry turns a StorageConfig into a live backend through the
// factory registered for Driver. Options are driver specific and decoded by
// that factory.
type StorageConfig struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`

	// Options holds driver specific settings (bucket, endpoint, credentials...)
	Options map[string]any `json:"options,omitempty"`

	// CDNDomain, when set, is preferred over the backend's native URL
	CDNDomain string `json:"cdn_domain,omitempty"`

	// IsDefault marks the default config of its scope. The scope is the
	// tenant named by TenantID, or the system when TenantID is empty.
	IsDefault bool   `json:"is_default"`
	TenantID  string `json:"tenant_id,omitempty"`

	// RateLimit throttles calls to the backend. Zero disables throttling.
	RateLimit RateLimit `json:"rate_limit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RateLimit is a token bucket setting.
type RateLimit struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty"`
}

// Clone returns a copy with its own options map.
func (c *StorageConfig) Clone() *StorageConfig {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Options != nil {
		cp.Options = make(map[string]any, len(c.Options))
		for k, v := range c.Options {
			cp.Options[k] = v
		}
	}
	return &cp
}

// SameScope reports whether two configs compete for the same default slot.
func (c *StorageConfig) SameScope(other *StorageConfig) bool {
	return c.TenantID == other.TenantID
}
