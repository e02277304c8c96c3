package storage

import (
	"net/url"
	"strings"
)

// URLBuilder assembles public object URLs.
//
// When CDNDomain is set it wins over BaseURL. CDN domains given without a
// scheme are served over https.
type URLBuilder struct {
	CDNDomain string
	BaseURL   string
}

// HasCDN reports whether a CDN domain is configured.
func (b URLBuilder) HasCDN() bool {
	return strings.TrimSpace(b.CDNDomain) != ""
}

// Public returns the unsigned URL for key.
func (b URLBuilder) Public(key string) string {
	base := b.BaseURL
	if b.HasCDN() {
		base = b.CDNDomain
		if !strings.Contains(base, "://") {
			base = "https://" + base
		}
	}
	return JoinURL(base, key)
}

// JoinURL appends an escaped key to base, keeping exactly one separator.
func JoinURL(base, key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	escaped := strings.Join(segments, "/")

	base = strings.TrimRight(base, "/")
	if base == "" {
		return "/" + escaped
	}
	return base + "/" + escaped
}
