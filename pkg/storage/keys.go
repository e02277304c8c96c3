package storage

import (
	"path"
	"strings"

	"github.com/marmos91/dittomedia/pkg/media"
)

// ValidateKey rejects keys that are empty, absolute, contain backslashes,
// NUL bytes or ".." segments. Drivers call it before touching the provider
// so a crafted key can never escape the local root or bucket prefix.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return media.Validation("empty storage key", key)
	case strings.HasPrefix(key, "/"):
		return media.Validation("storage key must be relative", key)
	case strings.ContainsAny(key, "\\\x00"):
		return media.Validation("storage key contains illegal characters", key)
	}

	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return media.Validation("storage key escapes its root", key)
		}
	}
	return nil
}

// CleanKey normalizes a key: trims leading slashes and collapses "." and
// duplicate separators. It does not validate.
func CleanKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return ""
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// JoinPrefix prepends prefix (a bucket "directory") to key.
func JoinPrefix(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// TrimPrefix strips prefix from a provider key, the inverse of JoinPrefix.
func TrimPrefix(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, prefix+"/")
}

func notFoundLocal(path string) error {
	return media.NotFound("local file not found", path)
}
