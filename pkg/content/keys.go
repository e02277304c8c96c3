package content

import (
	"path/filepath"
	"strings"
	"time"
)

// maxExtLen bounds the extension carried over to remote keys.
const maxExtLen = 16

// RemoteKey derives the key for new content: a UTC date directory, the
// record id and the lowercased extension of name, under prefix.
//
//	media/2026/10/18/6f1c...e2.png
func RemoteKey(prefix string, now time.Time, id, name string) string {
	key := now.UTC().Format("2006/01/02") + "/" + id + extension(name)
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// extension returns the sanitized extension of name, or "" when it holds
// anything but ASCII letters and digits.
func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
