package media

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMIMEType is reported when neither the content nor the extension
// identify the file.
const DefaultMIMEType = "application/octet-stream"

// DetectMIME identifies the MIME type of the file at path by sniffing its
// content. When sniffing only yields a generic type, the extension of
// nameHint (or of path when nameHint is empty) is consulted.
func DetectMIME(path, nameHint string) string {
	detected := DefaultMIMEType
	if mt, err := mimetype.DetectFile(path); err == nil {
		detected = mt.String()
	}

	if detected != DefaultMIMEType && detected != "text/plain; charset=utf-8" {
		return detected
	}

	name := nameHint
	if name == "" {
		name = path
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return detected
}

// ImageDimensions decodes only the image header of the file at path.
// ok is false when the format is not decodable (including non-images).
func ImageDimensions(path string) (width, height int, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer func() { _ = f.Close() }()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
