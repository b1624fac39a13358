package app

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var imageMimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// LoadImagePayload reads an image file into the base64 attachment format the
// transport forwards inline.
func LoadImagePayload(path string) (*ImagePayload, error) {
	ext := strings.ToLower(filepath.Ext(path))
	mimeType, ok := imageMimeTypes[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported image type %q", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &ImagePayload{
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	}, nil
}
