package storage

import (
	"path"
	"strings"
)

// contentTypes maps destination extensions to MIME types for the media
// kinds the engine produces
var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
}

// ContentTypeFor infers the MIME type from a destination path extension.
// Unknown extensions fall back to application/octet-stream.
func ContentTypeFor(destPath string) string {
	ext := strings.ToLower(path.Ext(destPath))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
