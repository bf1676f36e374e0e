package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

var audioTypes = map[string]string{
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
}

// DetectContentType guesses a mime type from the key extension.
// Encrypted content should always be stored as application/octet-stream.
func DetectContentType(key string) string {
	ext := strings.ToLower(filepath.Ext(key))
	if t, ok := audioTypes[ext]; ok {
		return t
	}
	if ext == ".yaml" || ext == ".yml" || ext == ".md" || ext == ".cue" || ext == ".m3u" {
		return "text/plain; charset=utf-8"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
