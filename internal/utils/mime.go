package utils

import "strings"

// GetExtensionFromMime maps the MIME types WhatsApp actually sends to file
// extensions. Parameters like "; codecs=opus" are ignored.
func GetExtensionFromMime(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "audio/ogg":
		return "ogg"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav":
		return "wav"
	case "video/mp4":
		return "mp4"
	case "application/pdf":
		return "pdf"
	default:
		return "bin"
	}
}
