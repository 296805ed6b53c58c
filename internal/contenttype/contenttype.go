// Package contenttype maps file names to MIME types.
package contenttype

import (
	"mime"
	"path/filepath"
	"strings"
)

// Default is returned for names without a recognised extension.
const Default = "application/octet-stream"

// known is consulted before the platform registry so that results do not
// depend on the host's mime.types file.
var known = map[string]string{
	".bmp":  "image/bmp",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".svg":  "image/svg+xml",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",

	".css":  "text/css",
	".csv":  "text/csv",
	".htm":  "text/html",
	".html": "text/html",
	".md":   "text/markdown",
	".txt":  "text/plain",
	".xml":  "text/xml",

	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".js":   "application/javascript",
	".json": "application/json",
	".pdf":  "application/pdf",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",

	".7z":  "application/x-7z-compressed",
	".gz":  "application/gzip",
	".tar": "application/x-tar",
	".zip": "application/zip",

	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
}

// Resolve returns the MIME type for fileName based on its extension. It
// never fails; unknown or missing extensions yield Default.
func Resolve(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" || ext == "." {
		return Default
	}

	if ct, ok := known[ext]; ok {
		return ct
	}

	// Fall back to the platform registry, dropping parameters such as
	// "; charset=utf-8".
	if ct := mime.TypeByExtension(ext); ct != "" {
		if media, _, err := mime.ParseMediaType(ct); err == nil {
			return media
		}
	}

	return Default
}
