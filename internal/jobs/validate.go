package jobs

import (
	"fmt"
	"mime"
	"path"
	"strings"
	"unicode/utf8"
)

const maxFilenameLength = 255

var allowedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

var allowedContentTypes = map[string]bool{
	"video/mp4":        true,
	"video/x-msvideo":  true,
	"video/avi":        true,
	"video/msvideo":    true,
	"video/quicktime":  true,
	"video/x-matroska": true,
	"video/webm":       true,
}

// validateUpload checks the filename extension and the declared content type
// against the video allow-list. It returns the bare media type.
func validateUpload(filename, contentType string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", fmt.Errorf("%w: filename is required", ErrValidation)
	}
	if !utf8.ValidString(name) || len(name) > maxFilenameLength {
		return "", fmt.Errorf("%w: filename is invalid", ErrValidation)
	}
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: only video files are allowed (MP4, AVI, MOV, MKV, WebM)", ErrValidation)
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !allowedContentTypes[strings.ToLower(mediaType)] {
		return "", fmt.Errorf("%w: content type %q is not an allowed video type", ErrValidation, contentType)
	}
	return strings.ToLower(mediaType), nil
}
