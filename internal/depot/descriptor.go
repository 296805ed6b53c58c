// Package depot stores files in an object store together with their
// original name and content type, and serves cached thumbnails derived from
// them.
package depot

import "strings"

// FileNameMetadataKey is the object metadata field holding the original file
// name. Existing objects depend on this exact spelling.
const FileNameMetadataKey = "FileName"

// FileDescriptor describes a stored object.
type FileDescriptor struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// lookupMetadata finds key in metadata ignoring case. S3 canonicalises user
// metadata names on the way back, so "FileName" may come back as "Filename".
func lookupMetadata(metadata map[string]string, key string) (string, bool) {
	if v, ok := metadata[key]; ok {
		return v, true
	}
	for k, v := range metadata {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
