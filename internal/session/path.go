package session

import (
	"path"
	"strings"
)

// Request is a parsed path request.
type Request struct {
	// Path is the canonical document path. It always begins with "/".
	// It is empty for an empty request.
	Path string

	// Jump is the optional "LINE" or "LINE:COL" suffix.
	Jump string
}

// ParseRequest normalizes a raw request of the form "PATH[:JUMP]".
// A missing leading "/" is added. A path ending in "/" is rejected with a
// ValidationError wrapping ErrDirectoryPath.
func ParseRequest(raw string) (Request, error) {
	p, jump, _ := strings.Cut(raw, ":")
	p = strings.TrimSpace(p)
	if p == "" {
		return Request{}, nil
	}
	if strings.HasSuffix(p, "/") {
		return Request{}, &ValidationError{
			Request: raw,
			Message: "Cannot create files ending with /",
			Err:     ErrDirectoryPath,
		}
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return Request{Path: path.Clean(p), Jump: strings.TrimSpace(jump)}, nil
}
