// Package model implements the per-instance control capability: the
// descriptor identity, the load/start/stop state machine and the
// cooperative capture-and-predict loop.
package model

import (
	"net/url"
	"strings"

	"github.com/visiona/modelbridge/wire"
)

// Descriptor identifies one model instance. Immutable after creation.
type Descriptor struct {
	// ID is derived from the last non-empty path segment of SourceURL.
	ID string
	// Kind is the input modality declared by the model metadata.
	Kind wire.Kind
	// SourceURL is the published base URL the model was loaded from.
	SourceURL string
}

// DeriveID extracts the registry key from a model's source URL: the last
// non-empty path segment, with any trailing slash stripped.
func DeriveID(sourceURL string) string {
	s := sourceURL
	if u, err := url.Parse(sourceURL); err == nil && u.Path != "" {
		s = u.Path
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}
