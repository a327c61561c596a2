package session

import "sort"

// Registry maps canonical paths to open sessions.
// It is not safe for concurrent use; the Manager confines it to its loop.
type Registry struct {
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register records s under path. It reports false and leaves the registry
// unchanged when path is already registered.
func (r *Registry) Register(path string, s *Session) bool {
	if _, ok := r.sessions[path]; ok {
		return false
	}
	r.sessions[path] = s
	return true
}

// Lookup returns the session registered under path.
func (r *Registry) Lookup(path string) (*Session, bool) {
	s, ok := r.sessions[path]
	return s, ok
}

// Unregister removes path. It reports whether path was registered.
func (r *Registry) Unregister(path string) bool {
	if _, ok := r.sessions[path]; !ok {
		return false
	}
	delete(r.sessions, path)
	return true
}

// Paths returns the registered paths in sorted order.
func (r *Registry) Paths() []string {
	out := make([]string, 0, len(r.sessions))
	for p := range r.sessions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Sessions returns the registered sessions ordered by path.
func (r *Registry) Sessions() []*Session {
	paths := r.Paths()
	out := make([]*Session, len(paths))
	for i, p := range paths {
		out[i] = r.sessions[p]
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}
