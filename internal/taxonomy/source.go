package taxonomy

import "sync"

// Source resolves the taxonomy new jobs are split against. An empty path
// means the built-in taxonomy.
type Source struct {
	mu   sync.RWMutex
	path string
}

// NewSource creates a Source reading from path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// SetPath switches the file read by later calls to Current.
func (s *Source) SetPath(path string) {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
}

// Current loads the taxonomy. The file is re-read on every call so edits take
// effect for the next job without a restart.
func (s *Source) Current() (*Snapshot, error) {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()
	if path == "" {
		return Builtin(), nil
	}
	return LoadFile(path)
}
