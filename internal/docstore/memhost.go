package docstore

import (
	"context"
	"path"
	"sort"
	"sync"
)

// MemoryHost is an in-process Host with the same precondition rules as the
// remote hosts. It backs tests and the "memory" backend.
type MemoryHost struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryHost returns an empty MemoryHost.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{files: make(map[string][]byte)}
}

// GetFile returns a copy of the content stored at p.
func (m *MemoryHost) GetFile(_ context.Context, p string) (File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.files[p]
	if !ok {
		return File{}, ErrNotFound
	}
	out := make([]byte, len(content))
	copy(out, content)
	return File{Content: out, Token: BlobToken(content)}, nil
}

// PutFile stores req.Content at p when req.Token matches the current blob,
// or when p is empty and no token is given.
func (m *MemoryHost) PutFile(_ context.Context, p string, req PutRequest) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.files[p]
	switch {
	case req.Token == "" && exists:
		return "", ErrExists
	case req.Token != "" && !exists:
		return "", ErrConflict
	case req.Token != "" && BlobToken(current) != req.Token:
		return "", ErrConflict
	}
	content := make([]byte, len(req.Content))
	copy(content, req.Content)
	m.files[p] = content
	return BlobToken(content), nil
}

// DeleteFile removes p if token still matches its content.
func (m *MemoryHost) DeleteFile(_ context.Context, p string, token Token, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.files[p]
	if !exists {
		return ErrNotFound
	}
	if BlobToken(current) != token {
		return ErrConflict
	}
	delete(m.files, p)
	return nil
}

// ListDir returns the sorted paths directly under dir.
func (m *MemoryHost) ListDir(_ context.Context, dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for p := range m.files {
		if path.Dir(p) == dir {
			names = append(names, p)
		}
	}
	sort.Strings(names)
	return names, nil
}
