package mocks

import (
	"fmt"
	"path"
	"sync"

	"github.com/user/hwencode/pkg/ports"
)

// FileSystem is an in-memory ports.FileSystem. Writes create their parent
// directories implicitly, like the os-backed adapter does.
type FileSystem struct {
	ReadFileFunc  func(path string) ([]byte, error)
	WriteFileFunc func(path string, data []byte) error
	MkdirAllFunc  func(path string) error

	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewFileSystem returns an empty file system.
func NewFileSystem() *FileSystem {
	return &FileSystem{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func (m *FileSystem) ReadFile(p string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(p)
	}
	data, ok := m.GetFile(p)
	if !ok {
		return nil, fmt.Errorf("open %s: file does not exist", p)
	}
	return data, nil
}

func (m *FileSystem) WriteFile(p string, data []byte) error {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(p, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = append([]byte(nil), data...)
	m.addDir(path.Dir(p))
	return nil
}

func (m *FileSystem) MkdirAll(p string) error {
	if m.MkdirAllFunc != nil {
		return m.MkdirAllFunc(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addDir(p)
	return nil
}

func (m *FileSystem) Exists(p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, isFile := m.files[p]
	return isFile || m.dirs[path.Clean(p)], nil
}

// GetFile returns what was last written to p.
func (m *FileSystem) GetFile(p string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[p]
	return data, ok
}

func (m *FileSystem) addDir(dir string) {
	for dir = path.Clean(dir); dir != "." && dir != "/" && !m.dirs[dir]; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
}

var _ ports.FileSystem = (*FileSystem)(nil)
