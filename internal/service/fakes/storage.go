package fakes

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/webdav"
)

// Storage is an in-memory file server. Directories exist explicitly or
// implicitly as parents of files.
type Storage struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	errs  map[string]map[string]error
	calls []string
}

// NewStorage creates an empty file server
func NewStorage() *Storage {
	return &Storage{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
		errs:  make(map[string]map[string]error),
	}
}

// Put stores a file without recording a call
func (s *Storage) Put(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(path.Clean(p), data)
}

func (s *Storage) putLocked(p string, data []byte) {
	s.files[p] = append([]byte(nil), data...)
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		s.dirs[dir] = true
	}
}

// File returns a stored file and whether it exists
func (s *Storage) File(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path.Clean(p)]
	return data, ok
}

// Paths lists every stored file
func (s *Storage) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Fail makes op on p return err. An empty p matches every path.
func (s *Storage) Fail(op, p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs[op] == nil {
		s.errs[op] = make(map[string]error)
	}
	if p != "" {
		p = path.Clean(p)
	}
	s.errs[op][p] = err
}

// Calls returns the recorded calls as "Op path"
func (s *Storage) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Storage) record(op, p string) error {
	s.calls = append(s.calls, op+" "+p)
	if byPath, ok := s.errs[op]; ok {
		if err, ok := byPath[p]; ok {
			return err
		}
		if err, ok := byPath[""]; ok {
			return err
		}
	}
	return nil
}

func (s *Storage) isDirLocked(p string) bool {
	if s.dirs[p] {
		return true
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	for f := range s.files {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}

func (s *Storage) Exists(_ context.Context, p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean(p)
	if err := s.record("Exists", p); err != nil {
		return false, err
	}
	_, ok := s.files[p]
	return ok || s.isDirLocked(p), nil
}

func (s *Storage) Read(_ context.Context, p string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean(p)
	if err := s.record("Read", p); err != nil {
		return nil, err
	}
	data, ok := s.files[p]
	if !ok {
		return nil, fmt.Errorf("failed to read %s: %w", p, webdav.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *Storage) Write(_ context.Context, p string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean(p)
	if err := s.record("Write", p); err != nil {
		return err
	}
	s.putLocked(p, data)
	return nil
}

func (s *Storage) Copy(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, dst = path.Clean(src), path.Clean(dst)
	if err := s.record("Copy", src); err != nil {
		return err
	}
	data, ok := s.files[src]
	if !ok && s.isDirLocked(src) {
		return fmt.Errorf("failed to copy %s: %w", src, webdav.ErrIsDirectory)
	}
	if !ok {
		return fmt.Errorf("failed to copy %s: %w", src, webdav.ErrNotFound)
	}
	s.putLocked(dst, data)
	return nil
}

func (s *Storage) Delete(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean(p)
	if err := s.record("Delete", p); err != nil {
		return err
	}
	if _, ok := s.files[p]; !ok {
		if s.isDirLocked(p) {
			return fmt.Errorf("failed to delete %s: %w", p, webdav.ErrIsDirectory)
		}
		return fmt.Errorf("failed to delete %s: %w", p, webdav.ErrNotFound)
	}
	delete(s.files, p)
	return nil
}

func (s *Storage) DeleteDirectory(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean(p)
	if err := s.record("DeleteDirectory", p); err != nil {
		return err
	}
	if !s.isDirLocked(p) {
		return fmt.Errorf("failed to delete directory %s: %w", p, webdav.ErrNotFound)
	}
	prefix := p + "/"
	for f := range s.files {
		if strings.HasPrefix(f, prefix) {
			delete(s.files, f)
		}
	}
	for d := range s.dirs {
		if d == p || strings.HasPrefix(d, prefix) {
			delete(s.dirs, d)
		}
	}
	return nil
}

func (s *Storage) ListDirectory(_ context.Context, p string) ([]models.FileEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean(p)
	if err := s.record("ListDirectory", p); err != nil {
		return nil, err
	}
	if !s.isDirLocked(p) {
		return nil, fmt.Errorf("failed to list %s: %w", p, webdav.ErrNotFound)
	}

	prefix := strings.TrimSuffix(p, "/") + "/"
	seen := make(map[string]models.FileEntry)
	for f, data := range s.files {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		rest := strings.TrimPrefix(f, prefix)
		if name, _, nested := strings.Cut(rest, "/"); nested {
			seen[name] = models.FileEntry{Name: name, Type: models.FileTypeDir}
		} else {
			seen[name] = models.FileEntry{Name: name, Type: models.FileTypeFile, Size: int64(len(data))}
		}
	}
	for d := range s.dirs {
		if !strings.HasPrefix(d, prefix) {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(d, prefix), "/")
		seen[name] = models.FileEntry{Name: name, Type: models.FileTypeDir}
	}

	entries := make([]models.FileEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
