// Package storage is a two-tier record store: a bounded in-memory map in
// front of one JSON file per record on disk.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// DefaultCapacity is the memory tier size.
const DefaultCapacity = 50

const fileExt = ".json"

// Store keeps records of type T by id. Memory evictions never touch disk.
type Store[T any] struct {
	mem      map[string]*T
	dir      string
	order    []string
	capacity int
	mu       sync.Mutex
}

// Option configures a Store.
type Option func(*options)

type options struct {
	capacity int
}

// WithCapacity overrides the memory tier size.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// New creates a store writing to dir, creating it if needed.
func New[T any](dir string, opts ...Option) (*Store[T], error) {
	o := options{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store[T]{
		dir:      dir,
		capacity: o.capacity,
		mem:      make(map[string]*T, o.capacity),
	}, nil
}

// Dir returns the disk tier directory.
func (s *Store[T]) Dir() string {
	return s.dir
}

// fileName maps an id to a safe file name.
func fileName(id string) string {
	return memKey(id) + fileExt
}

// memKey is the sanitized id. Both tiers key on it.
func memKey(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func (s *Store[T]) path(id string) string {
	return filepath.Join(s.dir, fileName(id))
}

// Save writes v to both tiers. The disk write replaces the whole file.
func (s *Store[T]) Save(id string, v *T) error {
	if id == "" {
		return errors.New("storage: empty id")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	if err := writeFileAtomic(s.path(id), data); err != nil {
		return err
	}

	s.mu.Lock()
	s.putLocked(memKey(id), v)
	s.mu.Unlock()
	return nil
}

// Get returns the record for id, falling back to disk on a memory miss.
// A record on neither tier returns (nil, nil).
func (s *Store[T]) Get(id string) (*T, error) {
	key := memKey(id)
	s.mu.Lock()
	if v, ok := s.mem[key]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := s.load(s.path(id))
	if err != nil || v == nil {
		return nil, err
	}
	s.mu.Lock()
	s.putLocked(key, v)
	s.mu.Unlock()
	return v, nil
}

// InMemory reports whether id is currently held by the memory tier.
func (s *Store[T]) InMemory(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.mem[memKey(id)]
	return ok
}

// Len returns the memory tier size.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mem)
}

// Recent returns memory records newest insertion first.
func (s *Store[T]) Recent() []*T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*T, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.mem[s.order[i]])
	}
	return out
}

// Delete removes id from both tiers.
func (s *Store[T]) Delete(id string) error {
	s.mu.Lock()
	s.removeLocked(memKey(id))
	s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// Bootstrap loads the n most recently modified records into memory, oldest
// first so the newest end up last in insertion order.
func (s *Store[T]) Bootstrap(n int) (int, error) {
	files, err := s.files()
	if err != nil {
		return 0, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	if len(files) > n {
		files = files[:n]
	}

	loaded := 0
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		v, err := s.load(f.path)
		if err != nil {
			log.Warn().Err(err).Str("file", f.path).Msg("Skipping unreadable record")
			continue
		}
		if v == nil {
			continue
		}
		s.mu.Lock()
		s.putLocked(strings.TrimSuffix(filepath.Base(f.path), fileExt), v)
		s.mu.Unlock()
		loaded++
	}
	return loaded, nil
}

// PurgeOlderThan deletes disk records whose mtime is before cutoff and drops
// them from memory. It returns the number of files removed.
func (s *Store[T]) PurgeOlderThan(cutoff time.Time) (int, error) {
	files, err := s.files()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if !f.mod.Before(cutoff) {
			continue
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", f.path).Msg("Failed to remove expired record")
			continue
		}
		s.mu.Lock()
		s.removeLocked(strings.TrimSuffix(filepath.Base(f.path), fileExt))
		s.mu.Unlock()
		removed++
	}
	return removed, nil
}

type diskFile struct {
	mod  time.Time
	path string
}

func (s *Store[T]) files() ([]diskFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store dir: %w", err)
	}
	out := make([]diskFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, diskFile{path: filepath.Join(s.dir, e.Name()), mod: info.ModTime()})
	}
	return out, nil
}

func (s *Store[T]) load(path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return v, nil
}

func (s *Store[T]) putLocked(id string, v *T) {
	if _, ok := s.mem[id]; ok {
		s.removeOrderLocked(id)
	}
	s.mem[id] = v
	s.order = append(s.order, id)
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.mem, oldest)
	}
}

func (s *Store[T]) removeLocked(id string) {
	if _, ok := s.mem[id]; !ok {
		return
	}
	delete(s.mem, id)
	s.removeOrderLocked(id)
}

func (s *Store[T]) removeOrderLocked(id string) {
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
