// Package envfile persists make-agent state as KEY=value lines in the
// project's dotenv files.
package envfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// WriteOrder lists the files a value may be written to; the first existing
// one wins and .env is created when none exist. Removal touches all of them.
var WriteOrder = []string{".env", ".env.local", ".env.development", ".env.production"}

// ReadOrder lists the files consulted by Get before the process environment.
var ReadOrder = []string{".env.local", ".env"}

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store reads and edits dotenv files in one directory. Edits are line based
// so comments and unrelated entries survive.
type Store struct {
	dir       string
	lookupEnv func(string) (string, bool)

	mu sync.Mutex
}

// New returns a store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir, lookupEnv: os.LookupEnv}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Get looks key up in ReadOrder, then in the process environment.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range ReadOrder {
		p := s.path(name)
		if !exists(p) {
			continue
		}
		values, err := godotenv.Read(p)
		if err != nil {
			return "", false, fmt.Errorf("read %s: %w", name, err)
		}
		if v, ok := values[key]; ok {
			return v, true, nil
		}
	}
	if v, ok := s.lookupEnv(key); ok {
		return v, true, nil
	}
	return "", false, nil
}

// Set replaces any previous entry for key and writes it as a single line.
func (s *Store) Set(_ context.Context, key, value string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid env key %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.removeLocked(key); err != nil {
		return err
	}
	line, err := godotenv.Marshal(map[string]string{key: value})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	target := s.path(WriteOrder[0])
	for _, name := range WriteOrder {
		if p := s.path(name); exists(p) {
			target = p
			break
		}
	}
	content, err := os.ReadFile(target)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", filepath.Base(target), err)
	}
	if len(content) > 0 && content[len(content)-1] != '\n' {
		content = append(content, '\n')
	}
	content = append(content, line...)
	content = append(content, '\n')
	return writeKeepingMode(target, content)
}

// Remove deletes key from every file in WriteOrder.
func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(key)
}

func (s *Store) removeLocked(key string) error {
	var errs []error
	for _, name := range WriteOrder {
		p := s.path(name)
		content, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", name, err))
			continue
		}
		updated, changed := dropKey(string(content), key)
		if !changed {
			continue
		}
		if err := writeKeepingMode(p, []byte(updated)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dropKey removes lines assigning key. Every other line, blank or not, is
// kept as it was.
func dropKey(content, key string) (string, bool) {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	changed := false
	for _, line := range lines {
		trimmed := strings.TrimPrefix(strings.TrimSpace(line), "export ")
		if strings.HasPrefix(strings.TrimSpace(trimmed), key+"=") {
			changed = true
			continue
		}
		kept = append(kept, line)
	}
	if !changed {
		return content, false
	}
	out := strings.Join(kept, "\n")
	if strings.TrimSpace(out) == "" {
		return "", true
	}
	return out, true
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeKeepingMode(path string, content []byte) error {
	mode := fs.FileMode(0o600)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
