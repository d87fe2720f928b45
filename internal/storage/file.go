package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sipico/freesub/internal/record"
)

// FileStore keeps one JSON file per record at <root>/<domain>/<label>.json.
// The tree is meant to be committed to git, so files are indented and end
// with a newline.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the store directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) path(key record.Key) (string, error) {
	key = record.NewKey(key.Domain, key.Label)
	if !validDomain(key.Domain) || !record.ValidLabel(key.Label) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key.String())
	}
	return filepath.Join(s.root, key.Domain, key.Label+".json"), nil
}

// validDomain rejects anything that is not already a normalised host name,
// which also keeps path separators and ".." out of the tree.
func validDomain(domain string) bool {
	norm, err := record.NormalizeHostname(domain)
	return err == nil && norm == domain
}

// Get returns the record stored under key.
func (s *FileStore) Get(ctx context.Context, key record.Key) (*record.Registered, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	rec, err := readRecord(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Put writes the record atomically: a temp file in the same directory is
// renamed over the destination.
func (s *FileStore) Put(ctx context.Context, rec *record.Registered) error {
	path, err := s.path(rec.Key())
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create domain directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		//nolint:errcheck
		os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close record: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set record permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace record: %w", err)
	}
	return nil
}

// Delete removes the record file.
func (s *FileStore) Delete(ctx context.Context, key record.Key) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// List returns the records of every domain directory.
func (s *FileStore) List(ctx context.Context) ([]*record.Registered, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var all []*record.Registered
	failures := make(map[string]error)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		recs, fails, err := s.listDir(e.Name())
		if err != nil {
			failures[e.Name()] = err
			continue
		}
		all = append(all, recs...)
		for k, v := range fails {
			failures[k] = v
		}
	}

	sortRecords(all)
	if len(failures) > 0 {
		return all, &PartialError{Failures: failures}
	}
	return all, nil
}

// ListDomain returns the records of one domain.
func (s *FileStore) ListDomain(ctx context.Context, domain string) ([]*record.Registered, error) {
	domain = strings.ToLower(domain)
	if !validDomain(domain) {
		return nil, fmt.Errorf("%w: domain %q", ErrInvalidKey, domain)
	}
	recs, failures, err := s.listDir(domain)
	if err != nil {
		return nil, err
	}
	sortRecords(recs)
	if len(failures) > 0 {
		return recs, &PartialError{Failures: failures}
	}
	return recs, nil
}

// Close implements Store. FileStore holds no resources.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) listDir(domain string) ([]*record.Registered, map[string]error, error) {
	dir := filepath.Join(s.root, domain)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read domain directory: %w", err)
	}

	var recs []*record.Registered
	failures := make(map[string]error)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		rel := filepath.Join(domain, name)
		rec, err := readRecord(filepath.Join(dir, name))
		if err != nil {
			failures[rel] = err
			continue
		}
		want := record.NewKey(domain, strings.TrimSuffix(name, ".json"))
		if rec.Key() != want {
			failures[rel] = fmt.Errorf("file holds %s", rec.Key())
			continue
		}
		recs = append(recs, rec)
	}
	return recs, failures, nil
}

func readRecord(path string) (*record.Registered, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec record.Registered
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

func sortRecords(recs []*record.Registered) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Key(), recs[j].Key()
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		return a.Label < b.Label
	})
}
