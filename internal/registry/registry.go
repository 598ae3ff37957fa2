// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Package registry persists the catalogue of known firmware entries as a
// JSON file in the application data directory. The file maps firmware id to
// entry; readers tolerate unknown future fields, and unknown fields present
// in the file are preserved across rewrites so older binaries never destroy
// data written by newer ones.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kumulus-tools/boardflash/internal/logging"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// ErrNotFound is returned when a firmware id has no registry entry.
var ErrNotFound = errors.New("firmware entry not found")

// ErrValidatedImmutable is returned on attempts to overwrite an entry that
// has already been validated. Validated entries are content-addressed
// records and never change.
var ErrValidatedImmutable = errors.New("validated firmware entries are immutable")

// Store is the JSON-file-backed firmware registry. All operations are
// serialized through an internal mutex; the file is rewritten atomically
// (temp file + rename) on every mutation.
type Store struct {
	path string

	mu      sync.Mutex
	entries map[string]model.FirmwareEntry
	// raw holds the undecoded JSON per id so fields this version does not
	// know about survive a rewrite.
	raw map[string]map[string]json.RawMessage
}

// Open loads the registry file at path, creating an empty registry when the
// file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		entries: make(map[string]model.FirmwareEntry),
		raw:     make(map[string]map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("could not read registry %s: %w", path, err)
	}

	var file map[string]json.RawMessage
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("registry %s is not valid JSON: %w", path, err)
	}

	for id, rawEntry := range file {
		var e model.FirmwareEntry
		if err := json.Unmarshal(rawEntry, &e); err != nil {
			// A single bad record must not take the whole registry down.
			logging.Warnf("registry: skipping unreadable entry %s: %v", id, err)
			continue
		}
		var fields map[string]json.RawMessage
		_ = json.Unmarshal(rawEntry, &fields)
		s.entries[id] = e
		s.raw[id] = fields
	}

	logging.Debugf("registry: loaded %d entries from %s", len(s.entries), path)
	return s, nil
}

// Add inserts or replaces an entry. Replacing a validated entry is rejected;
// validated records are immutable until deleted.
func (s *Store) Add(e model.FirmwareEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[e.ID]; ok && old.Validated {
		return fmt.Errorf("%w: %s", ErrValidatedImmutable, e.ID)
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}
	s.entries[e.ID] = e
	delete(s.raw, e.ID) // rewrite from the struct, no stale extras
	return s.saveLocked()
}

// Get returns the entry for id.
func (s *Store) Get(id string) (model.FirmwareEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return model.FirmwareEntry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// All returns every entry, sorted by AddedAt descending then id for a
// stable listing.
func (s *Store) All() []model.FirmwareEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.FirmwareEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.After(out[j].AddedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CompatibleWith returns entries usable for the given device, newest first.
func (s *Store) CompatibleWith(d model.Device) []model.FirmwareEntry {
	var out []model.FirmwareEntry
	for _, e := range s.All() {
		if e.CompatibleWith(d) {
			out = append(out, e)
		}
	}
	return out
}

// MarkValidated flips the validated flag for id. It must only be called
// after a successful checksum and size comparison; re-marking an already
// validated entry is a no-op.
func (s *Store) MarkValidated(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.Validated {
		return nil
	}
	e.Validated = true
	s.entries[id] = e
	if fields, ok := s.raw[id]; ok {
		fields["validated"], _ = json.Marshal(true)
	}
	return s.saveLocked()
}

// Delete removes the entry and, when its file lives inside managedDir, the
// cached firmware file as well. Files outside managedDir (user-provided
// local firmware) are never touched.
func (s *Store) Delete(id, managedDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if managedDir != "" && e.FilePath != "" && insideDir(e.FilePath, managedDir) {
		if err := os.Remove(e.FilePath); err != nil && !os.IsNotExist(err) {
			logging.Warnf("registry: could not remove cached firmware %s: %v", e.FilePath, err)
		}
	}

	delete(s.entries, id)
	delete(s.raw, id)
	return s.saveLocked()
}

// saveLocked writes the registry atomically. Callers must hold s.mu.
func (s *Store) saveLocked() error {
	file := make(map[string]json.RawMessage, len(s.entries))
	for id, e := range s.entries {
		if fields, ok := s.raw[id]; ok {
			// Merge known fields over the preserved raw record.
			known, err := json.Marshal(e)
			if err != nil {
				return err
			}
			var knownFields map[string]json.RawMessage
			_ = json.Unmarshal(known, &knownFields)
			for k, v := range knownFields {
				fields[k] = v
			}
			merged, err := json.Marshal(fields)
			if err != nil {
				return err
			}
			file[id] = merged
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		file[id] = data
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("could not replace registry file: %w", err)
	}
	return nil
}

// insideDir reports whether path is located under dir.
func insideDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
