// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kumulus-tools/boardflash/internal/model"
)

func testEntry(id string) model.FirmwareEntry {
	return model.FirmwareEntry{
		ID:             id,
		Name:           "widget",
		Version:        "1.2.3",
		Board:          model.BoardSTM32,
		FilePath:       "/tmp/" + id + ".bin",
		ChecksumSHA256: "deadbeef",
		SizeBytes:      1024,
		Source:         model.SourceLocal,
		AddedAt:        time.Now().UTC(),
	}
}

func TestAddGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firmware_registry.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	e := testEntry("fw-1")
	if err := s.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Reopen to prove persistence.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := s2.Get("fw-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != e.Name || got.ChecksumSHA256 != e.ChecksumSHA256 || got.SizeBytes != e.SizeBytes {
		t.Errorf("round-trip mismatch: got %+v", got)
	}

	if _, err := s2.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestValidatedEntriesAreImmutable(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "reg.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	e := testEntry("fw-1")
	if err := s.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.MarkValidated("fw-1"); err != nil {
		t.Fatalf("MarkValidated: %v", err)
	}

	// Idempotent re-validation is allowed.
	if err := s.MarkValidated("fw-1"); err != nil {
		t.Fatalf("re-MarkValidated: %v", err)
	}

	// Overwriting a validated record is not.
	e.Version = "9.9.9"
	if err := s.Add(e); !errors.Is(err, ErrValidatedImmutable) {
		t.Errorf("expected ErrValidatedImmutable, got %v", err)
	}
}

func TestUnknownFieldsSurviveRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reg.json")

	// A future version wrote an entry with a field we do not know about.
	future := map[string]any{
		"fw-1": map[string]any{
			"id": "fw-1", "name": "widget", "version": "1.0.0",
			"board_type": "STM32", "file_path": "/tmp/fw.bin",
			"checksum_sha256": "abc", "size_bytes": 10,
			"source": "local", "validated": false,
			"added_at":     time.Now().UTC().Format(time.RFC3339),
			"signing_cert": "future-field",
		},
	}
	data, _ := json.Marshal(future)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.MarkValidated("fw-1"); err != nil {
		t.Fatalf("MarkValidated: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("rewritten registry is not valid JSON: %v", err)
	}
	if _, ok := out["fw-1"]["signing_cert"]; !ok {
		t.Error("unknown field was dropped on rewrite")
	}
	var validated bool
	_ = json.Unmarshal(out["fw-1"]["validated"], &validated)
	if !validated {
		t.Error("validated flag not persisted")
	}
}

func TestDeleteRemovesManagedFileOnly(t *testing.T) {
	dir := t.TempDir()
	managed := filepath.Join(dir, "downloads")
	if err := os.MkdirAll(managed, 0755); err != nil {
		t.Fatal(err)
	}

	cached := filepath.Join(managed, "fw-cached.bin")
	if err := os.WriteFile(cached, []byte("cached"), 0644); err != nil {
		t.Fatal(err)
	}
	user := filepath.Join(dir, "user-supplied.bin")
	if err := os.WriteFile(user, []byte("user"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(filepath.Join(dir, "reg.json"))
	if err != nil {
		t.Fatal(err)
	}

	eCached := testEntry("fw-cached")
	eCached.FilePath = cached
	eUser := testEntry("fw-user")
	eUser.FilePath = user
	for _, e := range []model.FirmwareEntry{eCached, eUser} {
		if err := s.Add(e); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Delete("fw-cached", managed); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(cached); !os.IsNotExist(err) {
		t.Error("managed cache file should have been removed")
	}

	if err := s.Delete("fw-user", managed); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(user); err != nil {
		t.Error("user-supplied file must not be removed")
	}
}

func TestCompatibleWithOrdering(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "reg.json"))
	if err != nil {
		t.Fatal(err)
	}

	older := testEntry("fw-old")
	older.AddedAt = time.Now().Add(-time.Hour)
	newer := testEntry("fw-new")
	newer.AddedAt = time.Now()
	espOnly := testEntry("fw-esp")
	espOnly.Board = model.BoardESP32

	for _, e := range []model.FirmwareEntry{older, newer, espOnly} {
		if err := s.Add(e); err != nil {
			t.Fatal(err)
		}
	}

	dev := model.Device{Board: model.BoardSTM32}
	got := s.CompatibleWith(dev)
	if len(got) != 2 {
		t.Fatalf("expected 2 compatible entries, got %d", len(got))
	}
	if got[0].ID != "fw-new" || got[1].ID != "fw-old" {
		t.Errorf("expected newest-first ordering, got %s then %s", got[0].ID, got[1].ID)
	}
}
