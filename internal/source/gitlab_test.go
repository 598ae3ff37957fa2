// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/kumulus-tools/boardflash/internal/model"
)

// buildArtifactZip assembles an artifact archive with the given members.
func buildArtifactZip(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// newGitLabFixture serves a fake GitLab API: one successful pipeline with the
// given jobs, and the artifact archive under the job id of the first job
// carrying artifacts.
func newGitLabFixture(t *testing.T, jobs []map[string]any, archive []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/42/pipelines", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 7, "ref": "main"}})
	})
	mux.HandleFunc("/projects/42/pipelines/7/jobs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jobs)
	})
	mux.HandleFunc("/projects/42/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/artifacts") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func artifactJob(id int, name, filename string) map[string]any {
	return map[string]any{
		"id":     id,
		"name":   name,
		"status": "success",
		"artifacts_file": map[string]any{
			"filename": filename,
			"size":     128,
		},
	}
}

func TestGitLabResolveExtractsFirmware(t *testing.T) {
	fw := []byte("esp32 pipeline image")
	archive := buildArtifactZip(t, map[string][]byte{
		"build/firmware-esp32.bin": fw,
		"build/README.txt":         []byte("not firmware"),
	})
	srv := newGitLabFixture(t, []map[string]any{
		artifactJob(99, "build-esp32", "artifacts.zip"),
	}, archive)

	cfg := testConfig(t)
	cfg.GitLab.APIURL = srv.URL
	r := NewGitLab(cfg, 42, "", model.BoardESP32)

	entry, err := r.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := sha256.Sum256(fw)
	if entry.ChecksumSHA256 != hex.EncodeToString(want[:]) {
		t.Errorf("checksum = %s", entry.ChecksumSHA256)
	}
	if entry.Version != "main" {
		t.Errorf("version = %s", entry.Version)
	}
	if entry.SourceMetadata["job"] != "build-esp32" {
		t.Errorf("metadata job = %q", entry.SourceMetadata["job"])
	}
	onDisk, err := os.ReadFile(entry.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != string(fw) {
		t.Error("extracted bytes differ from archive member")
	}

	// The archive itself must be gone; only the extracted image remains.
	entries, err := os.ReadDir(cfg.DownloadsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the extracted image in cache, found %d files", len(entries))
	}
	assertNoPartials(t, cfg.DownloadsDir)
}

func TestGitLabResolveNoSuccessfulPipeline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/42/pipelines", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t)
	cfg.GitLab.APIURL = srv.URL
	r := NewGitLab(cfg, 42, "", model.BoardESP32)
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, ErrNoSuccessfulPipeline) {
		t.Fatalf("expected ErrNoSuccessfulPipeline, got %v", err)
	}
}

func TestGitLabResolveAmbiguousJobsFailClosed(t *testing.T) {
	srv := newGitLabFixture(t, []map[string]any{
		artifactJob(98, "build-esp32-debug", "artifacts.zip"),
		artifactJob(99, "build-esp32-release", "artifacts.zip"),
	}, nil)

	cfg := testConfig(t)
	cfg.GitLab.APIURL = srv.URL
	r := NewGitLab(cfg, 42, "", model.BoardESP32)
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, ErrNoSuitableJob) {
		t.Fatalf("expected ErrNoSuitableJob on ambiguity, got %v", err)
	}
}

func TestGitLabResolveExplicitJobName(t *testing.T) {
	fw := []byte("release image")
	archive := buildArtifactZip(t, map[string][]byte{"firmware-esp32.bin": fw})
	srv := newGitLabFixture(t, []map[string]any{
		artifactJob(98, "build-esp32-debug", "artifacts.zip"),
		artifactJob(99, "build-esp32-release", "artifacts.zip"),
	}, archive)

	cfg := testConfig(t)
	cfg.GitLab.APIURL = srv.URL
	r := NewGitLab(cfg, 42, "release", model.BoardESP32)
	entry, err := r.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entry.SourceMetadata["job"] != "build-esp32-release" {
		t.Errorf("picked job %q", entry.SourceMetadata["job"])
	}
}

func TestGitLabResolveSkipsFailedJobs(t *testing.T) {
	fw := []byte("only good job")
	archive := buildArtifactZip(t, map[string][]byte{"firmware-esp32.bin": fw})
	failed := artifactJob(98, "build-esp32-old", "artifacts.zip")
	failed["status"] = "failed"
	srv := newGitLabFixture(t, []map[string]any{
		failed,
		artifactJob(99, "build-esp32", "artifacts.zip"),
	}, archive)

	cfg := testConfig(t)
	cfg.GitLab.APIURL = srv.URL
	r := NewGitLab(cfg, 42, "", model.BoardESP32)
	entry, err := r.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entry.SourceMetadata["job"] != "build-esp32" {
		t.Errorf("picked job %q", entry.SourceMetadata["job"])
	}
}

func TestGitLabResolveAmbiguousArchiveMembers(t *testing.T) {
	archive := buildArtifactZip(t, map[string][]byte{
		"a.bin": []byte("one"),
		"b.bin": []byte("two"),
	})
	srv := newGitLabFixture(t, []map[string]any{
		artifactJob(99, "build-esp32", "artifacts.zip"),
	}, archive)

	cfg := testConfig(t)
	cfg.GitLab.APIURL = srv.URL
	r := NewGitLab(cfg, 42, "", model.BoardESP32)
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, ErrNoSuitableAsset) {
		t.Fatalf("expected ErrNoSuitableAsset, got %v", err)
	}
}
