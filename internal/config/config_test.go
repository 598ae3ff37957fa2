// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultsCoverCriticalKeys(t *testing.T) {
	d := Defaults()
	for _, key := range []string{
		"language", "data_dir",
		"download.retries", "download.backoff_ms", "download.progress_interval_bytes",
		"backup.max_per_device", "backup.retain_days",
		"flash.timeout_sec",
		"history.type", "history.dsn",
		"github.api_url", "gitlab.api_url",
	} {
		if _, ok := d[key]; !ok {
			t.Errorf("missing default for %q", key)
		}
	}
	if d["history.type"] != "sqlite" {
		t.Errorf("expected sqlite default history backend, got %v", d["history.type"])
	}
}

func TestEnsureDirsDerivesSubdirs(t *testing.T) {
	base := t.TempDir()
	c := Config{DataDir: filepath.Join(base, "data")}

	if err := c.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs() error: %v", err)
	}

	if c.DownloadsDir != filepath.Join(c.DataDir, "downloads") {
		t.Errorf("DownloadsDir = %q, expected under data dir", c.DownloadsDir)
	}
	if c.BackupsDir != filepath.Join(c.DataDir, "backups") {
		t.Errorf("BackupsDir = %q, expected under data dir", c.BackupsDir)
	}
	if got := c.RegistryPath(); got != filepath.Join(c.DataDir, "firmware_registry.json") {
		t.Errorf("RegistryPath() = %q", got)
	}
}

func TestLoadConfigUsesDefaults(t *testing.T) {
	c, err := LoadConfig[Config](nil, Defaults(), nil)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if c.Download.Retries != 3 {
		t.Errorf("Download.Retries = %d, expected default 3", c.Download.Retries)
	}
	if c.Backup.MaxPerDevice != 5 {
		t.Errorf("Backup.MaxPerDevice = %d, expected default 5", c.Backup.MaxPerDevice)
	}
	if c.GitHub.APIURL != "https://api.github.com" {
		t.Errorf("GitHub.APIURL = %q", c.GitHub.APIURL)
	}
}
