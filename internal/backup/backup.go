// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Package backup manages firmware snapshots taken before a flash. Each
// device gets one directory under the backups root; every snapshot is a raw
// image file plus a JSON sidecar. The sidecar is the authoritative record,
// the image file is the payload.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kumulus-tools/boardflash/internal/config"
	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/logging"
	"github.com/kumulus-tools/boardflash/internal/model"
)

var (
	// ErrNoSnapshot is returned when no snapshot can be taken because the
	// board cannot read back its flash contents.
	ErrNoSnapshot = errors.New("device does not support firmware read-back")

	// ErrNotFound is returned when a named backup record does not exist.
	ErrNotFound = errors.New("backup not found")

	// ErrRestore wraps failures while writing a backup image back to a device.
	ErrRestore = errors.New("restore failed")
)

// ReadbackFunc dumps the device's current firmware into dest. It is injected
// by the caller so this package stays independent of any flashing adapter.
type ReadbackFunc func(ctx context.Context, dest string) error

// WriteFunc writes the image at path back to the device.
type WriteFunc func(ctx context.Context, path string) error

// Manager stores and retrieves firmware snapshots.
type Manager struct {
	dir          string
	maxPerDevice int
}

// NewManager returns a backup manager rooted at the configured backups
// directory.
func NewManager(cfg config.Config) *Manager {
	max := cfg.Backup.MaxPerDevice
	if max <= 0 {
		max = 5
	}
	return &Manager{dir: cfg.BackupsDir, maxPerDevice: max}
}

// Snapshot reads the device's current firmware through read and records it
// as a backup. A nil read reports ErrNoSnapshot so callers can decide whether
// to proceed without one. Older snapshots beyond the per-device limit are
// removed, oldest first.
func (m *Manager) Snapshot(ctx context.Context, device model.Device, reason, firmwareVersion string, read ReadbackFunc) (*model.BackupRecord, error) {
	if read == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, device.Key())
	}

	dir := m.deviceDir(device.Key())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	// Nanosecond precision keeps rapid successive snapshots from colliding.
	base := fmt.Sprintf("%s_%s", now.Format("20060102T150405.000000000"), sanitize(reason))
	imgPath := filepath.Join(dir, base+".bin")

	if err := read(ctx, imgPath); err != nil {
		_ = os.Remove(imgPath)
		return nil, err
	}

	info, err := os.Stat(imgPath)
	if err != nil {
		return nil, err
	}

	rec := model.BackupRecord{
		DeviceKey:       device.Key(),
		BackupPath:      imgPath,
		FirmwareVersion: firmwareVersion,
		Reason:          reason,
		CreatedAt:       now,
		SizeBytes:       uint64(info.Size()),
	}
	if err := m.writeSidecar(imgPath, rec); err != nil {
		_ = os.Remove(imgPath)
		return nil, err
	}

	if err := m.enforceLimit(device.Key()); err != nil {
		logging.Warnf("backup: retention cleanup for %s failed: %v", device.Key(), err)
	}
	return &rec, nil
}

// Restore writes the backed-up image back to the device through write.
func (m *Manager) Restore(ctx context.Context, rec model.BackupRecord, write WriteFunc) error {
	if write == nil {
		return fmt.Errorf("%w: no write path for device %s", ErrRestore, rec.DeviceKey)
	}
	if _, err := os.Stat(rec.BackupPath); err != nil {
		return fmt.Errorf("%w: image missing: %s", ErrRestore, rec.BackupPath)
	}
	if err := write(ctx, rec.BackupPath); err != nil {
		return fmt.Errorf("%w: %v", ErrRestore, err)
	}
	logging.Infof("%s", i18n.T("backup.restored", rec.CreatedAt.Format(time.RFC3339)))
	return nil
}

// List returns the snapshots of a device, newest first. The sidecars decide
// what exists; an image file without a sidecar is invisible.
func (m *Manager) List(deviceKey string) ([]model.BackupRecord, error) {
	dir := m.deviceDir(deviceKey)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var recs []model.BackupRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var rec model.BackupRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			logging.Warnf("backup: skipping unreadable sidecar %s: %v", e.Name(), err)
			continue
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	return recs, nil
}

// Latest returns the most recent snapshot of a device.
func (m *Manager) Latest(deviceKey string) (*model.BackupRecord, error) {
	recs, err := m.List(deviceKey)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, i18n.T("backup.error_not_found", deviceKey))
	}
	return &recs[0], nil
}

// Get returns the snapshot whose image file has the given base name.
func (m *Manager) Get(deviceKey, name string) (*model.BackupRecord, error) {
	recs, err := m.List(deviceKey)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if filepath.Base(recs[i].BackupPath) == name {
			return &recs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, i18n.T("backup.error_not_found", name))
}

// Delete removes a snapshot. The image goes first so a crash in between
// leaves a sidecar pointing at nothing rather than an orphaned image.
func (m *Manager) Delete(rec model.BackupRecord) error {
	if err := os.Remove(rec.BackupPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(sidecarPath(rec.BackupPath)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Prune removes snapshots older than the given number of days across all
// devices and returns how many were deleted.
func (m *Manager) Prune(olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		recs, err := m.List(e.Name())
		if err != nil {
			return removed, err
		}
		for _, rec := range recs {
			if rec.CreatedAt.Before(cutoff) {
				if err := m.Delete(rec); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}
	logging.Infof("%s", i18n.T("backup.pruned", removed, olderThanDays))
	return removed, nil
}

// enforceLimit drops the oldest snapshots of a device until the configured
// per-device maximum holds.
func (m *Manager) enforceLimit(deviceKey string) error {
	recs, err := m.List(deviceKey)
	if err != nil {
		return err
	}
	for i := len(recs) - 1; i >= m.maxPerDevice; i-- {
		if err := m.Delete(recs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) deviceDir(deviceKey string) string {
	return filepath.Join(m.dir, sanitize(deviceKey))
}

func (m *Manager) writeSidecar(imgPath string, rec model.BackupRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	side := sidecarPath(imgPath)
	tmp := side + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, side)
}

func sidecarPath(imgPath string) string {
	return strings.TrimSuffix(imgPath, filepath.Ext(imgPath)) + ".json"
}

// sanitize makes a device key or reason safe as a path component.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, s)
}
