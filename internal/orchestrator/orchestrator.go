// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Package orchestrator runs the flash state machine: resolve, validate,
// back up, flash, verify. It owns the per-device concurrency guard and the
// rollback decision; the actual device work is delegated to the flash
// adapters and the backup manager.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kumulus-tools/boardflash/internal/backup"
	"github.com/kumulus-tools/boardflash/internal/config"
	"github.com/kumulus-tools/boardflash/internal/flash"
	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/logging"
	"github.com/kumulus-tools/boardflash/internal/model"
	"github.com/kumulus-tools/boardflash/internal/registry"
	"github.com/kumulus-tools/boardflash/internal/source"
	"github.com/kumulus-tools/boardflash/internal/validate"
)

var (
	// ErrDeviceBusy is returned when a flash is already in flight for the
	// same device.
	ErrDeviceBusy = errors.New("device busy")

	// ErrIncompatible is returned when the firmware does not target the
	// device's board type.
	ErrIncompatible = errors.New("firmware incompatible with device")
)

// Historian records terminal flash outcomes.
type Historian interface {
	Record(ctx context.Context, ev model.FlashEvent) error
}

// Request describes one flash attempt. Either FirmwareID names a registered
// entry or Resolver produces a new one; FirmwareID wins when both are set.
type Request struct {
	Device     model.Device
	FirmwareID string
	Resolver   source.Resolver
	SkipBackup bool
	Progress   model.ProgressFunc
}

// Engine coordinates flash attempts across devices.
type Engine struct {
	cfg      config.Config
	registry *registry.Store
	backups  *backup.Manager
	history  Historian

	// adapterFor is swappable in tests.
	adapterFor func(model.BoardType) (flash.Adapter, error)

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds an engine on the given collaborators. history may be nil when
// no outcome store is configured.
func New(cfg config.Config, reg *registry.Store, backups *backup.Manager, hist Historian) *Engine {
	return &Engine{
		cfg:      cfg,
		registry: reg,
		backups:  backups,
		history:  hist,
		adapterFor: func(b model.BoardType) (flash.Adapter, error) {
			return flash.ForBoard(b, cfg)
		},
		inflight: make(map[string]struct{}),
	}
}

// Flash runs one attempt through the state machine. It always returns a
// result with a terminal state; the error mirrors result.Err for callers
// that only care about success.
func (e *Engine) Flash(ctx context.Context, req Request) (*model.FlashResult, error) {
	key := req.Device.Key()
	if !e.acquire(key) {
		err := fmt.Errorf("%w: %s", ErrDeviceBusy, i18n.T("flash.error_device_busy", key))
		return &model.FlashResult{State: model.StateFailed, ErrorKind: "device_busy", Message: err.Error(), Err: err}, err
	}
	defer e.release(key)

	opID := uuid.NewString()
	logging.Debugf("flash %s: starting for device %s", opID, key)

	result, entry := e.run(ctx, opID, req)
	e.record(ctx, req, entry, result)
	if result.Err != nil {
		return result, result.Err
	}
	return result, nil
}

// run executes the non-concurrency part of the state machine and reports
// the terminal result together with the firmware entry it acted on.
func (e *Engine) run(ctx context.Context, opID string, req Request) (*model.FlashResult, *model.FirmwareEntry) {
	dev := req.Device
	progress := req.Progress

	// Resolving.
	progress.Emit(i18n.T("flash.state_resolving", dev.String()))
	entry, err := e.resolveEntry(ctx, req)
	if err != nil {
		return failed(model.StateFailed, "resolve", err, nil), nil
	}

	// Validating.
	progress.Emit(i18n.T("flash.state_validating", entry.Name))
	if !entry.CompatibleWith(dev) {
		err := fmt.Errorf("%w: %s targets %s, device is %s", ErrIncompatible, entry.Name, entry.Board, dev.Board)
		return failed(model.StateFailed, "incompatible", err, nil), entry
	}
	if err := validate.Check(*entry); err != nil {
		return failed(model.StateFailed, "validation", err, nil), entry
	}
	progress.Emit(i18n.T("validate.passed"))

	adapter, err := e.adapterFor(dev.Board)
	if err != nil {
		return failed(model.StateFailed, "adapter", err, nil), entry
	}

	// Backing up.
	var snapshot *model.BackupRecord
	if !req.SkipBackup {
		progress.Emit(i18n.T("flash.state_backing_up", dev.String()))
		if !adapter.CanReadBack(dev) {
			progress.Emit(i18n.T("flash.no_snapshot", dev.String()))
		} else {
			snapshot, err = e.backups.Snapshot(ctx, dev, "pre-flash", "", func(ctx context.Context, dest string) error {
				return adapter.ReadBack(ctx, dev, dest, progress)
			})
			if err != nil {
				return failed(model.StateFailed, "backup", err, nil), entry
			}
			progress.Emit(i18n.T("flash.backup_created", snapshot.BackupPath))
		}
	}

	// Flashing.
	progress.Emit(i18n.T("flash.state_flashing", entry.Name, dev.String()))
	if flashErr := adapter.Write(ctx, dev, entry.FilePath, progress); flashErr != nil {
		if snapshot == nil {
			return failed(model.StateFailed, kindOf(flashErr), flashErr, nil), entry
		}
		progress.Emit(i18n.T("flash.rolling_back"))
		restoreErr := e.backups.Restore(ctx, *snapshot, func(ctx context.Context, path string) error {
			return adapter.Write(ctx, dev, path, progress)
		})
		if restoreErr != nil {
			err := fmt.Errorf("%s: %w", i18n.T("flash.error_rollback_failed", flashErr, restoreErr),
				errors.Join(flashErr, restoreErr))
			return failed(model.StateFailed, "rollback_failed", err, snapshot), entry
		}
		progress.Emit(i18n.T("flash.rolled_back"))
		res := failed(model.StateRolledBack, kindOf(flashErr), flashErr, snapshot)
		res.Message = i18n.T("flash.rolled_back")
		return res, entry
	}

	// Verifying. The tools verify the written image themselves; this state
	// exists so callers see the attempt is not done the moment the write
	// returns.
	progress.Emit(i18n.T("flash.state_verifying", dev.String()))

	if err := e.registry.MarkValidated(entry.ID); err != nil {
		logging.Warnf("flash %s: could not mark %s validated: %v", opID, entry.ID, err)
	}

	msg := i18n.T("flash.succeeded", entry.Name, entry.Version, dev.String())
	progress.Emit(msg)
	return &model.FlashResult{Success: true, State: model.StateSucceeded, Message: msg, BackupUsed: snapshot}, entry
}

// resolveEntry produces the firmware entry for the request, registering
// newly resolved firmware as a side effect.
func (e *Engine) resolveEntry(ctx context.Context, req Request) (*model.FirmwareEntry, error) {
	if req.FirmwareID != "" {
		entry, err := e.registry.Get(req.FirmwareID)
		if err != nil {
			return nil, err
		}
		return &entry, nil
	}
	if req.Resolver == nil {
		return nil, errors.New("no firmware id and no source given")
	}
	entry, err := req.Resolver.Resolve(ctx, req.Progress)
	if err != nil {
		return nil, err
	}
	if err := e.registry.Add(*entry); err != nil {
		// A validated entry with the same content already exists; flash that.
		if errors.Is(err, registry.ErrValidatedImmutable) {
			existing, getErr := e.registry.Get(entry.ID)
			if getErr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	return entry, nil
}

// record persists the terminal outcome; history failures are logged, never
// propagated into the flash result.
func (e *Engine) record(ctx context.Context, req Request, entry *model.FirmwareEntry, res *model.FlashResult) {
	if e.history == nil {
		return
	}
	ev := model.FlashEvent{
		DeviceKey: req.Device.Key(),
		Board:     req.Device.Board,
		Port:      req.Device.Port,
		State:     res.State,
		Message:   res.Message,
	}
	if entry != nil {
		ev.FirmwareID = entry.ID
		ev.FirmwareVersion = entry.Version
	}
	if err := e.history.Record(ctx, ev); err != nil {
		logging.Warnf("flash: could not record history event: %v", err)
	}
}

func (e *Engine) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[key]; busy {
		return false
	}
	e.inflight[key] = struct{}{}
	return true
}

// busy reports whether a flash is in flight for the device key.
func (e *Engine) busy(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[key]
	return ok
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, key)
}

func failed(state model.FlashState, kind string, err error, snapshot *model.BackupRecord) *model.FlashResult {
	return &model.FlashResult{
		State:      state,
		ErrorKind:  kind,
		Message:    err.Error(),
		Err:        err,
		BackupUsed: snapshot,
	}
}

// kindOf maps an error chain to a stable kind label for results and logs.
func kindOf(err error) string {
	switch {
	case errors.Is(err, flash.ErrToolNotFound):
		return "tool_not_found"
	case errors.Is(err, flash.ErrTimeout):
		return "timeout"
	case errors.Is(err, flash.ErrConversion):
		return "conversion"
	case errors.Is(err, flash.ErrFlashTool):
		return "flash_tool"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "flash"
	}
}
