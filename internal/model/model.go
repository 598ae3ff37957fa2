// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model defines the core data types exchanged between the firmware
// engine and its collaborators: devices, firmware entries, backups and flash
// results. All types here are plain data; behavior lives in the packages that
// own the respective stores and operations.
package model

import (
	"fmt"
	"strings"
	"time"
)

// BoardType is the category of embedded target. It determines which flash
// adapter and which firmware file formats apply.
type BoardType string

// Supported board types.
const (
	BoardSTM32   BoardType = "STM32"
	BoardESP32   BoardType = "ESP32"
	BoardESP8266 BoardType = "ESP8266"
	BoardArduino BoardType = "Arduino"
	BoardGeneric BoardType = "Generic"
)

// AllBoardTypes lists every supported board type, used for CLI validation
// and for name-based asset matching.
var AllBoardTypes = []BoardType{BoardSTM32, BoardESP32, BoardESP8266, BoardArduino, BoardGeneric}

// ParseBoardType converts a user-supplied string into a BoardType.
// Matching is case-insensitive; unknown names map to BoardGeneric with ok=false.
func ParseBoardType(s string) (BoardType, bool) {
	for _, b := range AllBoardTypes {
		if strings.EqualFold(string(b), s) {
			return b, true
		}
	}
	return BoardGeneric, false
}

// Tag returns the lowercase name-matching tag for the board type, used to
// pick release assets and CI jobs by filename (e.g. "widget-stm32.bin").
func (b BoardType) Tag() string {
	return strings.ToLower(string(b))
}

// ImpliedBy reports whether the given file or job name implies this board
// type via substring matching. This is inherently fuzzy; callers must treat
// multiple matches as ambiguous rather than guessing.
func (b BoardType) ImpliedBy(name string) bool {
	return strings.Contains(strings.ToLower(name), b.Tag())
}

// AcceptedExtensions returns the firmware file extensions accepted for this
// board type.
func (b BoardType) AcceptedExtensions() []string {
	return []string{".bin", ".hex", ".elf"}
}

// AcceptsExtension reports whether ext (including the leading dot) is an
// accepted firmware container for this board type.
func (b BoardType) AcceptsExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range b.AcceptedExtensions() {
		if e == ext {
			return true
		}
	}
	return false
}

// Device identifies one connected board. Devices are constructed by the
// detection collaborator on each scan cycle and are immutable afterwards;
// the engine never mutates a Device.
type Device struct {
	Port         string
	Board        BoardType
	VendorID     uint16
	ProductID    uint16
	Serial       string
	UniqueID     string
	Manufacturer string
	Description  string
}

// Key derives the stable identity used to key backups and in-flight locks.
// The hardware unique id wins when known; otherwise vendor/product/serial.
func (d Device) Key() string {
	if d.UniqueID != "" {
		return d.UniqueID
	}
	return fmt.Sprintf("%04x:%04x:%s", d.VendorID, d.ProductID, d.Serial)
}

// String returns a short human-readable description for logs and progress.
func (d Device) String() string {
	return fmt.Sprintf("%s on %s", d.Board, d.Port)
}

// SourceType identifies where a firmware entry came from.
type SourceType string

// Known firmware sources.
const (
	SourceLocal  SourceType = "local"
	SourceURL    SourceType = "url"
	SourceGitHub SourceType = "github"
	SourceGitLab SourceType = "gitlab"
	SourceSFTP   SourceType = "sftp"
)

// FirmwareEntry is a registered, content-addressed description of one
// firmware image and its provenance. Once Validated is set the entry is
// immutable: checksum and size are guaranteed to match the file at FilePath.
type FirmwareEntry struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Version           string            `json:"version"`
	Board             BoardType         `json:"board_type"`
	FilePath          string            `json:"file_path"`
	ChecksumSHA256    string            `json:"checksum_sha256"`
	SizeBytes         uint64            `json:"size_bytes"`
	Source            SourceType        `json:"source"`
	SourceMetadata    map[string]string `json:"source_metadata,omitempty"`
	CompatibleDevices []string          `json:"compatible_devices,omitempty"`
	Validated         bool              `json:"validated"`
	AddedAt           time.Time         `json:"added_at"`
}

// CompatibleWith reports whether the entry targets the device's board type,
// either directly or through its compatible-devices set.
func (e FirmwareEntry) CompatibleWith(d Device) bool {
	if e.Board == d.Board {
		return true
	}
	for _, c := range e.CompatibleDevices {
		if strings.EqualFold(c, string(d.Board)) {
			return true
		}
	}
	return false
}

// BackupRecord describes one snapshot of a device's firmware taken before a
// write. Records are totally ordered by CreatedAt per device; the most recent
// one is the default rollback target.
type BackupRecord struct {
	DeviceKey       string    `json:"device_key"`
	BackupPath      string    `json:"backup_path"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
	SizeBytes       uint64    `json:"size_bytes"`
}

// FlashState is a state of the flashing orchestrator.
type FlashState string

// Orchestrator states. Terminal states are Succeeded, RolledBack and Failed.
const (
	StateIdle       FlashState = "idle"
	StateResolving  FlashState = "resolving"
	StateValidating FlashState = "validating"
	StateBackingUp  FlashState = "backing_up"
	StateFlashing   FlashState = "flashing"
	StateVerifying  FlashState = "verifying"
	StateSucceeded  FlashState = "succeeded"
	StateRolledBack FlashState = "rolled_back"
	StateFailed     FlashState = "failed"
)

// Terminal reports whether the state ends a flash attempt.
func (s FlashState) Terminal() bool {
	return s == StateSucceeded || s == StateRolledBack || s == StateFailed
}

// FlashResult is the per-attempt outcome returned to the caller. It is
// ephemeral and never persisted as-is; terminal outcomes are recorded in the
// flash history store separately.
type FlashResult struct {
	Success    bool
	State      FlashState
	ErrorKind  string
	Message    string
	Err        error
	BackupUsed *BackupRecord
}

// FlashEvent is one recorded terminal flash outcome, persisted in the
// history store.
type FlashEvent struct {
	ID              int64
	DeviceKey       string
	Board           BoardType
	Port            string
	FirmwareID      string
	FirmwareVersion string
	State           FlashState
	Message         string
	CreatedAt       time.Time
}

// ProgressFunc receives human-readable status lines during long-running
// operations. Implementations must never propagate errors or panics back
// into the engine; the engine additionally guards every invocation.
type ProgressFunc func(msg string)

// Emit calls the callback if it is non-nil, swallowing any panic so a
// misbehaving UI collaborator can never abort an in-flight flash.
func (p ProgressFunc) Emit(msg string) {
	if p == nil {
		return
	}
	defer func() { _ = recover() }()
	p(msg)
}
