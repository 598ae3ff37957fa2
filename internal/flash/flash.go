// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Package flash drives the board-specific external tools that write firmware
// to a device. Adapters share a Toolset for discovering and running these
// tools; all device interaction goes through subprocesses, never through
// direct protocol implementations.
package flash

import (
	"context"
	"errors"
	"fmt"

	"github.com/kumulus-tools/boardflash/internal/config"
	"github.com/kumulus-tools/boardflash/internal/model"
)

var (
	// ErrToolNotFound is returned when a required external tool is missing.
	ErrToolNotFound = errors.New("flashing tool not found")

	// ErrConversion wraps firmware format conversion failures.
	ErrConversion = errors.New("firmware conversion failed")

	// ErrFlashTool wraps non-zero exits of the external flashing tool.
	ErrFlashTool = errors.New("flashing tool failed")

	// ErrTimeout is returned when the external tool exceeds the configured
	// flash timeout.
	ErrTimeout = errors.New("flashing tool timed out")

	// ErrNoReadBack is returned by adapters that cannot dump the device's
	// current firmware.
	ErrNoReadBack = errors.New("board does not support firmware read-back")
)

// Adapter writes firmware to one board family and, where the hardware allows
// it, reads the current firmware back for backups.
type Adapter interface {
	// Board returns the board type this adapter serves.
	Board() model.BoardType

	// Write flashes the image at imagePath to the device.
	Write(ctx context.Context, dev model.Device, imagePath string, progress model.ProgressFunc) error

	// CanReadBack reports whether ReadBack is expected to work for the
	// device, based on tool availability.
	CanReadBack(dev model.Device) bool

	// ReadBack dumps the device's current firmware into dest.
	ReadBack(ctx context.Context, dev model.Device, dest string, progress model.ProgressFunc) error
}

// ForBoard returns the adapter for a board type.
func ForBoard(board model.BoardType, cfg config.Config) (Adapter, error) {
	ts := NewToolset(cfg)
	switch board {
	case model.BoardSTM32:
		return &STM32{tools: ts}, nil
	case model.BoardESP32, model.BoardESP8266:
		return &ESP{tools: ts, board: board}, nil
	case model.BoardArduino:
		return &Arduino{tools: ts}, nil
	case model.BoardGeneric:
		return &Generic{}, nil
	default:
		return nil, fmt.Errorf("no flash adapter for board type %q", board)
	}
}
