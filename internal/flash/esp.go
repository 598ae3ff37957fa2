// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package flash

import (
	"context"

	"github.com/kumulus-tools/boardflash/internal/model"
)

const (
	esptool     = "esptool"
	espBaudRate = "460800"
)

// ESP flashes Espressif boards through esptool. ESP32 application images
// live at 0x1000 behind the second-stage bootloader; the ESP8266 boots
// straight from offset 0.
type ESP struct {
	tools *Toolset
	board model.BoardType
}

func (e *ESP) Board() model.BoardType { return e.board }

func (e *ESP) offset() string {
	if e.board == model.BoardESP8266 {
		return "0x0000"
	}
	return "0x1000"
}

func (e *ESP) Write(ctx context.Context, dev model.Device, imagePath string, progress model.ProgressFunc) error {
	bin, cleanup, err := toRawBinary(ctx, e.tools, imagePath, progress)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	return e.tools.Run(ctx, esptool, []string{
		"--port", dev.Port,
		"--baud", espBaudRate,
		"write_flash", e.offset(), bin,
	}, progress)
}

func (e *ESP) CanReadBack(dev model.Device) bool {
	return e.tools.Has(esptool)
}

func (e *ESP) ReadBack(ctx context.Context, dev model.Device, dest string, progress model.ProgressFunc) error {
	// 4 MiB covers the common module sizes; reading past the end fails
	// cleanly on smaller parts before any data is written.
	return e.tools.Run(ctx, esptool, []string{
		"--port", dev.Port,
		"--baud", espBaudRate,
		"read_flash", "0x0", "0x400000", dest,
	}, progress)
}
