// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package flash

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kumulus-tools/boardflash/internal/model"
)

const avrdude = "avrdude"

// Arduino flashes AVR-based Arduino boards through avrdude, assuming the
// stock optiboot-style serial bootloader.
type Arduino struct {
	tools *Toolset
}

func (a *Arduino) Board() model.BoardType { return model.BoardArduino }

// imageFormat maps the file extension to avrdude's format letter.
func imageFormat(imagePath string) string {
	if strings.EqualFold(filepath.Ext(imagePath), ".hex") {
		return "i"
	}
	return "r"
}

func (a *Arduino) Write(ctx context.Context, dev model.Device, imagePath string, progress model.ProgressFunc) error {
	return a.tools.Run(ctx, avrdude, []string{
		"-p", "atmega328p",
		"-c", "arduino",
		"-P", dev.Port,
		"-b", "115200",
		"-D",
		"-U", "flash:w:" + imagePath + ":" + imageFormat(imagePath),
	}, progress)
}

func (a *Arduino) CanReadBack(dev model.Device) bool {
	return a.tools.Has(avrdude)
}

func (a *Arduino) ReadBack(ctx context.Context, dev model.Device, dest string, progress model.ProgressFunc) error {
	return a.tools.Run(ctx, avrdude, []string{
		"-p", "atmega328p",
		"-c", "arduino",
		"-P", dev.Port,
		"-b", "115200",
		"-U", "flash:r:" + dest + ":r",
	}, progress)
}
