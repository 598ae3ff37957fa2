// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package flash

import (
	"context"
	"fmt"

	"github.com/kumulus-tools/boardflash/internal/model"
)

const (
	stm32FlashBase = "0x08000000"
	// 256 KiB read window, enough for the mainstream parts this targets.
	stm32ReadSize = "0x40000"

	cubeProgrammer = "STM32_Programmer_CLI"
	dfuUtil        = "dfu-util"
)

// STM32 flashes STM32 boards. STM32CubeProgrammer is preferred because it
// accepts ELF and HEX images directly and can talk to more bootloaders;
// dfu-util serves as the fallback for plain DFU devices and needs a raw
// binary image.
type STM32 struct {
	tools *Toolset
}

func (s *STM32) Board() model.BoardType { return model.BoardSTM32 }

func (s *STM32) Write(ctx context.Context, dev model.Device, imagePath string, progress model.ProgressFunc) error {
	if s.tools.Has(cubeProgrammer) {
		return s.tools.Run(ctx, cubeProgrammer, []string{
			"-c", "port=" + dev.Port,
			"-w", imagePath, stm32FlashBase,
			"-rst",
		}, progress)
	}
	if s.tools.Has(dfuUtil) {
		bin, cleanup, err := toRawBinary(ctx, s.tools, imagePath, progress)
		if err != nil {
			return err
		}
		if cleanup != nil {
			defer cleanup()
		}
		return s.tools.Run(ctx, dfuUtil, []string{
			"-a", "0",
			"-s", stm32FlashBase + ":leave",
			"-D", bin,
		}, progress)
	}
	return fmt.Errorf("%w: neither %s nor %s available", ErrToolNotFound, cubeProgrammer, dfuUtil)
}

func (s *STM32) CanReadBack(dev model.Device) bool {
	return s.tools.Has(cubeProgrammer) || s.tools.Has(dfuUtil)
}

func (s *STM32) ReadBack(ctx context.Context, dev model.Device, dest string, progress model.ProgressFunc) error {
	if s.tools.Has(cubeProgrammer) {
		return s.tools.Run(ctx, cubeProgrammer, []string{
			"-c", "port=" + dev.Port,
			"-u", stm32FlashBase, stm32ReadSize, dest,
		}, progress)
	}
	if s.tools.Has(dfuUtil) {
		return s.tools.Run(ctx, dfuUtil, []string{
			"-a", "0",
			"-s", stm32FlashBase + ":" + stm32ReadSize,
			"-U", dest,
		}, progress)
	}
	return fmt.Errorf("%w: neither %s nor %s available", ErrToolNotFound, cubeProgrammer, dfuUtil)
}
