// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package flash

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kumulus-tools/boardflash/internal/model"
)

// Generic streams the raw image straight into the device's port file. This
// serves boards whose bootloader consumes the image over the serial line
// without a dedicated host tool. No read-back is possible.
type Generic struct{}

func (g *Generic) Board() model.BoardType { return model.BoardGeneric }

func (g *Generic) Write(ctx context.Context, dev model.Device, imagePath string, progress model.ProgressFunc) error {
	src, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(dev.Port, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: could not open port %s: %v", ErrFlashTool, dev.Port, err)
	}
	defer dst.Close()

	buf := make([]byte, 32*1024)
	var written int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: write to %s failed after %d bytes: %v", ErrFlashTool, dev.Port, written, werr)
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	progress.Emit(fmt.Sprintf("wrote %d bytes to %s", written, dev.Port))
	return nil
}

func (g *Generic) CanReadBack(dev model.Device) bool { return false }

func (g *Generic) ReadBack(ctx context.Context, dev model.Device, dest string, progress model.ProgressFunc) error {
	return fmt.Errorf("%w: %s", ErrNoReadBack, dev.Key())
}
