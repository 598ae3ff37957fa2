// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package flash

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// toRawBinary converts a firmware image to a raw .bin where the target tool
// needs one, using objcopy for ELF and Intel HEX inputs. Images that already
// are raw binaries pass through untouched. The caller owns cleanup of the
// returned path when cleanup is non-nil.
func toRawBinary(ctx context.Context, tools *Toolset, imagePath string, progress model.ProgressFunc) (path string, cleanup func(), err error) {
	ext := strings.ToLower(filepath.Ext(imagePath))
	if ext == ".bin" {
		return imagePath, nil, nil
	}

	var args []string
	switch ext {
	case ".elf":
		args = []string{"-O", "binary"}
	case ".hex":
		args = []string{"-I", "ihex", "-O", "binary"}
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrConversion,
			i18n.T("tool.error_conversion", fmt.Errorf("unsupported input format %q", ext)))
	}

	tmp, err := os.CreateTemp("", "boardflash-*.bin")
	if err != nil {
		return "", nil, err
	}
	out := tmp.Name()
	tmp.Close()

	if err := tools.Run(ctx, "objcopy", append(args, imagePath, out), progress); err != nil {
		_ = os.Remove(out)
		return "", nil, fmt.Errorf("%w: %s", ErrConversion, i18n.T("tool.error_conversion", err))
	}
	return out, func() { _ = os.Remove(out) }, nil
}
