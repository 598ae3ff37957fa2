// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kumulus-tools/boardflash/internal/orchestrator"
)

// newFlashCmd builds the 'flash' command, the main operation of the tool.
func newFlashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Flash firmware to a connected board",
		Long: `Flash a firmware image to a connected board. The image comes either from
the registry (--firmware) or from one of the source flags; newly resolved
images are registered automatically.

Before writing, the current firmware is backed up when the board supports
read-back, so a failed flash can be rolled back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetString("port")
			dev, err := findDevice(cmd, port)
			if err != nil {
				return err
			}

			req := orchestrator.Request{
				Device:   dev,
				Progress: func(msg string) { fmt.Println(msg) },
			}
			req.SkipBackup, _ = cmd.Flags().GetBool("no-backup")

			req.FirmwareID, _ = cmd.Flags().GetString("firmware")
			if req.FirmwareID == "" {
				resolver, err := resolverFromFlags(cmd, dev.Board)
				if err != nil {
					return err
				}
				if resolver == nil {
					return fmt.Errorf("no firmware given: use --firmware or one of the source flags")
				}
				req.Resolver = resolver
			}

			result, err := engine.Flash(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Println(result.Message)
			return nil
		},
	}

	cmd.Flags().String("port", "", "Port of the target device (e.g. /dev/ttyACM0)")
	cmd.Flags().String("firmware", "", "Registered firmware id to flash")
	cmd.Flags().Bool("no-backup", false, "Skip the pre-flash firmware backup")
	addSourceFlags(cmd)
	return cmd
}
