// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// scanCmd lists the connected boards.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List connected boards",
	Long:  `Scan the USB serial ports and list every detected board with its type, port and identifiers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := scanner.Scan(cmd.Context())
		if err != nil {
			return fmt.Errorf("device scan failed: %w", err)
		}
		if len(devices) == 0 {
			fmt.Println(i18n.T("cli.scan_none"))
			return nil
		}

		fmt.Println(i18n.T("cli.scan_header"))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tBOARD\tUSB ID\tSERIAL\tDESCRIPTION")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%04x:%04x\t%s\t%s\n",
				d.Port, d.Board, d.VendorID, d.ProductID, d.Serial, d.Description)
		}
		return w.Flush()
	},
}

// findDevice scans and picks the target device. With a port filter the port
// must match; without one exactly one device may be connected.
func findDevice(cmd *cobra.Command, port string) (model.Device, error) {
	devices, err := scanner.Scan(cmd.Context())
	if err != nil {
		return model.Device{}, fmt.Errorf("device scan failed: %w", err)
	}
	if port != "" {
		for _, d := range devices {
			if d.Port == port {
				return d, nil
			}
		}
		return model.Device{}, fmt.Errorf("no device found on port %s", port)
	}
	switch len(devices) {
	case 0:
		return model.Device{}, fmt.Errorf("no supported devices found")
	case 1:
		return devices[0], nil
	default:
		ports := make([]string, 0, len(devices))
		for _, d := range devices {
			ports = append(ports, d.Port)
		}
		return model.Device{}, fmt.Errorf("multiple devices connected (%s), pick one with --port", strings.Join(ports, ", "))
	}
}
