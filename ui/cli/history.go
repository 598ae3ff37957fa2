// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// newHistoryCmd builds the 'history' command showing recorded flash outcomes.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded flash outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if histStore == nil {
				fmt.Println(i18n.T("cli.history_none"))
				return nil
			}

			limit, _ := cmd.Flags().GetInt("limit")
			deviceKey, _ := cmd.Flags().GetString("device")

			var events []model.FlashEvent
			var err error
			if deviceKey != "" {
				events, err = histStore.ForDevice(cmd.Context(), deviceKey, limit)
			} else {
				events, err = histStore.All(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println(i18n.T("cli.history_none"))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tDEVICE\tBOARD\tFIRMWARE\tVERSION\tOUTCOME")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					ev.CreatedAt.Format(time.RFC3339), ev.DeviceKey, ev.Board, ev.FirmwareID, ev.FirmwareVersion, ev.State)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of events to show (0 for all)")
	cmd.Flags().String("device", "", "Only show events of one device key")
	return cmd
}
