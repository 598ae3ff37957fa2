// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kumulus-tools/boardflash/internal/flash"
	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// newBackupsCmd builds the 'backups' command group.
func newBackupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage firmware backups (list, restore, delete, prune)",
		Long: `The 'backups' command group manages the firmware snapshots taken before
each flash. Backups are keyed by device; find a device's key in the flash
history or derive it from 'scan' output (vendor:product:serial).`,
	}
	cmd.AddCommand(backupsListCmd)
	cmd.AddCommand(newBackupsRestoreCmd())
	cmd.AddCommand(backupsDeleteCmd)
	cmd.AddCommand(newBackupsPruneCmd())
	return cmd
}

var backupsListCmd = &cobra.Command{
	Use:   "list <device-key>",
	Short: "List the backups of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := backupMgr.List(args[0])
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println(i18n.T("cli.backups_none"))
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCREATED\tREASON\tSIZE")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
				filepath.Base(r.BackupPath), r.CreatedAt.Format(time.RFC3339), r.Reason, r.SizeBytes)
		}
		return w.Flush()
	},
}

func newBackupsRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <device-key> [name]",
		Short: "Write a backup image back to the device",
		Long: `Restore a backup to the connected device it was taken from. Without a
backup name the most recent snapshot is used. The device must be connected;
its key has to match the backup's device key.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceKey := args[0]

			var rec *model.BackupRecord
			var err error
			if len(args) == 2 {
				rec, err = backupMgr.Get(deviceKey, args[1])
			} else {
				rec, err = backupMgr.Latest(deviceKey)
			}
			if err != nil {
				return err
			}

			port, _ := cmd.Flags().GetString("port")
			dev, err := findDevice(cmd, port)
			if err != nil {
				return err
			}
			if dev.Key() != deviceKey {
				return fmt.Errorf("connected device %s does not match backup device %s", dev.Key(), deviceKey)
			}

			adapter, err := flash.ForBoard(dev.Board, appConfig)
			if err != nil {
				return err
			}
			return backupMgr.Restore(cmd.Context(), *rec, func(ctx context.Context, path string) error {
				return adapter.Write(ctx, dev, path, func(msg string) { fmt.Println(msg) })
			})
		},
	}
	cmd.Flags().String("port", "", "Port of the target device")
	return cmd
}

var backupsDeleteCmd = &cobra.Command{
	Use:   "delete <device-key> <name>",
	Short: "Delete one backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := backupMgr.Get(args[0], args[1])
		if err != nil {
			return err
		}
		return backupMgr.Delete(*rec)
	},
}

func newBackupsPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete backups older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				days = appConfig.Backup.RetainDays
			}
			_, err := backupMgr.Prune(days)
			return err
		},
	}
	cmd.Flags().Int("days", 0, "Retention in days (defaults to the configured value)")
	return cmd
}
