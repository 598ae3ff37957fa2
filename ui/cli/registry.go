// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/model"
	"github.com/kumulus-tools/boardflash/internal/validate"
)

// newRegistryCmd builds the 'registry' command group for managing the
// firmware registry.
func newRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the firmware registry (add, list, delete, validate)",
		Long: `The 'registry' command group manages known firmware images:
  - Add images from local files, URLs, GitHub releases, GitLab pipelines or SFTP
  - List registered images with checksum and validation status
  - Delete images, removing cached downloads
  - Re-validate images against their recorded checksum`,
	}
	cmd.AddCommand(newRegistryAddCmd())
	cmd.AddCommand(newRegistryListCmd())
	cmd.AddCommand(registryDeleteCmd)
	cmd.AddCommand(registryValidateCmd)
	return cmd
}

func newRegistryAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Resolve and register a firmware image",
		RunE: func(cmd *cobra.Command, args []string) error {
			boardName, _ := cmd.Flags().GetString("board")
			board, ok := model.ParseBoardType(boardName)
			if !ok {
				return fmt.Errorf("unknown board type %q", boardName)
			}

			resolver, err := resolverFromFlags(cmd, board)
			if err != nil {
				return err
			}
			if resolver == nil {
				return fmt.Errorf("no source given: use --file, --url, --github, --gitlab-project or --sftp")
			}

			entry, err := resolver.Resolve(cmd.Context(), func(msg string) { fmt.Println(msg) })
			if err != nil {
				return err
			}
			if err := regStore.Add(*entry); err != nil {
				return err
			}
			fmt.Println(i18n.T("cli.registry_added", entry.ID, entry.Name, entry.Version))
			return nil
		},
	}
	cmd.Flags().String("board", string(model.BoardGeneric), "Target board type (STM32, ESP32, ESP8266, Arduino, Generic)")
	addSourceFlags(cmd)
	return cmd
}

func newRegistryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered firmware images",
		Long:  `List registered firmware images. With --port only the images compatible with the board on that port are shown, newest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []model.FirmwareEntry
			if port, _ := cmd.Flags().GetString("port"); port != "" {
				dev, err := findDevice(cmd, port)
				if err != nil {
					return err
				}
				entries = regStore.CompatibleWith(dev)
			} else {
				entries = regStore.All()
			}
			if len(entries) == 0 {
				fmt.Println(i18n.T("cli.registry_empty"))
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tBOARD\tSIZE\tVALIDATED\tSOURCE")
			for _, e := range entries {
				validated := "no"
				if e.Validated {
					validated = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.Name, e.Version, e.Board, e.SizeBytes, validated, e.Source)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("port", "", "Only show firmware compatible with the board on this port")
	return cmd
}

var registryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a firmware image from the registry",
	Long:  `Delete a registry entry. The cached image file is removed as well when it lives in the managed downloads directory.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := regStore.Delete(args[0], appConfig.DownloadsDir); err != nil {
			return err
		}
		fmt.Println(i18n.T("cli.registry_deleted", args[0]))
		return nil
	},
}

var registryValidateCmd = &cobra.Command{
	Use:   "validate <id>",
	Short: "Check a firmware image against its recorded checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entry, err := regStore.Get(args[0])
		if err != nil {
			return err
		}
		ok, detail := validate.Validate(entry)
		if !ok {
			return fmt.Errorf("%s", detail)
		}
		if err := regStore.MarkValidated(entry.ID); err != nil {
			return err
		}
		fmt.Println(i18n.T("validate.passed"))
		return nil
	},
}
