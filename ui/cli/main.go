// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for Boardflash using the Cobra
// library. It defines the root command, wires the shared services (registry,
// backups, history, flash engine) and the main entry point for execution.

package cli

import (
	"errors"
	"fmt"
	"os"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kumulus-tools/boardflash/internal/backup"
	"github.com/kumulus-tools/boardflash/internal/config"
	"github.com/kumulus-tools/boardflash/internal/detect"
	"github.com/kumulus-tools/boardflash/internal/history"
	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/logging"
	"github.com/kumulus-tools/boardflash/internal/orchestrator"
	"github.com/kumulus-tools/boardflash/internal/registry"
)

var version = "dev" // set by the linker
var cfgFile string
var verbose bool
var showVersionFlag bool

var appConfig config.Config

// Shared services, initialized by setupDefaultServices.
var (
	regStore  *registry.Store
	backupMgr *backup.Manager
	histStore *history.Store
	engine    *orchestrator.Engine
	scanner   *detect.Scanner
)

func setupDefaultServices(cmd *cobra.Command, args []string) error {
	optionalConfigPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	appConfig, err = config.LoadConfig[config.Config](cmd, config.Defaults(), optionalConfigPath)
	// A "file not found" error is expected on first run; create a default
	// config so subsequent runs have a persisted file to inspect.
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		if writeErr := config.WriteConfigFile(&appConfig, false); writeErr != nil {
			log.Warnf("Warning: could not write default config file: %v", writeErr)
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if verbose || appConfig.Debug {
		logging.SetDebug(true)
	}

	i18n.Init(appConfig.Language)

	if err := appConfig.EnsureDirs(); err != nil {
		return err
	}

	regStore, err = registry.Open(appConfig.RegistryPath())
	if err != nil {
		return fmt.Errorf("could not open firmware registry: %w", err)
	}

	backupMgr = backup.NewManager(appConfig)
	scanner = detect.NewScanner()

	histStore, err = history.NewStore(cmd.Context(), appConfig.History.Type, appConfig.History.Dsn)
	if err != nil {
		// History is a record, not a prerequisite; run without it.
		log.Warnf("%s", i18n.T("config.error_init_history", err))
		histStore = nil
	}

	// A typed nil must not end up in the interface, Record would panic.
	var hist orchestrator.Historian
	if histStore != nil {
		hist = histStore
	}
	engine = orchestrator.New(appConfig, regStore, backupMgr, hist)
	return nil
}

// Execute runs the CLI entrypoint. The root main package should call this
// function and handle process exit.
func Execute() error {
	rootCmd := NewRootCmd()
	defer func() {
		if histStore != nil {
			_ = histStore.Close()
		}
	}()
	return rootCmd.Execute()
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if cmd.Flags().Changed("config") {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			return nil, fmt.Errorf("could not read --config flag: %w", err)
		}
		if path == "" {
			return nil, nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
		}
		return &path, nil
	}
	return nil, nil
}

// NewRootCmd creates and configures a new root cobra command. Tests use this
// to build fresh instances.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boardflash",
		Short: "Boardflash manages firmware for USB-attached embedded boards.",
		Long: `Boardflash acquires firmware images from local files, release servers
and CI pipelines, verifies their integrity, and flashes them to connected
boards with an automatic backup and rollback safety net.

Run 'boardflash scan' to see connected boards.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if showVersionFlag {
				fmt.Println(version)
				os.Exit(0)
			}
			return setupDefaultServices(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = version

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(&showVersionFlag, "version", "V", false, "Print version and exit")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `Output language ("en", "de")`)

	cmd.AddCommand(scanCmd)
	cmd.AddCommand(newFlashCmd())
	cmd.AddCommand(newRegistryCmd())
	cmd.AddCommand(newBackupsCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(versionCmd)
	return cmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Boardflash version",
	// The services are not needed to print a version string.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}
