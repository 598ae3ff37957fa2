// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Boardflash.
//
// Usage:
//
//	go run . [flags]
//	./boardflash [flags]
//
// This launches the Boardflash CLI. See --help for options.
package main

import (
	"log"
	"os"

	"github.com/kumulus-tools/boardflash/ui/cli"
)

// main is the entrypoint for the Boardflash CLI.
func main() {
	if err := cli.Execute(); err != nil {
		log.Printf("Boardflash CLI error: %v", err)
		os.Exit(1)
	}
}
