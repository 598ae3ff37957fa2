// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package flash

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kumulus-tools/boardflash/internal/config"
	"github.com/kumulus-tools/boardflash/internal/i18n"
	"github.com/kumulus-tools/boardflash/internal/logging"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// Runner executes one external tool invocation, streaming its output lines
// to the progress callback.
type Runner interface {
	Run(ctx context.Context, path string, args []string, progress model.ProgressFunc) error
}

// Toolset locates and runs the external flashing tools. Discovery order:
// explicit configured path, extra search directories, then $PATH.
type Toolset struct {
	runner     Runner
	paths      map[string]string
	searchDirs []string
}

// NewToolset builds a Toolset from the flash configuration.
func NewToolset(cfg config.Config) *Toolset {
	timeout := time.Duration(cfg.Flash.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Toolset{
		runner:     &execRunner{timeout: timeout},
		paths:      cfg.Flash.ToolPaths,
		searchDirs: cfg.Flash.SearchDirs,
	}
}

// Find resolves a tool name to an executable path. An explicitly configured
// path is trusted as-is so unusual installations keep working.
func (t *Toolset) Find(name string) (string, error) {
	if p, ok := t.paths[name]; ok && p != "" {
		return p, nil
	}
	for _, dir := range t.searchDirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s", ErrToolNotFound, i18n.T("tool.error_not_found", name))
}

// Has reports whether a tool can be resolved.
func (t *Toolset) Has(name string) bool {
	_, err := t.Find(name)
	return err == nil
}

// Run resolves the tool and executes it.
func (t *Toolset) Run(ctx context.Context, name string, args []string, progress model.ProgressFunc) error {
	path, err := t.Find(name)
	if err != nil {
		return err
	}
	logging.Debugf("flash: running %s %s", path, strings.Join(args, " "))
	return t.runner.Run(ctx, path, args, progress)
}

// execRunner runs tools via os/exec with a hard timeout. Stdout and stderr
// are merged; each line becomes one progress message and the last lines are
// kept as context for error reports.
type execRunner struct {
	timeout time.Duration
}

const outputTailLines = 8

func (r *execRunner) Run(ctx context.Context, path string, args []string, progress model.ProgressFunc) error {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, path, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	tail := make([]string, 0, outputTailLines)
	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			progress.Emit(line)
			if len(tail) == outputTailLines {
				copy(tail, tail[1:])
				tail = tail[:outputTailLines-1]
			}
			tail = append(tail, line)
		}
	}()

	err := cmd.Run()
	_ = pw.Close()
	<-scanned

	if err == nil {
		return nil
	}
	name := filepath.Base(path)
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("%w: %s", ErrTimeout, i18n.T("tool.error_timeout", name, r.timeout))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	code := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	}
	return fmt.Errorf("%w: %s", ErrFlashTool,
		i18n.T("tool.error_exit", name, code, strings.Join(tail, " | ")))
}
