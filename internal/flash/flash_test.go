// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package flash

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/kumulus-tools/boardflash/internal/model"
)

// fakeRunner records tool invocations and fails tools listed in failures.
type fakeRunner struct {
	calls    [][]string
	failures map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, path string, args []string, progress model.ProgressFunc) error {
	f.calls = append(f.calls, append([]string{filepath.Base(path)}, args...))
	if err, ok := f.failures[filepath.Base(path)]; ok {
		return err
	}
	return nil
}

// fakeToolset resolves only the named tools, against the fake runner.
func fakeToolset(runner *fakeRunner, tools ...string) *Toolset {
	paths := make(map[string]string, len(tools))
	for _, tool := range tools {
		paths[tool] = "/opt/tools/" + tool
	}
	return &Toolset{runner: runner, paths: paths}
}

func (f *fakeRunner) lastCall(t *testing.T) []string {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatal("no tool invocation recorded")
	}
	return f.calls[len(f.calls)-1]
}

func stm32Device() model.Device {
	return model.Device{Board: model.BoardSTM32, Port: "/dev/ttyACM0", VendorID: 0x0483, ProductID: 0xdf11}
}

func TestSTM32PrefersCubeProgrammer(t *testing.T) {
	runner := &fakeRunner{}
	a := &STM32{tools: fakeToolset(runner, cubeProgrammer, dfuUtil)}

	if err := a.Write(context.Background(), stm32Device(), "/fw/app.elf", nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	call := runner.lastCall(t)
	if call[0] != cubeProgrammer {
		t.Errorf("used %s, expected %s", call[0], cubeProgrammer)
	}
	joined := strings.Join(call, " ")
	if !strings.Contains(joined, "port=/dev/ttyACM0") || !strings.Contains(joined, "-w /fw/app.elf 0x08000000") {
		t.Errorf("unexpected invocation: %s", joined)
	}
}

func TestSTM32FallsBackToDfuUtil(t *testing.T) {
	t.Setenv("PATH", t.TempDir()) // keep a host CubeProgrammer install out of the picture
	runner := &fakeRunner{}
	a := &STM32{tools: fakeToolset(runner, dfuUtil)}

	if err := a.Write(context.Background(), stm32Device(), "/fw/app.bin", nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	call := runner.lastCall(t)
	if call[0] != dfuUtil {
		t.Errorf("used %s, expected %s", call[0], dfuUtil)
	}
	joined := strings.Join(call, " ")
	if !strings.Contains(joined, "-s 0x08000000:leave") || !strings.Contains(joined, "-D /fw/app.bin") {
		t.Errorf("unexpected invocation: %s", joined)
	}
	// A raw binary must not go through conversion.
	if len(runner.calls) != 1 {
		t.Errorf("expected 1 invocation, got %d", len(runner.calls))
	}
}

func TestSTM32DfuFallbackConvertsElf(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	runner := &fakeRunner{}
	a := &STM32{tools: fakeToolset(runner, dfuUtil, "objcopy")}

	if err := a.Write(context.Background(), stm32Device(), "/fw/app.elf", nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected objcopy then dfu-util, got %d calls", len(runner.calls))
	}
	if runner.calls[0][0] != "objcopy" {
		t.Errorf("first call = %s", runner.calls[0][0])
	}
	if !strings.Contains(strings.Join(runner.calls[0], " "), "-O binary /fw/app.elf") {
		t.Errorf("unexpected objcopy invocation: %v", runner.calls[0])
	}
	if runner.calls[1][0] != dfuUtil {
		t.Errorf("second call = %s", runner.calls[1][0])
	}
}

func TestSTM32NoToolsAvailable(t *testing.T) {
	t.Setenv("PATH", t.TempDir()) // nothing on the search path either
	a := &STM32{tools: fakeToolset(&fakeRunner{})}
	err := a.Write(context.Background(), stm32Device(), "/fw/app.bin", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestESPWriteOffsets(t *testing.T) {
	tests := []struct {
		board  model.BoardType
		offset string
	}{
		{model.BoardESP32, "0x1000"},
		{model.BoardESP8266, "0x0000"},
	}
	for _, tt := range tests {
		runner := &fakeRunner{}
		a := &ESP{tools: fakeToolset(runner, esptool), board: tt.board}
		dev := model.Device{Board: tt.board, Port: "/dev/ttyUSB0"}
		if err := a.Write(context.Background(), dev, "/fw/app.bin", nil); err != nil {
			t.Fatalf("%s Write: %v", tt.board, err)
		}
		joined := strings.Join(runner.lastCall(t), " ")
		if !strings.Contains(joined, "write_flash "+tt.offset+" /fw/app.bin") {
			t.Errorf("%s: unexpected invocation: %s", tt.board, joined)
		}
		if !strings.Contains(joined, "--port /dev/ttyUSB0") {
			t.Errorf("%s: port missing: %s", tt.board, joined)
		}
	}
}

func TestArduinoImageFormats(t *testing.T) {
	tests := []struct {
		image string
		want  string
	}{
		{"/fw/sketch.hex", "flash:w:/fw/sketch.hex:i"},
		{"/fw/sketch.bin", "flash:w:/fw/sketch.bin:r"},
	}
	for _, tt := range tests {
		runner := &fakeRunner{}
		a := &Arduino{tools: fakeToolset(runner, avrdude)}
		dev := model.Device{Board: model.BoardArduino, Port: "/dev/ttyACM1"}
		if err := a.Write(context.Background(), dev, tt.image, nil); err != nil {
			t.Fatalf("Write: %v", err)
		}
		joined := strings.Join(runner.lastCall(t), " ")
		if !strings.Contains(joined, tt.want) {
			t.Errorf("expected %q in %s", tt.want, joined)
		}
	}
}

func TestGenericWritesToPort(t *testing.T) {
	port := filepath.Join(t.TempDir(), "ttyS9")
	if err := os.WriteFile(port, nil, 0644); err != nil {
		t.Fatal(err)
	}
	image := filepath.Join(t.TempDir(), "fw.bin")
	if err := os.WriteFile(image, []byte("raw image"), 0644); err != nil {
		t.Fatal(err)
	}

	a := &Generic{}
	dev := model.Device{Board: model.BoardGeneric, Port: port}
	if err := a.Write(context.Background(), dev, image, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(port)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "raw image" {
		t.Errorf("port received %q", got)
	}

	if a.CanReadBack(dev) {
		t.Error("generic boards must not claim read-back support")
	}
	if err := a.ReadBack(context.Background(), dev, "/tmp/x", nil); !errors.Is(err, ErrNoReadBack) {
		t.Errorf("expected ErrNoReadBack, got %v", err)
	}
}

func TestConversionRejectsUnknownFormat(t *testing.T) {
	ts := fakeToolset(&fakeRunner{}, "objcopy")
	if _, _, err := toRawBinary(context.Background(), ts, "/fw/app.uf2", nil); !errors.Is(err, ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestConversionWrapsToolFailure(t *testing.T) {
	runner := &fakeRunner{failures: map[string]error{"objcopy": errors.New("bad elf")}}
	ts := fakeToolset(runner, "objcopy")
	if _, _, err := toRawBinary(context.Background(), ts, "/fw/app.elf", nil); !errors.Is(err, ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

func TestExecRunnerReportsExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	r := &execRunner{timeout: 10 * time.Second}
	var lines []string
	progress := model.ProgressFunc(func(msg string) { lines = append(lines, msg) })

	err := r.Run(context.Background(), "/bin/sh", []string{"-c", "echo writing sector 1; exit 3"}, progress)
	if !errors.Is(err, ErrFlashTool) {
		t.Fatalf("expected ErrFlashTool, got %v", err)
	}
	if !strings.Contains(err.Error(), "writing sector 1") {
		t.Errorf("error should carry output tail, got %v", err)
	}
	if len(lines) == 0 || lines[0] != "writing sector 1" {
		t.Errorf("output lines not streamed to progress: %v", lines)
	}
}

func TestExecRunnerTimesOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	r := &execRunner{timeout: 50 * time.Millisecond}
	err := r.Run(context.Background(), "/bin/sh", []string{"-c", "sleep 5"}, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestToolsetFindOrder(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "esptool")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	ts := &Toolset{
		runner:     &fakeRunner{},
		paths:      map[string]string{"avrdude": "/custom/avrdude"},
		searchDirs: []string{dir},
	}

	// Explicit override wins without existence check.
	if p, err := ts.Find("avrdude"); err != nil || p != "/custom/avrdude" {
		t.Errorf("Find(avrdude) = %q, %v", p, err)
	}
	// Search directories beat $PATH.
	if p, err := ts.Find("esptool"); err != nil || p != tool {
		t.Errorf("Find(esptool) = %q, %v", p, err)
	}
	t.Setenv("PATH", t.TempDir())
	if _, err := ts.Find("no-such-tool"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}
