// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

package detect

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kumulus-tools/boardflash/internal/model"
)

// addFakePort fabricates a sysfs tty entry with USB attributes at the given
// depth above the device directory, mimicking the ttyACM/ttyUSB layouts.
func addFakePort(t *testing.T, sysDir, name string, depth int, attrs map[string]string) {
	t.Helper()
	deviceDir := filepath.Join(sysDir, name, "device")
	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		t.Fatal(err)
	}
	// The scanner walks "device/.." upwards; place the attributes where
	// that walk ends up.
	target := deviceDir
	for i := 0; i < depth; i++ {
		target = filepath.Dir(target)
	}
	for attr, value := range attrs {
		if err := os.WriteFile(filepath.Join(target, attr), []byte(value+"\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanClassifiesDevices(t *testing.T) {
	sysDir := t.TempDir()
	devDir := t.TempDir()

	addFakePort(t, sysDir, "ttyACM0", 0, map[string]string{
		"idVendor": "0483", "idProduct": "df11", "serial": "STM001", "manufacturer": "STMicroelectronics", "product": "STM32 BOOTLOADER",
	})
	addFakePort(t, sysDir, "ttyUSB0", 1, map[string]string{
		"idVendor": "10c4", "idProduct": "ea60", "serial": "ESP42", "product": "CP2102 USB to UART Bridge Controller",
	})
	addFakePort(t, sysDir, "ttyS0", 0, map[string]string{
		"idVendor": "dead", "idProduct": "beef",
	})

	s := &Scanner{DevDir: devDir, SysDir: sysDir}
	devices, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices (ttyS0 excluded), got %d", len(devices))
	}

	byPort := map[string]model.Device{}
	for _, d := range devices {
		byPort[filepath.Base(d.Port)] = d
	}

	stm := byPort["ttyACM0"]
	if stm.Board != model.BoardSTM32 {
		t.Errorf("ttyACM0 board = %s", stm.Board)
	}
	if stm.Serial != "STM001" || stm.VendorID != 0x0483 || stm.ProductID != 0xdf11 {
		t.Errorf("ttyACM0 attributes wrong: %+v", stm)
	}

	esp := byPort["ttyUSB0"]
	if esp.Board != model.BoardESP32 {
		t.Errorf("ttyUSB0 board = %s", esp.Board)
	}
}

func TestScanSkipsPortsWithoutUSBAttributes(t *testing.T) {
	sysDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(sysDir, "ttyUSB3", "device"), 0755); err != nil {
		t.Fatal(err)
	}
	s := &Scanner{DevDir: t.TempDir(), SysDir: sysDir}
	devices, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("expected no devices, got %d", len(devices))
	}
}

func TestScanMissingSysDir(t *testing.T) {
	s := &Scanner{DevDir: "/dev", SysDir: filepath.Join(t.TempDir(), "nope")}
	devices, err := s.Scan(context.Background())
	if err != nil || devices != nil {
		t.Fatalf("expected empty result, got %v, %v", devices, err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		vid, pid uint16
		product  string
		want     model.BoardType
	}{
		{0x0483, 0xdf11, "", model.BoardSTM32},
		{0x303a, 0x1001, "", model.BoardESP32},
		{0x2341, 0x0043, "", model.BoardArduino},
		{0x1a86, 0x7523, "", model.BoardESP8266},
		{0xffff, 0x0001, "NodeMCU esp8266 board", model.BoardESP8266},
		{0xffff, 0x0001, "esp32-s3 devkit", model.BoardESP32},
		{0xffff, 0x0001, "serial thing", model.BoardGeneric},
	}
	for _, tt := range tests {
		if got := Classify(tt.vid, tt.pid, tt.product); got != tt.want {
			t.Errorf("Classify(%04x, %04x, %q) = %s, expected %s", tt.vid, tt.pid, tt.product, got, tt.want)
		}
	}
}
