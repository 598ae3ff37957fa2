// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Package detect enumerates USB serial devices and classifies them into
// board types. Classification works from the USB vendor/product id first and
// falls back to name hints from the product string, so unknown-but-working
// serial adapters still show up as Generic boards.
package detect

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kumulus-tools/boardflash/internal/logging"
	"github.com/kumulus-tools/boardflash/internal/model"
)

// vidKey matches any product of a vendor when PID is zero.
type vidKey struct {
	vid uint16
	pid uint16
}

// knownBoards maps USB ids to board types. Entries with pid 0 match the
// whole vendor.
var knownBoards = map[vidKey]model.BoardType{
	{0x0483, 0xdf11}: model.BoardSTM32,   // STM32 DFU bootloader
	{0x0483, 0x374b}: model.BoardSTM32,   // ST-LINK/V2-1
	{0x0483, 0x5740}: model.BoardSTM32,   // STM32 virtual COM port
	{0x303a, 0x0000}: model.BoardESP32,   // Espressif native USB
	{0x10c4, 0xea60}: model.BoardESP32,   // CP2102, the usual ESP32 devkit bridge
	{0x1a86, 0x7523}: model.BoardESP8266, // CH340, common on ESP8266 boards
	{0x2341, 0x0000}: model.BoardArduino, // Arduino SA
	{0x2a03, 0x0000}: model.BoardArduino, // Arduino.org
	{0x1b4f, 0x0000}: model.BoardArduino, // SparkFun
}

// Scanner enumerates serial devices. The directories are configurable so
// tests can point it at a fabricated tree.
type Scanner struct {
	// DevDir is where port device files live, normally /dev.
	DevDir string
	// SysDir is the tty class directory, normally /sys/class/tty.
	SysDir string
}

// NewScanner returns a scanner for the host system.
func NewScanner() *Scanner {
	return &Scanner{DevDir: "/dev", SysDir: "/sys/class/tty"}
}

// Scan lists the connected USB serial devices. Ports that vanish between
// enumeration and attribute reads are skipped, not reported as errors.
func (s *Scanner) Scan(ctx context.Context) ([]model.Device, error) {
	entries, err := os.ReadDir(s.SysDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var devices []model.Device
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name := e.Name()
		if !strings.HasPrefix(name, "ttyUSB") && !strings.HasPrefix(name, "ttyACM") {
			continue
		}
		dev, ok := s.describe(name)
		if !ok {
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// describe reads the USB attributes of one tty and classifies it.
func (s *Scanner) describe(name string) (model.Device, bool) {
	usbDir, ok := s.findUSBDir(name)
	if !ok {
		logging.Debugf("detect: no usb attributes for %s, skipping", name)
		return model.Device{}, false
	}

	vid, err1 := readHexID(filepath.Join(usbDir, "idVendor"))
	pid, err2 := readHexID(filepath.Join(usbDir, "idProduct"))
	if err1 != nil || err2 != nil {
		return model.Device{}, false
	}

	product := readAttr(filepath.Join(usbDir, "product"))
	dev := model.Device{
		Port:         filepath.Join(s.DevDir, name),
		Board:        Classify(vid, pid, product),
		VendorID:     vid,
		ProductID:    pid,
		Serial:       readAttr(filepath.Join(usbDir, "serial")),
		Manufacturer: readAttr(filepath.Join(usbDir, "manufacturer")),
		Description:  product,
	}
	return dev, true
}

// findUSBDir walks up from the tty's device link until it finds the USB
// device directory carrying idVendor. The depth differs between ttyUSB
// (behind a converter interface) and ttyACM nodes.
func (s *Scanner) findUSBDir(name string) (string, bool) {
	dir := filepath.Join(s.SysDir, name, "device")
	for i := 0; i < 4; i++ {
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			return dir, true
		}
		dir = filepath.Join(dir, "..")
	}
	return "", false
}

// Classify maps USB ids to a board type, falling back to product-name hints
// and finally to Generic.
func Classify(vid, pid uint16, product string) model.BoardType {
	if b, ok := knownBoards[vidKey{vid, pid}]; ok {
		return b
	}
	if b, ok := knownBoards[vidKey{vid, 0}]; ok {
		return b
	}
	// Unlisted serial bridges are classified by product-name hints.
	for _, b := range []model.BoardType{model.BoardESP8266, model.BoardESP32, model.BoardSTM32, model.BoardArduino} {
		if b.ImpliedBy(product) {
			return b
		}
	}
	return model.BoardGeneric
}

func readHexID(path string) (uint16, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func readAttr(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
