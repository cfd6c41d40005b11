//go:build !linux

package mmio

import (
	"fmt"
	"runtime"
)

// DevMem is only available on Linux.
type DevMem struct{}

func OpenDevMem(path string) (*DevMem, error) {
	return nil, fmt.Errorf("mmio: %s is not supported on %s", path, runtime.GOOS)
}

func (d *DevMem) Map(base, size uint64) error             { return fmt.Errorf("mmio: unsupported") }
func (d *DevMem) Close() error                            { return nil }
func (d *DevMem) Read8(addr uint64) (uint8, error)        { return 0, fmt.Errorf("mmio: unsupported") }
func (d *DevMem) Read32(addr uint64) (uint32, error)      { return 0, fmt.Errorf("mmio: unsupported") }
func (d *DevMem) Read64(addr uint64) (uint64, error)      { return 0, fmt.Errorf("mmio: unsupported") }
func (d *DevMem) Write8(addr uint64, value uint8) error   { return fmt.Errorf("mmio: unsupported") }
func (d *DevMem) Write32(addr uint64, value uint32) error { return fmt.Errorf("mmio: unsupported") }
func (d *DevMem) Write64(addr uint64, value uint64) error { return fmt.Errorf("mmio: unsupported") }

var _ Accessor = (*DevMem)(nil)
