//go:build linux

package mmio

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMem accesses physical registers through windows mapped from /dev/mem.
type DevMem struct {
	f *os.File

	mu      sync.RWMutex
	windows []window
}

type window struct {
	base uint64
	mem  []byte
}

// OpenDevMem opens path (normally /dev/mem) for register access.
func OpenDevMem(path string) (*DevMem, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}
	return &DevMem{f: f}, nil
}

// Map makes the physical range base..base+size accessible. base is rounded
// down and size up to the page size.
func (d *DevMem) Map(base, size uint64) error {
	page := uint64(os.Getpagesize())
	start := base &^ (page - 1)
	length := (base + size - start + page - 1) &^ (page - 1)

	mem, err := unix.Mmap(int(d.f.Fd()), int64(start), int(length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmio: map 0x%x+0x%x: %w", start, length, err)
	}

	d.mu.Lock()
	d.windows = append(d.windows, window{base: start, mem: mem})
	d.mu.Unlock()
	return nil
}

// Close unmaps every window and closes the device file.
func (d *DevMem) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for _, w := range d.windows {
		if err := unix.Munmap(w.mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.windows = nil
	if err := d.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (d *DevMem) ptr(addr uint64, size int) (unsafe.Pointer, error) {
	if addr%uint64(size) != 0 {
		return nil, fmt.Errorf("mmio: unaligned %d-byte access at 0x%x", size, addr)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, w := range d.windows {
		if addr >= w.base && addr+uint64(size) <= w.base+uint64(len(w.mem)) {
			return unsafe.Pointer(&w.mem[addr-w.base]), nil
		}
	}
	return nil, fmt.Errorf("mmio: address 0x%x is not mapped", addr)
}

func (d *DevMem) Read8(addr uint64) (uint8, error) {
	p, err := d.ptr(addr, 1)
	if err != nil {
		return 0, err
	}
	return *(*uint8)(p), nil
}

func (d *DevMem) Read32(addr uint64) (uint32, error) {
	p, err := d.ptr(addr, 4)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(p)), nil
}

func (d *DevMem) Read64(addr uint64) (uint64, error) {
	p, err := d.ptr(addr, 8)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64((*uint64)(p)), nil
}

func (d *DevMem) Write8(addr uint64, value uint8) error {
	p, err := d.ptr(addr, 1)
	if err != nil {
		return err
	}
	*(*uint8)(p) = value
	return nil
}

func (d *DevMem) Write32(addr uint64, value uint32) error {
	p, err := d.ptr(addr, 4)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(p), value)
	return nil
}

func (d *DevMem) Write64(addr uint64, value uint64) error {
	p, err := d.ptr(addr, 8)
	if err != nil {
		return err
	}
	atomic.StoreUint64((*uint64)(p), value)
	return nil
}

var _ Accessor = (*DevMem)(nil)
