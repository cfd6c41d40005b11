// Package mmio provides memory-mapped register access for drivers.
package mmio

import (
	"fmt"
	"sort"
	"sync"
)

// Accessor performs sized register loads and stores at physical addresses.
type Accessor interface {
	Read8(addr uint64) (uint8, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)
	Write8(addr uint64, value uint8) error
	Write32(addr uint64, value uint32) error
	Write64(addr uint64, value uint64) error
}

// Device represents a memory-mapped device
type Device interface {
	// Read reads from the device at the given offset
	Read(offset uint64, size int) (uint64, error)
	// Write writes to the device at the given offset
	Write(offset uint64, size int, value uint64) error
	// Size returns the size of the device's address space
	Size() uint64
}

// DeviceMapping maps a device to an address range
type DeviceMapping struct {
	Base   uint64
	Size   uint64
	Device Device
}

// Bus decodes physical addresses to the devices mapped on it.
type Bus struct {
	mu      sync.RWMutex
	devices []DeviceMapping
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// AddDevice maps dev at base. Overlapping mappings are rejected.
func (bus *Bus) AddDevice(base uint64, dev Device) error {
	size := dev.Size()
	if size == 0 || base+size < base {
		return fmt.Errorf("mmio: invalid mapping 0x%x+0x%x", base, size)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	for _, m := range bus.devices {
		if base < m.Base+m.Size && m.Base < base+size {
			return fmt.Errorf("mmio: mapping 0x%x+0x%x overlaps 0x%x+0x%x", base, size, m.Base, m.Size)
		}
	}
	bus.devices = append(bus.devices, DeviceMapping{Base: base, Size: size, Device: dev})
	sort.Slice(bus.devices, func(i, j int) bool { return bus.devices[i].Base < bus.devices[j].Base })
	return nil
}

// Mappings returns the current device map ordered by base address.
func (bus *Bus) Mappings() []DeviceMapping {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return append([]DeviceMapping(nil), bus.devices...)
}

// findDevice finds a device at the given address
func (bus *Bus) findDevice(addr uint64, size int) (Device, uint64, error) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, mapping := range bus.devices {
		if addr >= mapping.Base && addr+uint64(size) <= mapping.Base+mapping.Size {
			return mapping.Device, addr - mapping.Base, nil
		}
	}

	return nil, 0, fmt.Errorf("mmio: no device at address 0x%x", addr)
}

// Read reads from the bus
func (bus *Bus) Read(addr uint64, size int) (uint64, error) {
	dev, offset, err := bus.findDevice(addr, size)
	if err != nil {
		return 0, err
	}
	return dev.Read(offset, size)
}

// Write writes to the bus
func (bus *Bus) Write(addr uint64, size int, value uint64) error {
	dev, offset, err := bus.findDevice(addr, size)
	if err != nil {
		return err
	}
	return dev.Write(offset, size, value)
}

// Read8 reads a byte from the bus
func (bus *Bus) Read8(addr uint64) (uint8, error) {
	val, err := bus.Read(addr, 1)
	return uint8(val), err
}

// Read32 reads a word from the bus
func (bus *Bus) Read32(addr uint64) (uint32, error) {
	val, err := bus.Read(addr, 4)
	return uint32(val), err
}

// Read64 reads a doubleword from the bus
func (bus *Bus) Read64(addr uint64) (uint64, error) {
	return bus.Read(addr, 8)
}

// Write8 writes a byte to the bus
func (bus *Bus) Write8(addr uint64, value uint8) error {
	return bus.Write(addr, 1, uint64(value))
}

// Write32 writes a word to the bus
func (bus *Bus) Write32(addr uint64, value uint32) error {
	return bus.Write(addr, 4, uint64(value))
}

// Write64 writes a doubleword to the bus
func (bus *Bus) Write64(addr uint64, value uint64) error {
	return bus.Write(addr, 8, value)
}

var _ Accessor = (*Bus)(nil)
