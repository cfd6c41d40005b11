package aclint

import (
	"fmt"
	"sync"

	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/mmio"
	"github.com/tinyrange/bringup/internal/sbierr"
)

const mtimerAlign = 0x8

// MTimer programs per-hart timer compare registers against a shared mtime.
type MTimer struct {
	bus mmio.Accessor

	mu     sync.RWMutex
	byHart map[uint32]hw.MTimer
}

// NewMTimer returns an MTIMER driver with no devices registered.
func NewMTimer(bus mmio.Accessor) *MTimer {
	return &MTimer{bus: bus, byHart: make(map[uint32]hw.MTimer)}
}

// ColdInit validates t and registers it for its hart range.
func (m *MTimer) ColdInit(t hw.MTimer) error {
	if t.MtimeAddr == 0 || t.MtimeAddr%mtimerAlign != 0 ||
		t.MtimecmpAddr == 0 || t.MtimecmpAddr%mtimerAlign != 0 {
		return fmt.Errorf("aclint: mtimer addresses 0x%x/0x%x: %w", t.MtimeAddr, t.MtimecmpAddr, sbierr.ErrInvalidAddress)
	}
	if t.Freq == 0 {
		return fmt.Errorf("aclint: mtimer frequency is zero: %w", sbierr.ErrInvalidParam)
	}
	if t.HartCount == 0 || t.HartCount > MaxHarts {
		return fmt.Errorf("aclint: mtimer hart count %d: %w", t.HartCount, sbierr.ErrInvalidParam)
	}
	if t.MtimeSize < 8 || t.MtimecmpSize < uint64(t.HartCount)*8 {
		return fmt.Errorf("aclint: mtimer register sizes 0x%x/0x%x: %w", t.MtimeSize, t.MtimecmpSize, sbierr.ErrInvalidParam)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for h := t.FirstHartID; h < t.FirstHartID+t.HartCount; h++ {
		if _, ok := m.byHart[h]; ok {
			return fmt.Errorf("aclint: mtimer for hart %d: %w", h, sbierr.ErrAlreadyAvailable)
		}
	}
	for h := t.FirstHartID; h < t.FirstHartID+t.HartCount; h++ {
		m.byHart[h] = t
	}
	return nil
}

func (m *MTimer) lookup(hart uint32) (hw.MTimer, error) {
	m.mu.RLock()
	t, ok := m.byHart[hart]
	m.mu.RUnlock()
	if !ok {
		return hw.MTimer{}, fmt.Errorf("aclint: no mtimer for hart %d: %w", hart, sbierr.ErrNoDevice)
	}
	return t, nil
}

// WarmInit parks hart's compare register at the maximum so no timer
// interrupt fires until the next stage programs one.
func (m *MTimer) WarmInit(hart uint32) error {
	return m.EventStart(hart, ^uint64(0))
}

// EventStart programs hart's next timer event.
func (m *MTimer) EventStart(hart uint32, next uint64) error {
	t, err := m.lookup(hart)
	if err != nil {
		return err
	}
	addr := t.MtimecmpAddr + uint64(hart-t.FirstHartID)*8
	if err := m.write64(t, addr, next); err != nil {
		return fmt.Errorf("aclint: write mtimecmp hart %d: %w (%w)", hart, sbierr.ErrIO, err)
	}
	return nil
}

// Value reads mtime as seen by hart.
func (m *MTimer) Value(hart uint32) (uint64, error) {
	t, err := m.lookup(hart)
	if err != nil {
		return 0, err
	}
	v, err := m.read64(t, t.MtimeAddr)
	if err != nil {
		return 0, fmt.Errorf("aclint: read mtime: %w (%w)", sbierr.ErrIO, err)
	}
	return v, nil
}

func (m *MTimer) write64(t hw.MTimer, addr, v uint64) error {
	if t.Has64BitMMIO {
		return m.bus.Write64(addr, v)
	}
	// Raise the low half last so the compare never passes through a
	// smaller value.
	if err := m.bus.Write32(addr, 0xffffffff); err != nil {
		return err
	}
	if err := m.bus.Write32(addr+4, uint32(v>>32)); err != nil {
		return err
	}
	return m.bus.Write32(addr, uint32(v))
}

func (m *MTimer) read64(t hw.MTimer, addr uint64) (uint64, error) {
	if t.Has64BitMMIO {
		return m.bus.Read64(addr)
	}
	for {
		hi, err := m.bus.Read32(addr + 4)
		if err != nil {
			return 0, err
		}
		lo, err := m.bus.Read32(addr)
		if err != nil {
			return 0, err
		}
		again, err := m.bus.Read32(addr + 4)
		if err != nil {
			return 0, err
		}
		if again == hi {
			return uint64(hi)<<32 | uint64(lo), nil
		}
	}
}
