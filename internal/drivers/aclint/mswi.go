// Package aclint drives the ACLINT machine software interrupt (MSWI) and
// machine timer (MTIMER) devices.
package aclint

import (
	"fmt"
	"sync"

	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/mmio"
	"github.com/tinyrange/bringup/internal/sbierr"
)

const (
	// MaxHarts is the most harts one device can serve.
	MaxHarts = 4095

	mswiAlign = 0x1000
)

// MSWI delivers inter-processor interrupts through per-hart msip bits.
type MSWI struct {
	bus mmio.Accessor

	mu     sync.RWMutex
	byHart map[uint32]hw.MSWI
}

// NewMSWI returns an MSWI driver with no devices registered.
func NewMSWI(bus mmio.Accessor) *MSWI {
	return &MSWI{bus: bus, byHart: make(map[uint32]hw.MSWI)}
}

// ColdInit validates d and registers it for its hart range.
func (m *MSWI) ColdInit(d hw.MSWI) error {
	if d.Base == 0 || d.Base%mswiAlign != 0 {
		return fmt.Errorf("aclint: mswi base 0x%x: %w", d.Base, sbierr.ErrInvalidAddress)
	}
	if d.HartCount == 0 || d.HartCount > MaxHarts {
		return fmt.Errorf("aclint: mswi hart count %d: %w", d.HartCount, sbierr.ErrInvalidParam)
	}
	if d.Size < uint64(d.HartCount)*4 {
		return fmt.Errorf("aclint: mswi size 0x%x too small for %d harts: %w", d.Size, d.HartCount, sbierr.ErrInvalidParam)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for h := d.FirstHartID; h < d.FirstHartID+d.HartCount; h++ {
		if _, ok := m.byHart[h]; ok {
			return fmt.Errorf("aclint: mswi for hart %d: %w", h, sbierr.ErrAlreadyAvailable)
		}
	}
	for h := d.FirstHartID; h < d.FirstHartID+d.HartCount; h++ {
		m.byHart[h] = d
	}
	return nil
}

func (m *MSWI) msip(hart uint32) (uint64, error) {
	m.mu.RLock()
	d, ok := m.byHart[hart]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("aclint: no mswi for hart %d: %w", hart, sbierr.ErrNoDevice)
	}
	return d.Base + uint64(hart-d.FirstHartID)*4, nil
}

// WarmInit clears any stale IPI pending for hart.
func (m *MSWI) WarmInit(hart uint32) error {
	return m.ClearIPI(hart)
}

// SendIPI raises hart's software interrupt.
func (m *MSWI) SendIPI(hart uint32) error {
	return m.writeMSIP(hart, 1)
}

// ClearIPI lowers hart's software interrupt.
func (m *MSWI) ClearIPI(hart uint32) error {
	return m.writeMSIP(hart, 0)
}

func (m *MSWI) writeMSIP(hart, val uint32) error {
	addr, err := m.msip(hart)
	if err != nil {
		return err
	}
	if err := m.bus.Write32(addr, val); err != nil {
		return fmt.Errorf("aclint: write msip hart %d: %w (%w)", hart, sbierr.ErrIO, err)
	}
	return nil
}
