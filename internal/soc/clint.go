package soc

import (
	"sync"
	"time"
)

// CLINT register offsets
const (
	CLINTMsip     = 0x0000 // Machine Software Interrupt Pending (per hart)
	CLINTMtimecmp = 0x4000 // Machine Timer Compare (per hart)
	CLINTMtime    = 0xbff8 // Machine Time

	CLINTSize = 0x000c_0000
)

// CLINT is a combined core-local interruptor: an ACLINT MSWI device at the
// base and an MTIMER device at +0x4000.
type CLINT struct {
	mu sync.Mutex

	msip     []uint32
	mtimecmp []uint64

	// Start time for mtime calculation
	startTime time.Time

	// Time scale (nanoseconds per tick)
	nsPerTick uint64
}

// NewCLINT creates a CLINT for harts harts ticking at freq Hz.
func NewCLINT(harts int, freq uint64) *CLINT {
	c := &CLINT{
		msip:      make([]uint32, harts),
		mtimecmp:  make([]uint64, harts),
		startTime: time.Now(),
		nsPerTick: 1,
	}
	if freq > 0 && freq <= uint64(time.Second) {
		c.nsPerTick = uint64(time.Second) / freq
	}
	return c
}

// Size implements mmio.Device
func (c *CLINT) Size() uint64 {
	return CLINTSize
}

// getMtime returns the current mtime value
func (c *CLINT) getMtime() uint64 {
	elapsed := time.Since(c.startTime).Nanoseconds()
	return uint64(elapsed) / c.nsPerTick
}

func half(v uint64, offset uint64, size int) uint64 {
	if size == 4 {
		if offset%8 == 4 {
			return v >> 32
		}
		return v & 0xffffffff
	}
	return v
}

func merge(old, value, offset uint64, size int) uint64 {
	if size != 4 {
		return value
	}
	if offset%8 == 4 {
		return (old &^ 0xffffffff00000000) | ((value & 0xffffffff) << 32)
	}
	return (old &^ 0xffffffff) | (value & 0xffffffff)
}

// Read implements mmio.Device
func (c *CLINT) Read(offset uint64, size int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	harts := uint64(len(c.msip))
	switch {
	case offset < CLINTMsip+4*harts:
		return uint64(c.msip[offset/4]), nil

	case offset >= CLINTMtimecmp && offset < CLINTMtimecmp+8*harts:
		rel := offset - CLINTMtimecmp
		return half(c.mtimecmp[rel/8], rel, size), nil

	case offset >= CLINTMtime && offset < CLINTMtime+8:
		return half(c.getMtime(), offset-CLINTMtime, size), nil
	}

	return 0, nil
}

// Write implements mmio.Device
func (c *CLINT) Write(offset uint64, size int, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	harts := uint64(len(c.msip))
	switch {
	case offset < CLINTMsip+4*harts:
		c.msip[offset/4] = uint32(value & 1)

	case offset >= CLINTMtimecmp && offset < CLINTMtimecmp+8*harts:
		rel := offset - CLINTMtimecmp
		c.mtimecmp[rel/8] = merge(c.mtimecmp[rel/8], value, rel, size)
	}

	return nil
}

// MSIP reports hart's software interrupt pending bit.
func (c *CLINT) MSIP(hart int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msip[hart] != 0
}

// Mtimecmp returns hart's timer compare value.
func (c *CLINT) Mtimecmp(hart int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtimecmp[hart]
}

// TimerPending reports whether hart's timer interrupt would be raised.
func (c *CLINT) TimerPending(hart int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getMtime() >= c.mtimecmp[hart]
}
