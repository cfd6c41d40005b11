// Package plic drives the RISC-V platform-level interrupt controller.
package plic

import (
	"fmt"

	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/mmio"
	"github.com/tinyrange/bringup/internal/sbierr"
)

const (
	priorityBase    = 0x0
	priorityStride  = 0x4
	enableBase      = 0x2000
	enableStride    = 0x80
	contextBase     = 0x200000
	contextStride   = 0x1000
	contextThresh   = 0x0
	maxSources      = 1023
	defaultPriority = 1
)

// Controller programs one PLIC. It keeps no per-hart state; every call names
// the PLIC it targets.
type Controller struct {
	bus mmio.Accessor
}

// New returns a controller issuing register accesses on bus.
func New(bus mmio.Accessor) *Controller {
	return &Controller{bus: bus}
}

// ColdInit sets every source to the default priority.
func (c *Controller) ColdInit(p hw.PLIC) error {
	if p.Base == 0 {
		return sbierr.ErrInvalidAddress
	}
	if p.NumSources > maxSources {
		return fmt.Errorf("plic: %d sources: %w", p.NumSources, sbierr.ErrInvalidParam)
	}
	for src := uint32(1); src <= p.NumSources; src++ {
		if err := c.SetPriority(p, src, defaultPriority); err != nil {
			return err
		}
	}
	return nil
}

// SetPriority sets the priority of one source.
func (c *Controller) SetPriority(p hw.PLIC, src, val uint32) error {
	addr := p.Base + priorityBase + uint64(src)*priorityStride
	if err := c.bus.Write32(addr, val); err != nil {
		return fmt.Errorf("plic: set priority %d: %w (%w)", src, sbierr.ErrIO, err)
	}
	return nil
}

// SetIE sets or clears all 32 enable bits of one word in a context.
func (c *Controller) SetIE(p hw.PLIC, cntxID, wordIndex int, enable bool) error {
	if cntxID < 0 || wordIndex < 0 {
		return sbierr.ErrInvalidParam
	}
	var val uint32
	if enable {
		val = 0xffffffff
	}
	addr := p.Base + enableBase + uint64(cntxID)*enableStride + uint64(wordIndex)*4
	if err := c.bus.Write32(addr, val); err != nil {
		return fmt.Errorf("plic: set ie context %d word %d: %w (%w)", cntxID, wordIndex, sbierr.ErrIO, err)
	}
	return nil
}

// SetThreshold sets a context's priority threshold.
func (c *Controller) SetThreshold(p hw.PLIC, cntxID int, val uint32) error {
	if cntxID < 0 {
		return sbierr.ErrInvalidParam
	}
	addr := p.Base + contextBase + uint64(cntxID)*contextStride + contextThresh
	if err := c.bus.Write32(addr, val); err != nil {
		return fmt.Errorf("plic: set threshold context %d: %w (%w)", cntxID, sbierr.ErrIO, err)
	}
	return nil
}
