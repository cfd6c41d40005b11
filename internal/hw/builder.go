package hw

import (
	"errors"
	"fmt"
	"sync"
)

// ErrFrozen is returned by Builder operations after Freeze.
var ErrFrozen = errors.New("hw: descriptor is frozen")

// Group names one atomically replaced set of descriptor fields.
type Group string

const (
	GroupUART     Group = "uart"
	GroupPLIC     Group = "plic"
	GroupTimebase Group = "timebase"
	GroupCLINT    Group = "clint"
)

// Builder accumulates overrides on top of a default descriptor. Each override
// replaces one field group in full. Overrides are only accepted until Freeze.
type Builder struct {
	mu      sync.Mutex
	desc    Descriptor
	applied []Group
	frozen  bool
}

// NewBuilder starts a builder from the given defaults.
func NewBuilder(defaults Descriptor) *Builder {
	return &Builder{desc: defaults}
}

// SetUART replaces the UART record.
func (b *Builder) SetUART(u UART) error {
	return b.apply(GroupUART, func(d *Descriptor) { d.UART = u })
}

// SetPLIC replaces the interrupt controller record.
func (b *Builder) SetPLIC(p PLIC) error {
	return b.apply(GroupPLIC, func(d *Descriptor) { d.PLIC = p })
}

// SetTimebaseFrequency replaces the timer frequency.
func (b *Builder) SetTimebaseFrequency(freq uint64) error {
	return b.apply(GroupTimebase, func(d *Descriptor) { d.MTimer.Freq = freq })
}

// SetCLINTBase relocates the IPI facility and both timer registers to a
// combined CLINT at base.
func (b *Builder) SetCLINTBase(base uint64) error {
	return b.apply(GroupCLINT, func(d *Descriptor) { d.RelocateCLINT(base) })
}

func (b *Builder) apply(g Group, fn func(*Descriptor)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return fmt.Errorf("set %s: %w", g, ErrFrozen)
	}
	fn(&b.desc)
	b.applied = append(b.applied, g)
	return nil
}

// Applied lists the groups overridden so far, in application order.
func (b *Builder) Applied() []Group {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Group(nil), b.applied...)
}

// Freeze validates the descriptor and returns its immutable form. The builder
// rejects every later override.
func (b *Builder) Freeze() (*Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return nil, ErrFrozen
	}
	if err := b.desc.Validate(); err != nil {
		return nil, err
	}
	b.frozen = true
	return &Config{desc: b.desc}, nil
}

// Validate checks that the IPI and timer hart ranges fit inside the
// platform's hart count.
func (d Descriptor) Validate() error {
	if d.HartCount == 0 {
		return fmt.Errorf("hw: hart count is zero")
	}
	if end := uint64(d.MSWI.FirstHartID) + uint64(d.MSWI.HartCount); end > uint64(d.HartCount) {
		return fmt.Errorf("hw: mswi harts %d..%d exceed platform hart count %d",
			d.MSWI.FirstHartID, end-1, d.HartCount)
	}
	if end := uint64(d.MTimer.FirstHartID) + uint64(d.MTimer.HartCount); end > uint64(d.HartCount) {
		return fmt.Errorf("hw: mtimer harts %d..%d exceed platform hart count %d",
			d.MTimer.FirstHartID, end-1, d.HartCount)
	}
	return nil
}

// Config is a frozen descriptor. It is safe for concurrent use by every hart.
type Config struct {
	desc Descriptor
}

// UART returns the console UART group.
func (c *Config) UART() UART { return c.desc.UART }

// PLIC returns the interrupt controller group.
func (c *Config) PLIC() PLIC { return c.desc.PLIC }

// MSWI returns the IPI group.
func (c *Config) MSWI() MSWI { return c.desc.MSWI }

// MTimer returns the timer group.
func (c *Config) MTimer() MTimer { return c.desc.MTimer }

// HartCount returns the number of harts the descriptor covers.
func (c *Config) HartCount() uint32 { return c.desc.HartCount }

// Descriptor returns a copy of the frozen fields.
func (c *Config) Descriptor() Descriptor {
	return c.desc
}
