package platform

import (
	"fmt"

	"github.com/tinyrange/bringup/internal/console"
	"github.com/tinyrange/bringup/internal/drivers/aclint"
	"github.com/tinyrange/bringup/internal/drivers/plic"
	"github.com/tinyrange/bringup/internal/drivers/uart8250"
	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/mmio"
)

// Subsystem is one of the platform devices brought up on every hart.
type Subsystem int

// Subsystems in bring-up order.
const (
	Console Subsystem = iota
	IRQChip
	IPI
	Timer

	numSubsystems
)

// Subsystems lists every subsystem in the order a hart brings them up.
var Subsystems = [...]Subsystem{Console, IRQChip, IPI, Timer}

func (s Subsystem) String() string {
	switch s {
	case Console:
		return "console"
	case IRQChip:
		return "irqchip"
	case IPI:
		return "ipi"
	case Timer:
		return "timer"
	default:
		return fmt.Sprintf("Subsystem(%d)", int(s))
	}
}

func (s Subsystem) valid() bool {
	return s >= Console && s < numSubsystems
}

// Role tells the coordinator whether the calling hart performs cold boot.
type Role bool

const (
	WarmBoot Role = false
	ColdBoot Role = true
)

func (r Role) String() string {
	if r == ColdBoot {
		return "cold"
	}
	return "warm"
}

// ContextIDs returns hart's machine-mode and supervisor-mode PLIC contexts.
// A negative id means the hart has no context at that privilege level.
func ContextIDs(hart uint32) (mctx, sctx int) {
	return 2 * int(hart), 2*int(hart) + 1
}

// unit is the cold/warm entry point pair for one subsystem.
type unit interface {
	coldInit(cfg *hw.Config) error
	warmInit(cfg *hw.Config, hart uint32) error
}

type consoleUnit struct {
	bus  mmio.Accessor
	open func(*console.Console)
}

func (u *consoleUnit) coldInit(cfg *hw.Config) error {
	port, err := uart8250.Init(u.bus, cfg.UART())
	if err != nil {
		return err
	}
	u.open(console.New(port))
	return nil
}

func (u *consoleUnit) warmInit(*hw.Config, uint32) error { return nil }

type irqchipUnit struct {
	ctrl *plic.Controller
}

func (u *irqchipUnit) coldInit(cfg *hw.Config) error {
	return u.ctrl.ColdInit(cfg.PLIC())
}

func (u *irqchipUnit) warmInit(cfg *hw.Config, hart uint32) error {
	mctx, sctx := ContextIDs(hart)
	return plicWarmInit(u.ctrl, cfg.PLIC(), mctx, sctx)
}

// plicWarmInit opens every source to the machine context and enables every
// source at the supervisor context but masks it with threshold 0 until the
// supervisor raises it.
func plicWarmInit(c *plic.Controller, p hw.PLIC, mctx, sctx int) error {
	for _, ctx := range []struct {
		id        int
		threshold uint32
	}{
		{mctx, 1},
		{sctx, 0},
	} {
		if ctx.id < 0 {
			continue
		}
		for w := 0; w < p.IEWords(); w++ {
			if err := c.SetIE(p, ctx.id, w, true); err != nil {
				return err
			}
		}
		if err := c.SetThreshold(p, ctx.id, ctx.threshold); err != nil {
			return err
		}
	}
	return nil
}

type ipiUnit struct {
	mswi *aclint.MSWI
}

func (u *ipiUnit) coldInit(cfg *hw.Config) error {
	return u.mswi.ColdInit(cfg.MSWI())
}

func (u *ipiUnit) warmInit(_ *hw.Config, hart uint32) error {
	return u.mswi.WarmInit(hart)
}

type timerUnit struct {
	mtimer *aclint.MTimer
}

func (u *timerUnit) coldInit(cfg *hw.Config) error {
	return u.mtimer.ColdInit(cfg.MTimer())
}

func (u *timerUnit) warmInit(_ *hw.Config, hart uint32) error {
	return u.mtimer.WarmInit(hart)
}
