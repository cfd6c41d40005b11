// Package platform coordinates bring-up of the platform's console, interrupt
// controller, IPI and timer devices across harts.
//
// Bring-up has two phases per subsystem. The cold phase configures the
// device for the whole system and runs once, on the hart that performs cold
// boot. The warm phase configures the device for one hart and runs once on
// every hart, after the cold phase. The cold-boot hart also discovers the
// hardware before any subsystem comes up, and applies devicetree fixups and
// performance counter bindings after all of them have.
package platform

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/bringup/internal/console"
	"github.com/tinyrange/bringup/internal/csr"
	"github.com/tinyrange/bringup/internal/discovery"
	"github.com/tinyrange/bringup/internal/drivers/aclint"
	"github.com/tinyrange/bringup/internal/drivers/plic"
	"github.com/tinyrange/bringup/internal/fdt"
	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/mmio"
)

// Region is a physical address range.
type Region struct {
	Base uint64
	Size uint64
}

// Options configures a Platform.
type Options struct {
	Info Info
	// FirmwareVersion defaults to FirmwareVersion.
	FirmwareVersion string
	Defaults        hw.Descriptor

	Bus mmio.Accessor
	// CSRs returns the CSR file of a hart. It is required. FinalInit
	// programs the cold-boot hart's counters through it.
	CSRs func(hart uint32) csr.File

	// Image is the hardware description blob. When nil, discovery falls
	// back to defaults for every subsystem and no fixups are applied.
	Image *fdt.Image
	// Source overrides the discovery source derived from Image.
	Source discovery.Source

	// Firmware is the region reserved from supervisor software by fixups.
	Firmware Region

	Logger *slog.Logger
}

// Platform is the bring-up state shared by every hart of one boot cycle.
type Platform struct {
	info     Info
	bus      mmio.Accessor
	csrs     func(uint32) csr.File
	image    *fdt.Image
	source   discovery.Source
	firmware Region
	logger   *slog.Logger

	builder *hw.Builder
	cfg     atomic.Pointer[hw.Config]
	report  discovery.Report

	coldOwner atomic.Int64
	coldDone  atomic.Uint32
	finalDone atomic.Bool
	// warmDone[hart] has bit s set once subsystem s started its warm phase.
	warmDone []atomic.Uint32

	units [numSubsystems]unit

	consoleMu sync.RWMutex
	console   *console.Console
}

// New validates the platform record and prepares an uninitialized platform.
func New(opts Options) (*Platform, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("platform: no register bus")
	}
	if opts.CSRs == nil {
		return nil, fmt.Errorf("platform: no csr access")
	}
	firmware := opts.FirmwareVersion
	if firmware == "" {
		firmware = FirmwareVersion
	}
	if err := opts.Info.Validate(firmware); err != nil {
		return nil, err
	}
	if opts.Defaults.HartCount != opts.Info.HartCount {
		return nil, fmt.Errorf("platform: %s: descriptor has %d harts, platform has %d",
			opts.Info.Name, opts.Defaults.HartCount, opts.Info.HartCount)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Platform{
		info:     opts.Info,
		bus:      opts.Bus,
		csrs:     opts.CSRs,
		image:    opts.Image,
		source:   opts.Source,
		firmware: opts.Firmware,
		logger:   logger.With("platform", opts.Info.Name),
		builder:  hw.NewBuilder(opts.Defaults),
		warmDone: make([]atomic.Uint32, opts.Info.HartCount),
	}
	p.coldOwner.Store(-1)

	p.units[Console] = &consoleUnit{bus: opts.Bus, open: p.setConsole}
	p.units[IRQChip] = &irqchipUnit{ctrl: plic.New(opts.Bus)}
	p.units[IPI] = &ipiUnit{mswi: aclint.NewMSWI(opts.Bus)}
	p.units[Timer] = &timerUnit{mtimer: aclint.NewMTimer(opts.Bus)}
	return p, nil
}

// Info returns the platform record.
func (p *Platform) Info() Info {
	return p.info
}

// Config returns the frozen descriptor, or nil before cold-boot early init.
func (p *Platform) Config() *hw.Config {
	return p.cfg.Load()
}

// Discovery returns the outcome of each discovery query.
func (p *Platform) Discovery() discovery.Report {
	if p.cfg.Load() == nil {
		return nil
	}
	return p.report
}

// Console returns the console once its cold phase has run, or nil.
func (p *Platform) Console() *console.Console {
	p.consoleMu.RLock()
	defer p.consoleMu.RUnlock()
	return p.console
}

func (p *Platform) setConsole(c *console.Console) {
	p.consoleMu.Lock()
	p.console = c
	p.consoleMu.Unlock()
}

// ColdBootHart returns the hart that claimed cold boot.
func (p *Platform) ColdBootHart() (uint32, bool) {
	owner := p.coldOwner.Load()
	if owner < 0 {
		return 0, false
	}
	return uint32(owner), true
}

func (p *Platform) checkHart(hart uint32) error {
	if hart >= p.info.HartCount {
		return fmt.Errorf("hart %d of %d: %w", hart, p.info.HartCount, ErrHartOutOfRange)
	}
	return nil
}
