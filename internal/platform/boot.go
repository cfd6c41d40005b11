package platform

import (
	"fmt"

	"github.com/tinyrange/bringup/internal/discovery"
	"github.com/tinyrange/bringup/internal/fdt"
	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/pmu"
	"github.com/tinyrange/bringup/internal/timeslice"
)

const allCold = uint32(1)<<numSubsystems - 1

type sliceKinds struct {
	early     timeslice.KindID
	subsystem [numSubsystems]timeslice.KindID
	final     timeslice.KindID
}

var coldSlices, warmSlices = registerSlices(ColdBoot), registerSlices(WarmBoot)

func registerSlices(role Role) sliceKinds {
	flags := timeslice.FlagWarm
	if role == ColdBoot {
		flags |= timeslice.FlagCold
	}
	k := sliceKinds{
		early: timeslice.RegisterKind(role.String()+" early init", flags),
		final: timeslice.RegisterKind(role.String()+" final init", flags),
	}
	for _, s := range Subsystems {
		k.subsystem[s] = timeslice.RegisterKind(role.String()+" "+s.String(), flags)
	}
	return k
}

// EarlyInit claims cold boot for hart when role is ColdBoot, refines the
// descriptor from the hardware description and freezes it. It does nothing
// on other harts.
func (p *Platform) EarlyInit(hart uint32, role Role) error {
	if err := p.checkHart(hart); err != nil {
		return err
	}
	if role != ColdBoot {
		return nil
	}
	if !p.coldOwner.CompareAndSwap(-1, int64(hart)) {
		owner, _ := p.ColdBootHart()
		return fmt.Errorf("hart %d: owner is hart %d: %w", hart, owner, ErrColdBootClaimed)
	}

	src := p.source
	if src == nil {
		src = p.imageSource()
	}
	report, err := discovery.Apply(src, p.builder, p.logger)
	if err != nil {
		return err
	}
	cfg, err := p.builder.Freeze()
	if err != nil {
		return fmt.Errorf("platform: freeze descriptor: %w", err)
	}
	p.report = report
	p.cfg.Store(cfg)

	p.logger.Debug("descriptor frozen", "hart", hart, "discovered", report.Applied(), "defaulted", len(report.Failed()))
	return nil
}

func (p *Platform) imageSource() discovery.Source {
	if p.image == nil {
		return discovery.NewFDTSource(nil)
	}
	tree, err := p.image.Tree()
	if err != nil {
		p.logger.Debug("devicetree unreadable, using defaults", "error", err)
		return discovery.NewFDTSource(nil)
	}
	return discovery.NewFDTSource(tree)
}

// BringUp runs subsystem s on hart. On the cold-boot hart the cold phase runs
// first and its failure is returned without attempting the warm phase. The
// warm phase then runs for hart. A hart must bring subsystems up in order and
// each subsystem only once.
func (p *Platform) BringUp(s Subsystem, role Role, hart uint32) error {
	if !s.valid() {
		return fmt.Errorf("platform: unknown subsystem %d", int(s))
	}
	if err := p.checkHart(hart); err != nil {
		return err
	}
	cfg := p.cfg.Load()
	if cfg == nil {
		phase := PhaseWarm
		if role == ColdBoot {
			phase = PhaseCold
		}
		return &Error{Subsystem: s, Phase: phase, Hart: hart, Err: ErrNotReleased}
	}

	if role == ColdBoot {
		if err := p.coldInit(cfg, s, hart); err != nil {
			return err
		}
	}
	return p.warmInit(cfg, s, hart)
}

func (p *Platform) coldInit(cfg *hw.Config, s Subsystem, hart uint32) error {
	if owner, ok := p.ColdBootHart(); !ok || owner != hart {
		return &Error{Subsystem: s, Phase: PhaseCold, Hart: hart, Err: ErrColdBootClaimed}
	}
	bit := uint32(1) << s
	done := p.coldDone.Load()
	if done&bit != 0 {
		return &Error{Subsystem: s, Phase: PhaseCold, Hart: hart, Err: ErrAlreadyInitialized}
	}
	if done != bit-1 {
		return &Error{Subsystem: s, Phase: PhaseCold, Hart: hart, Err: ErrOutOfOrder}
	}

	p.logger.Debug("cold init", "subsystem", s, "hart", hart)
	if err := p.units[s].coldInit(cfg); err != nil {
		return &Error{Subsystem: s, Phase: PhaseCold, Hart: hart, Err: err}
	}
	p.coldDone.Or(bit)
	return nil
}

func (p *Platform) warmInit(cfg *hw.Config, s Subsystem, hart uint32) error {
	bit := uint32(1) << s
	if p.coldDone.Load()&bit == 0 {
		return &Error{Subsystem: s, Phase: PhaseWarm, Hart: hart, Err: ErrNotReleased}
	}

	done := &p.warmDone[hart]
	for {
		old := done.Load()
		if old&bit != 0 {
			return &Error{Subsystem: s, Phase: PhaseWarm, Hart: hart, Err: ErrAlreadyInitialized}
		}
		if old != bit-1 {
			return &Error{Subsystem: s, Phase: PhaseWarm, Hart: hart, Err: ErrOutOfOrder}
		}
		if done.CompareAndSwap(old, old|bit) {
			break
		}
	}

	p.logger.Debug("warm init", "subsystem", s, "hart", hart)
	if err := p.units[s].warmInit(cfg, hart); err != nil {
		return &Error{Subsystem: s, Phase: PhaseWarm, Hart: hart, Err: err}
	}
	return nil
}

// FinalInit patches the hardware description and programs the performance
// counters of the cold-boot hart once every subsystem's cold phase has run.
// It does nothing on other harts.
func (p *Platform) FinalInit(hart uint32, role Role) error {
	if err := p.checkHart(hart); err != nil {
		return err
	}
	if role != ColdBoot {
		return nil
	}
	if owner, ok := p.ColdBootHart(); !ok || owner != hart {
		return &Error{Phase: PhaseFinal, Hart: hart, Err: ErrColdBootClaimed}
	}
	if p.coldDone.Load() != allCold {
		return &Error{Phase: PhaseFinal, Hart: hart, Err: ErrOutOfOrder}
	}
	if !p.finalDone.CompareAndSwap(false, true) {
		return &Error{Phase: PhaseFinal, Hart: hart, Err: ErrAlreadyInitialized}
	}

	if err := p.fixup(); err != nil {
		return &Error{Phase: PhaseFinal, Hart: hart, Err: err}
	}
	if f := p.csrs(hart); f != nil {
		pmu.Program(f)
	} else {
		p.logger.Warn("no csr file for cold-boot hart, performance counters left unprogrammed", "hart", hart)
	}
	p.logger.Info("cold boot complete", "hart", hart)
	return nil
}

func (p *Platform) fixup() error {
	if p.image == nil {
		return nil
	}
	tree, err := p.image.Tree()
	if err != nil {
		p.logger.Debug("devicetree unreadable, skipping fixups", "error", err)
		return nil
	}
	fdt.Fixup(tree, fdt.FixupConfig{
		HartCount:    p.Config().HartCount(),
		FirmwareBase: p.firmware.Base,
		FirmwareSize: p.firmware.Size,
		Logger:       p.logger,
	})
	return p.image.Update(tree)
}

// Boot runs a hart's whole bring-up: early init, every subsystem in order,
// then final init. Non-cold harts must only call Boot after the cold-boot
// hart's Boot returned.
func (p *Platform) Boot(hart uint32, role Role) error {
	slices := warmSlices
	if role == ColdBoot {
		slices = coldSlices
	}
	rec := timeslice.NewRecorder(hart)

	if err := p.EarlyInit(hart, role); err != nil {
		return err
	}
	rec.Record(slices.early)
	for _, s := range Subsystems {
		if err := p.BringUp(s, role, hart); err != nil {
			return err
		}
		rec.Record(slices.subsystem[s])
	}
	if err := p.FinalInit(hart, role); err != nil {
		return err
	}
	rec.Record(slices.final)
	p.logger.Debug("hart ready", "hart", hart, "role", role)
	return nil
}
