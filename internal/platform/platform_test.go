package platform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tinyrange/bringup/internal/csr"
	"github.com/tinyrange/bringup/internal/drivers/plic"
	"github.com/tinyrange/bringup/internal/fdt"
	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/pmu"
	"github.com/tinyrange/bringup/internal/sbierr"
	"github.com/tinyrange/bringup/internal/soc"
	"github.com/tinyrange/bringup/internal/timeslice"
)

type testRig struct {
	board *soc.Board
	out   *bytes.Buffer
	plat  *Platform
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newRig builds a simulated board from l and a platform with Ariane
// defaults. withDTB hands the board's devicetree to discovery.
func newRig(t *testing.T, l soc.Layout, withDTB bool, mutate func(*Options)) *testRig {
	t.Helper()
	var out bytes.Buffer
	b, err := soc.NewBoard(l, &out)
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	opts := Options{
		Info:     Ariane(),
		Defaults: hw.ArianeDefaults(),
		Bus:      b.Bus,
		CSRs:     func(h uint32) csr.File { return b.CSR(h) },
		Firmware: Region{Base: l.RAMBase, Size: 0x4_0000},
		Logger:   quietLogger(),
	}
	if withDTB {
		blob, err := b.DeviceTreeBlob(soc.DeviceTreeOptions{})
		if err != nil {
			t.Fatalf("DeviceTreeBlob: %v", err)
		}
		opts.Image = fdt.NewImage(blob)
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testRig{board: b, out: &out, plat: p}
}

func bootAll(t *testing.T, p *Platform) {
	t.Helper()
	if err := p.Boot(0, ColdBoot); err != nil {
		t.Fatalf("cold boot: %v", err)
	}
	if err := p.Boot(1, WarmBoot); err != nil {
		t.Fatalf("warm boot: %v", err)
	}
}

func TestBootWithDefaultsOnly(t *testing.T) {
	r := newRig(t, soc.ArianeLayout(), false, nil)
	bootAll(t, r.plat)

	if got := r.plat.Config().Descriptor(); got != hw.ArianeDefaults() {
		t.Fatalf("descriptor:\n got %+v\nwant %+v", got, hw.ArianeDefaults())
	}
	if n := len(r.plat.Discovery().Failed()); n != 4 {
		t.Errorf("failed queries = %d, want 4", n)
	}

	if _, err := r.plat.Console().WriteString("booted\n"); err != nil {
		t.Fatal(err)
	}
	if r.out.String() != "booted\n" {
		t.Errorf("console output = %q", r.out.String())
	}
	for h := 0; h < 2; h++ {
		if got := r.board.CLINT.Mtimecmp(h); got != ^uint64(0) {
			t.Errorf("hart %d mtimecmp = 0x%x", h, got)
		}
	}
}

func TestWarmHartSeesDiscoveredDescriptor(t *testing.T) {
	l := soc.ArianeLayout()
	l.UARTBase = 0x1800_0000
	l.CLINTBase = 0x0300_0000
	r := newRig(t, l, true, nil)
	bootAll(t, r.plat)

	cfg := r.plat.Config()
	if cfg.UART().Base != l.UARTBase || cfg.MSWI().Base != l.CLINTBase {
		t.Fatalf("descriptor not refined: uart 0x%x mswi 0x%x", cfg.UART().Base, cfg.MSWI().Base)
	}
	// The board only decodes the moved addresses, so hart 1's compare
	// register is only parked if its warm phase used the discovered ones.
	if got := r.board.CLINT.Mtimecmp(1); got != ^uint64(0) {
		t.Fatalf("hart 1 mtimecmp = 0x%x", got)
	}
}

func TestContextIDs(t *testing.T) {
	for hart := uint32(0); hart < 8; hart++ {
		m, s := ContextIDs(hart)
		if m != 2*int(hart) || s != 2*int(hart)+1 {
			t.Errorf("ContextIDs(%d) = %d, %d", hart, m, s)
		}
	}
}

func TestIRQChipWarmOnHartOne(t *testing.T) {
	r := newRig(t, soc.ArianeLayout(), false, nil)
	bootAll(t, r.plat)

	pl := r.board.PLIC
	for _, tc := range []struct {
		ctx       int
		threshold uint32
	}{
		{2, 1},
		{3, 0},
	} {
		if got := pl.Enable(tc.ctx, 0); got != 0xffffffff {
			t.Errorf("context %d enable word 0 = 0x%x", tc.ctx, got)
		}
		if got := pl.Enable(tc.ctx, 1); got != 0 {
			t.Errorf("context %d enable word 1 = 0x%x, want untouched", tc.ctx, got)
		}
		if got := pl.Threshold(tc.ctx); got != tc.threshold {
			t.Errorf("context %d threshold = %d, want %d", tc.ctx, got, tc.threshold)
		}
	}
}

func TestNegativeContextSkipped(t *testing.T) {
	b, err := soc.NewBoard(soc.ArianeLayout(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctrl := plic.New(b.Bus)
	cfg := hw.ArianeDefaults().PLIC

	if err := plicWarmInit(ctrl, cfg, -1, -1); err != nil {
		t.Fatal(err)
	}
	for ctx := 0; ctx < b.PLIC.Contexts(); ctx++ {
		if b.PLIC.Touched(ctx) {
			t.Fatalf("context %d touched", ctx)
		}
	}

	if err := plicWarmInit(ctrl, cfg, -1, 3); err != nil {
		t.Fatal(err)
	}
	for ctx := 0; ctx < b.PLIC.Contexts(); ctx++ {
		if got := b.PLIC.Touched(ctx); got != (ctx == 3) {
			t.Errorf("context %d touched = %v", ctx, got)
		}
	}
}

func TestColdFailureStopsWarmPhase(t *testing.T) {
	r := newRig(t, soc.ArianeLayout(), false, func(o *Options) {
		o.Defaults.PLIC.NumSources = 2000
	})
	p := r.plat

	if err := p.EarlyInit(0, ColdBoot); err != nil {
		t.Fatal(err)
	}
	if err := p.BringUp(Console, ColdBoot, 0); err != nil {
		t.Fatal(err)
	}
	err := p.BringUp(IRQChip, ColdBoot, 0)

	var perr *Error
	if !errors.As(err, &perr) || perr.Subsystem != IRQChip || perr.Phase != PhaseCold || perr.Hart != 0 {
		t.Fatalf("got %v, want irqchip cold init error", err)
	}
	var code sbierr.Code
	if !errors.As(err, &code) || code != sbierr.ErrInvalidParam {
		t.Fatalf("driver code = %v, want %v", code, sbierr.ErrInvalidParam)
	}
	for ctx := 0; ctx < r.board.PLIC.Contexts(); ctx++ {
		if r.board.PLIC.Touched(ctx) {
			t.Fatalf("warm phase ran on context %d", ctx)
		}
	}

	if err := p.BringUp(IRQChip, WarmBoot, 1); !errors.Is(err, ErrNotReleased) {
		t.Errorf("warm hart after cold failure: %v", err)
	}
	if err := p.BringUp(IPI, ColdBoot, 0); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("next subsystem after cold failure: %v", err)
	}
}

func TestSecondColdBootRejected(t *testing.T) {
	r := newRig(t, soc.ArianeLayout(), false, nil)
	p := r.plat
	if err := p.EarlyInit(0, ColdBoot); err != nil {
		t.Fatal(err)
	}
	if err := p.EarlyInit(1, ColdBoot); !errors.Is(err, ErrColdBootClaimed) {
		t.Fatalf("second EarlyInit: %v", err)
	}
	if err := p.BringUp(Console, ColdBoot, 1); !errors.Is(err, ErrColdBootClaimed) {
		t.Fatalf("cold bring-up from other hart: %v", err)
	}
	if owner, ok := p.ColdBootHart(); !ok || owner != 0 {
		t.Fatalf("cold boot hart = %d, %v", owner, ok)
	}

	if err := p.Boot(0, ColdBoot); !errors.Is(err, ErrColdBootClaimed) {
		t.Fatalf("re-running cold boot: %v", err)
	}
}

func TestRepeatedWarmRejected(t *testing.T) {
	r := newRig(t, soc.ArianeLayout(), false, nil)
	p := r.plat
	bootAll(t, p)

	if err := p.BringUp(Console, WarmBoot, 0); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second console warm on hart 0: %v", err)
	}
	err := p.Boot(1, WarmBoot)
	var perr *Error
	if !errors.As(err, &perr) || perr.Subsystem != Console || !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second warm boot of hart 1: %v", err)
	}
}

func TestOrderEnforced(t *testing.T) {
	r := newRig(t, soc.ArianeLayout(), false, nil)
	p := r.plat
	if err := p.BringUp(Console, WarmBoot, 1); !errors.Is(err, ErrNotReleased) {
		t.Fatalf("bring-up before early init: %v", err)
	}
	if err := p.EarlyInit(0, ColdBoot); err != nil {
		t.Fatal(err)
	}
	if err := p.BringUp(Timer, ColdBoot, 0); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("timer first: %v", err)
	}
	if err := p.FinalInit(0, ColdBoot); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("final init before cold phases: %v", err)
	}
	if err := p.BringUp(Console, ColdBoot, 5); !errors.Is(err, ErrHartOutOfRange) {
		t.Fatalf("hart 5: %v", err)
	}
}

func TestPMUOnlyOnColdHart(t *testing.T) {
	r := newRig(t, soc.ArianeLayout(), false, nil)
	bootAll(t, r.plat)

	writes := r.board.CSR(0).Writes()
	if len(writes) != 4+len(pmu.Bindings) {
		t.Fatalf("cold hart csr writes = %d", len(writes))
	}
	for i, b := range pmu.Bindings {
		w := writes[4+i]
		if w.Num != csr.Mhpmevent(b.Counter) || w.Value != uint64(b.Event) {
			t.Errorf("write %d = %s=0x%x", 4+i, csr.Name(w.Num), w.Value)
		}
	}
	if got := r.board.CSR(0).Read(csr.Mcountinhibit); got != 0 {
		t.Errorf("mcountinhibit = 0x%x", got)
	}
	if n := len(r.board.CSR(1).Writes()); n != 0 {
		t.Errorf("warm hart csr writes = %d", n)
	}

	if err := r.plat.FinalInit(0, ColdBoot); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second final init: %v", err)
	}
}

func TestFinalInitAppliesFixups(t *testing.T) {
	l := soc.ArianeLayout()
	l.Harts = 3
	r := newRig(t, l, true, nil)
	bootAll(t, r.plat)

	tree, err := r.plat.image.Tree()
	if err != nil {
		t.Fatal(err)
	}
	cpu, err := tree.Path("/cpus/cpu@2")
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := cpu.Prop("status"); p.StringList()[0] != "disabled" {
		t.Errorf("cpu@2 status = %v", p.StringList())
	}
	if _, err := tree.Path("/reserved-memory/mmode_resv0@80000000"); err != nil {
		t.Errorf("firmware region not reserved: %v", err)
	}
	node, _, err := tree.FindCompatible("riscv,plic0")
	if err != nil {
		t.Fatal(err)
	}
	p, _ := node.Prop("interrupts-extended")
	cells, _ := p.Cells()
	if cells[1] != 0xffffffff {
		t.Errorf("plic m-mode entry = 0x%x", cells[1])
	}
}

func TestInfoValidate(t *testing.T) {
	info := Ariane()
	if err := info.Validate(FirmwareVersion); err != nil {
		t.Fatalf("Ariane: %v", err)
	}
	if info.VersionString() != "0.1" {
		t.Errorf("version = %s", info.VersionString())
	}
	if err := info.Validate("v0.5.2"); err == nil {
		t.Error("platform for newer firmware accepted")
	}
	if err := info.Validate("0.6"); err == nil {
		t.Error("invalid firmware version accepted")
	}
	info.HartCount = 0
	if err := info.Validate(FirmwareVersion); err == nil {
		t.Error("zero harts accepted")
	}
	if got := DefaultFeatures.String(); got != "timer_value,hart_hotplug,pmp,scounteren,mcounteren,mfaults_delegation" {
		t.Errorf("features = %s", got)
	}
}

func TestBootRecordsTimeslices(t *testing.T) {
	var buf bytes.Buffer
	log, err := timeslice.Open(&buf)
	if err != nil {
		t.Fatal(err)
	}
	r := newRig(t, soc.ArianeLayout(), false, nil)
	bootAll(t, r.plat)
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	var names []string
	if err := timeslice.ReadAll(&buf, func(e timeslice.Entry) error {
		names = append(names, fmt.Sprintf("%d %s", e.Hart, e.Kind.Name))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"0 cold early init", "0 cold console", "0 cold irqchip", "0 cold ipi", "0 cold timer", "0 cold final init",
		"1 warm early init", "1 warm console", "1 warm irqchip", "1 warm ipi", "1 warm timer", "1 warm final init",
	}
	if strings.Join(names, "|") != strings.Join(want, "|") {
		t.Fatalf("slices:\n got %v\nwant %v", names, want)
	}
}

func TestBootWithBlobLackingCPUs(t *testing.T) {
	l := soc.ArianeLayout()
	src, err := soc.NewBoard(l, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	stripped, err := src.DeviceTreeBlob(soc.DeviceTreeOptions{OmitUART: true, OmitPLIC: true, OmitCLINT: true, OmitCPUs: true})
	if err != nil {
		t.Fatal(err)
	}
	bare, err := fdt.Build(fdt.Node{Properties: map[string]fdt.Property{
		"#address-cells": {U32: []uint32{2}},
		"#size-cells":    {U32: []uint32{2}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	for name, blob := range map[string][]byte{"no devices": stripped, "bare root": bare} {
		r := newRig(t, l, false, func(o *Options) { o.Image = fdt.NewImage(blob) })
		bootAll(t, r.plat)

		if got := r.plat.Config().Descriptor(); got != hw.ArianeDefaults() {
			t.Errorf("%s: descriptor:\n got %+v\nwant %+v", name, got, hw.ArianeDefaults())
		}
		if n := len(r.plat.Discovery().Failed()); n != 4 {
			t.Errorf("%s: failed queries = %d, want 4", name, n)
		}
		tree, err := r.plat.image.Tree()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if _, err := tree.Path("/reserved-memory/mmode_resv0@80000000"); err != nil {
			t.Errorf("%s: firmware region not reserved: %v", name, err)
		}
	}
}

func TestNewRequiresCSRs(t *testing.T) {
	b, err := soc.NewBoard(soc.ArianeLayout(), io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(Options{
		Info:     Ariane(),
		Defaults: hw.ArianeDefaults(),
		Bus:      b.Bus,
		Logger:   quietLogger(),
	})
	if err == nil {
		t.Fatal("New accepted options without csr access")
	}
}

func TestFinalInitWarnsWithoutCSRFile(t *testing.T) {
	var logs bytes.Buffer
	r := newRig(t, soc.ArianeLayout(), false, func(o *Options) {
		o.CSRs = func(uint32) csr.File { return nil }
		o.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	})
	bootAll(t, r.plat)

	if !strings.Contains(logs.String(), "performance counters left unprogrammed") {
		t.Errorf("missing warning, logs:\n%s", logs.String())
	}
	if n := len(r.board.CSR(0).Writes()); n != 0 {
		t.Errorf("csr writes = %d", n)
	}
}
