package discovery

import (
	"errors"
	"testing"

	"github.com/tinyrange/bringup/internal/fdt"
	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/soc"
)

// movedLayout differs from the compiled-in defaults in every discoverable
// field.
func movedLayout() soc.Layout {
	l := soc.ArianeLayout()
	l.UARTBase = 0x1800_0000
	l.UARTClock = 50_000_000
	l.UARTBaud = 57600
	l.UARTRegShift = 0
	l.UARTRegWidth = 1
	l.PLICBase = 0x0d00_0000
	l.PLICSources = 40
	l.CLINTBase = 0x0300_0000
	l.TimebaseFreq = 25_000_000
	return l
}

func boardTree(t *testing.T, l soc.Layout, opts soc.DeviceTreeOptions) *fdt.Tree {
	t.Helper()
	b, err := soc.NewBoard(l, nil)
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	blob, err := b.DeviceTreeBlob(opts)
	if err != nil {
		t.Fatalf("DeviceTreeBlob: %v", err)
	}
	tree, err := fdt.Parse(blob)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return tree
}

func discover(t *testing.T, tree *fdt.Tree) (hw.Descriptor, Report) {
	t.Helper()
	b := hw.NewBuilder(hw.ArianeDefaults())
	report, err := Apply(NewFDTSource(tree), b, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	cfg, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return cfg.Descriptor(), report
}

func TestAllQueriesFailKeepsDefaults(t *testing.T) {
	for name, tree := range map[string]*fdt.Tree{
		"nil":   nil,
		"empty": {Root: fdt.Node{}},
	} {
		d, report := discover(t, tree)
		if d != hw.ArianeDefaults() {
			t.Errorf("%s: descriptor changed:\n got %+v\nwant %+v", name, d, hw.ArianeDefaults())
		}
		if len(report) != 4 || len(report.Failed()) != 4 {
			t.Errorf("%s: report = %+v", name, report)
		}
		for _, res := range report {
			if !errors.Is(res.Err, ErrNotFound) {
				t.Errorf("%s: %s: got %v, want ErrNotFound", name, res.Group, res.Err)
			}
		}
	}
}

func TestFullDiscovery(t *testing.T) {
	l := movedLayout()
	d, report := discover(t, boardTree(t, l, soc.DeviceTreeOptions{}))
	if len(report.Failed()) != 0 {
		t.Fatalf("failures: %+v", report.Failed())
	}

	want := hw.UART{Base: l.UARTBase, Freq: l.UARTClock, Baud: l.UARTBaud, RegShift: 0, RegWidth: 1}
	if d.UART != want {
		t.Errorf("uart = %+v, want %+v", d.UART, want)
	}
	if d.PLIC != (hw.PLIC{Base: l.PLICBase, NumSources: l.PLICSources}) {
		t.Errorf("plic = %+v", d.PLIC)
	}
	if d.MTimer.Freq != l.TimebaseFreq {
		t.Errorf("timebase = %d", d.MTimer.Freq)
	}
	if d.MSWI.Base != l.CLINTBase {
		t.Errorf("mswi base = 0x%x", d.MSWI.Base)
	}
}

func TestUARTNotFoundKeepsUARTDefaults(t *testing.T) {
	d, report := discover(t, boardTree(t, movedLayout(), soc.DeviceTreeOptions{OmitUART: true}))
	if d.UART != hw.ArianeDefaults().UART {
		t.Fatalf("uart = %+v, want defaults", d.UART)
	}
	if d.UART.Base != 0x1000_0000 || d.UART.Baud != 115200 {
		t.Fatalf("uart base/baud = 0x%x/%d", d.UART.Base, d.UART.Baud)
	}
	if !errors.Is(report[0].Err, ErrNotFound) || report[0].Group != hw.GroupUART {
		t.Fatalf("uart result = %+v", report[0])
	}
	if got := report.Applied(); len(got) != 3 {
		t.Fatalf("applied = %v", got)
	}
}

func TestCLINTOnlyRelocatesTimerAndIPI(t *testing.T) {
	l := movedLayout()
	d, report := discover(t, boardTree(t, l, soc.DeviceTreeOptions{
		OmitUART:     true,
		OmitPLIC:     true,
		OmitTimebase: true,
	}))
	if got := report.Applied(); len(got) != 1 || got[0] != hw.GroupCLINT {
		t.Fatalf("applied = %v", got)
	}

	want := hw.ArianeDefaults()
	want.MSWI.Base = l.CLINTBase + hw.CLINTMSWIOffset
	want.MTimer.MtimeAddr = l.CLINTBase + hw.CLINTMTimerOffset + hw.ACLINTDefaultMtimeOffset
	want.MTimer.MtimecmpAddr = l.CLINTBase + hw.CLINTMTimerOffset + hw.ACLINTDefaultMtimecmpOffset
	if d != want {
		t.Fatalf("descriptor:\n got %+v\nwant %+v", d, want)
	}
}

func TestMalformedRecordLeavesGroupUntouched(t *testing.T) {
	tree := boardTree(t, movedLayout(), soc.DeviceTreeOptions{})
	plic, _, err := tree.FindCompatible(PLICCompatible)
	if err != nil {
		t.Fatal(err)
	}
	plic.Set("riscv,ndev", fdt.Property{U32: []uint32{0, 40}})

	uart, _, err := tree.FindCompatible(UARTCompatible)
	if err != nil {
		t.Fatal(err)
	}
	uart.Set("reg-io-width", fdt.Property{Bytes: []byte{1}})

	d, report := discover(t, tree)
	if d.PLIC != hw.ArianeDefaults().PLIC {
		t.Errorf("plic = %+v, want defaults", d.PLIC)
	}
	if d.UART != hw.ArianeDefaults().UART {
		t.Errorf("uart mixed discovered and default fields: %+v", d.UART)
	}
	for _, res := range report.Failed() {
		if !errors.Is(res.Err, ErrMalformed) {
			t.Errorf("%s: got %v, want ErrMalformed", res.Group, res.Err)
		}
	}
	if len(report.Failed()) != 2 {
		t.Errorf("failed = %+v", report.Failed())
	}
}

func TestUARTOptionalProperties(t *testing.T) {
	tree := boardTree(t, movedLayout(), soc.DeviceTreeOptions{})
	uart, _, _ := tree.FindCompatible(UARTCompatible)
	for _, name := range []string{"current-speed", "reg-shift", "reg-io-width"} {
		delete(uart.Properties, name)
	}
	u, err := NewFDTSource(tree).UART(UARTCompatible)
	if err != nil {
		t.Fatal(err)
	}
	if u.Baud != 115200 || u.RegShift != 0 || u.RegWidth != 1 {
		t.Errorf("uart = %+v", u)
	}

	delete(uart.Properties, "clock-frequency")
	if _, err := NewFDTSource(tree).UART(UARTCompatible); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing clock-frequency: got %v", err)
	}
}

func TestApplyAfterFreeze(t *testing.T) {
	b := hw.NewBuilder(hw.ArianeDefaults())
	if _, err := b.Freeze(); err != nil {
		t.Fatal(err)
	}
	tree := boardTree(t, movedLayout(), soc.DeviceTreeOptions{})
	if _, err := Apply(NewFDTSource(tree), b, nil); !errors.Is(err, hw.ErrFrozen) {
		t.Fatalf("got %v, want ErrFrozen", err)
	}
}
