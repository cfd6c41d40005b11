package hw

import (
	"errors"
	"testing"
)

func TestFreezeDefaults(t *testing.T) {
	cfg, err := NewBuilder(ArianeDefaults()).Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if cfg.Descriptor() != ArianeDefaults() {
		t.Fatalf("frozen descriptor differs from defaults:\n got %+v\nwant %+v", cfg.Descriptor(), ArianeDefaults())
	}

	u := cfg.UART()
	if u.Base != 0x1000_0000 || u.Baud != 115200 {
		t.Errorf("unexpected uart defaults: %+v", u)
	}
	if got := cfg.MSWI().Base; got != 0x0200_0000 {
		t.Errorf("mswi base = 0x%x", got)
	}
	if got := cfg.MTimer().MtimecmpAddr; got != 0x0200_4000 {
		t.Errorf("mtimecmp = 0x%x", got)
	}
	if got := cfg.MTimer().MtimeAddr; got != 0x0200_bff8 {
		t.Errorf("mtime = 0x%x", got)
	}
}

func TestSetCLINTBaseRelocatesThreeFields(t *testing.T) {
	b := NewBuilder(ArianeDefaults())
	const base = 0x0300_0000
	if err := b.SetCLINTBase(base); err != nil {
		t.Fatal(err)
	}
	cfg, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}

	if got, want := cfg.MSWI().Base, uint64(base+CLINTMSWIOffset); got != want {
		t.Errorf("mswi base = 0x%x, want 0x%x", got, want)
	}
	if got, want := cfg.MTimer().MtimeAddr, uint64(base+CLINTMTimerOffset+ACLINTDefaultMtimeOffset); got != want {
		t.Errorf("mtime = 0x%x, want 0x%x", got, want)
	}
	if got, want := cfg.MTimer().MtimecmpAddr, uint64(base+CLINTMTimerOffset+ACLINTDefaultMtimecmpOffset); got != want {
		t.Errorf("mtimecmp = 0x%x, want 0x%x", got, want)
	}

	// Nothing else moves.
	def := ArianeDefaults()
	if cfg.UART() != def.UART || cfg.PLIC() != def.PLIC || cfg.MTimer().Freq != def.MTimer.Freq {
		t.Errorf("clint relocation touched unrelated fields")
	}
}

func TestOverrideReplacesWholeGroup(t *testing.T) {
	b := NewBuilder(ArianeDefaults())
	if err := b.SetUART(UART{Base: 0x2000_0000, Freq: 50_000_000}); err != nil {
		t.Fatal(err)
	}
	cfg, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	u := cfg.UART()
	if u.Baud != 0 || u.RegShift != 0 || u.RegWidth != 0 {
		t.Fatalf("uart group mixed defaults with override: %+v", u)
	}
}

func TestFrozenRejectsOverrides(t *testing.T) {
	b := NewBuilder(ArianeDefaults())
	if _, err := b.Freeze(); err != nil {
		t.Fatal(err)
	}
	if err := b.SetTimebaseFrequency(10_000_000); !errors.Is(err, ErrFrozen) {
		t.Fatalf("override after freeze: got %v, want ErrFrozen", err)
	}
	if _, err := b.Freeze(); !errors.Is(err, ErrFrozen) {
		t.Fatalf("second freeze: got %v, want ErrFrozen", err)
	}
	if got := b.Applied(); len(got) != 0 {
		t.Fatalf("applied = %v", got)
	}
}

func TestValidateHartRange(t *testing.T) {
	d := ArianeDefaults()
	d.MTimer.FirstHartID = 1
	if _, err := NewBuilder(d).Freeze(); err == nil {
		t.Fatal("expected hart range error")
	}
}
