package fdt

import (
	"errors"
	"testing"
)

func testTree() Node {
	return Node{
		Name: "",
		Properties: map[string]Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{"eth,ariane-bare-dev"}},
		},
		Children: []Node{
			{
				Name: "cpus",
				Properties: map[string]Property{
					"#address-cells":     {U32: []uint32{1}},
					"#size-cells":        {U32: []uint32{0}},
					"timebase-frequency": {U32: []uint32{25_000_000}},
				},
				Children: []Node{
					{Name: "cpu@0", Properties: map[string]Property{"reg": {U32: []uint32{0}}, "status": {Strings: []string{"okay"}}}},
					{Name: "cpu@1", Properties: map[string]Property{"reg": {U32: []uint32{1}}, "status": {Strings: []string{"okay"}}}},
					{Name: "cpu@2", Properties: map[string]Property{"reg": {U32: []uint32{2}}, "status": {Strings: []string{"okay"}}}},
				},
			},
			{
				Name: "soc",
				Properties: map[string]Property{
					"#address-cells": {U32: []uint32{2}},
					"#size-cells":    {U32: []uint32{2}},
					"ranges":         {Flag: true},
				},
				Children: []Node{
					{
						Name: "interrupt-controller@c000000",
						Properties: map[string]Property{
							"compatible":          {Strings: []string{"riscv,plic0"}},
							"reg":                 RegCells(0xc000000, 0x4000000),
							"riscv,ndev":          {U32: []uint32{30}},
							"interrupts-extended": {U32: []uint32{1, 11, 1, 9, 2, 11, 2, 9}},
						},
					},
				},
			},
		},
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	blob, err := BuildWithReservations(testTree(), []Reservation{{Address: 0x8000_0000, Size: 0x20_0000}}, 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tree, err := Parse(blob)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tree.BootCPU != 1 {
		t.Errorf("boot cpu = %d", tree.BootCPU)
	}
	if len(tree.Reservations) != 1 || tree.Reservations[0].Size != 0x20_0000 {
		t.Errorf("reservations = %+v", tree.Reservations)
	}

	plic, parent, err := tree.FindCompatible("riscv,plic0")
	if err != nil {
		t.Fatalf("FindCompatible: %v", err)
	}
	addr, size, err := plic.Reg(parent, 0)
	if err != nil {
		t.Fatalf("Reg: %v", err)
	}
	if addr != 0xc000000 || size != 0x4000000 {
		t.Errorf("reg = 0x%x/0x%x", addr, size)
	}
	if ndev, err := plic.U32("riscv,ndev"); err != nil || ndev != 30 {
		t.Errorf("ndev = %d, %v", ndev, err)
	}

	cpus, err := tree.Path("/cpus")
	if err != nil {
		t.Fatal(err)
	}
	if freq, err := cpus.U64("timebase-frequency"); err != nil || freq != 25_000_000 {
		t.Errorf("timebase = %d, %v", freq, err)
	}
	if p, ok := tree.Root.Prop("compatible"); !ok || p.StringList()[0] != "eth,ariane-bare-dev" {
		t.Errorf("root compatible = %v", p.StringList())
	}

	// Parsed trees serialize back to the same bytes.
	again, err := tree.Blob()
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(blob) {
		t.Errorf("re-serialized blob differs")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse(make([]byte, 64)); err == nil {
		t.Fatal("expected bad magic error")
	}
	blob, err := Build(testTree())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(blob[:len(blob)/2]); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestFindCompatibleMissing(t *testing.T) {
	tree := &Tree{Root: testTree()}
	if _, _, err := tree.FindCompatible("ns16550"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestFixup(t *testing.T) {
	tree := &Tree{Root: testTree()}
	Fixup(tree, FixupConfig{HartCount: 2, FirmwareBase: 0x8000_0000, FirmwareSize: 0x4_0000})

	for id, want := range []string{"okay", "okay", "disabled"} {
		cpu, err := tree.Path("/cpus/cpu@" + string(rune('0'+id)))
		if err != nil {
			t.Fatal(err)
		}
		p, _ := cpu.Prop("status")
		if got := p.StringList()[0]; got != want {
			t.Errorf("cpu@%d status = %q, want %q", id, got, want)
		}
	}

	plic, _, _ := tree.FindCompatible("riscv,plic0")
	p, _ := plic.Prop("interrupts-extended")
	cells, _ := p.Cells()
	want := []uint32{1, 0xffffffff, 1, 9, 2, 0xffffffff, 2, 9}
	for i := range want {
		if cells[i] != want[i] {
			t.Fatalf("interrupts-extended = %v, want %v", cells, want)
		}
	}

	resv, err := tree.Path("/reserved-memory/mmode_resv0@80000000")
	if err != nil {
		t.Fatalf("reserved-memory node: %v", err)
	}
	if _, ok := resv.Prop("no-map"); !ok {
		t.Error("reserved region is mappable")
	}

	// A second pass leaves a single reserved region.
	Fixup(tree, FixupConfig{HartCount: 2, FirmwareBase: 0x8000_0000, FirmwareSize: 0x4_0000})
	if n := len(tree.Root.Child("reserved-memory").Children); n != 1 {
		t.Errorf("reserved regions = %d", n)
	}
}

func TestFixupToleratesIncompleteTree(t *testing.T) {
	bare := &Tree{Root: Node{Properties: map[string]Property{
		"#address-cells": {U32: []uint32{2}},
		"#size-cells":    {U32: []uint32{2}},
	}}}
	if skipped := CPUFixup(bare, 2); len(skipped) != 0 {
		t.Errorf("skipped = %v", skipped)
	}
	Fixup(bare, FixupConfig{HartCount: 2, FirmwareBase: 0x8000_0000, FirmwareSize: 0x4_0000})
	if _, err := bare.Path("/reserved-memory/mmode_resv0@80000000"); err != nil {
		t.Errorf("reserved region missing: %v", err)
	}
	if _, err := bare.Blob(); err != nil {
		t.Fatalf("Blob: %v", err)
	}

	tree := &Tree{Root: testTree()}
	cpus, _ := tree.Path("/cpus")
	delete(cpus.Children[1].Properties, "reg")
	skipped := CPUFixup(tree, 2)
	if len(skipped) != 1 || skipped[0] != "cpu@1" {
		t.Fatalf("skipped = %v, want [cpu@1]", skipped)
	}
	cpu, _ := tree.Path("/cpus/cpu@2")
	if p, _ := cpu.Prop("status"); p.StringList()[0] != "disabled" {
		t.Errorf("cpu@2 after a skipped sibling: %v", p.StringList())
	}
}

func TestImageUpdate(t *testing.T) {
	blob, err := Build(testTree())
	if err != nil {
		t.Fatal(err)
	}
	img := NewImage(blob)
	tree, err := img.Tree()
	if err != nil {
		t.Fatal(err)
	}
	PLICFixup(tree)
	if err := img.Update(tree); err != nil {
		t.Fatal(err)
	}
	tree, err = img.Tree()
	if err != nil {
		t.Fatal(err)
	}
	plic, _, _ := tree.FindCompatible("riscv,plic0")
	p, _ := plic.Prop("interrupts-extended")
	if cells, _ := p.Cells(); cells[1] != 0xffffffff {
		t.Errorf("image not updated: %v", cells)
	}
}
