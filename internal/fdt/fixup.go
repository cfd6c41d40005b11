package fdt

import (
	"fmt"
	"log/slog"
)

// IRQMExt is the machine external interrupt cause used in
// interrupts-extended specifiers.
const IRQMExt = 11

// FixupConfig describes what downstream software is allowed to see.
type FixupConfig struct {
	// HartCount bounds the valid hart ids, 0 through HartCount-1.
	HartCount uint32
	// Firmware region to hide from the next stage. Size 0 skips the
	// reserved-memory node.
	FirmwareBase uint64
	FirmwareSize uint64

	Logger *slog.Logger
}

// Fixup applies every structural fixup to t. A fixup whose nodes are missing
// or malformed is skipped and the rest still run.
func Fixup(t *Tree, cfg FixupConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, name := range CPUFixup(t, cfg.HartCount) {
		logger.Debug("cpu fixup: skipping node without hart id", "node", name)
	}
	PLICFixup(t)
	if err := ReservedMemoryFixup(t, cfg.FirmwareBase, cfg.FirmwareSize); err != nil {
		logger.Debug("reserved memory fixup skipped", "error", err)
	}
}

// CPUFixup marks cpu nodes with a hart id outside 0..hartCount-1 as disabled.
// It returns the cpu nodes it could not read a hart id from. A tree without
// /cpus is left alone.
func CPUFixup(t *Tree, hartCount uint32) (skipped []string) {
	cpus, err := t.Path("/cpus")
	if err != nil {
		return nil
	}
	for i := range cpus.Children {
		cpu := &cpus.Children[i]
		if cpu.UnitName() != "cpu" {
			continue
		}
		hartID, _, err := cpu.Reg(cpus, 0)
		if err != nil {
			skipped = append(skipped, cpu.Name)
			continue
		}
		if hartID >= uint64(hartCount) {
			cpu.Set("status", Property{Strings: []string{"disabled"}})
		}
	}
	return skipped
}

// PLICFixup hides the machine-mode PLIC contexts from the next stage by
// replacing their interrupt specifiers with 0xffffffff.
func PLICFixup(t *Tree) {
	for _, compat := range []string{"riscv,plic0", "sifive,plic-1.0.0"} {
		plic, _, err := t.FindCompatible(compat)
		if err != nil {
			continue
		}
		p, ok := plic.Prop("interrupts-extended")
		if !ok {
			return
		}
		cells, ok := p.Cells()
		if !ok {
			return
		}
		for i := 1; i < len(cells); i += 2 {
			if cells[i] == IRQMExt {
				cells[i] = 0xffffffff
			}
		}
		plic.Set("interrupts-extended", Property{U32: cells})
		return
	}
}

// ReservedMemoryFixup adds a no-map reserved-memory node covering the
// firmware region.
func ReservedMemoryFixup(t *Tree, base, size uint64) error {
	if size == 0 {
		return nil
	}
	resv := t.Root.Child("reserved-memory")
	if resv == nil {
		t.Root.Children = append(t.Root.Children, Node{
			Name: "reserved-memory",
			Properties: map[string]Property{
				"#address-cells": {U32: []uint32{2}},
				"#size-cells":    {U32: []uint32{2}},
				"ranges":         {Flag: true},
			},
		})
		resv = &t.Root.Children[len(t.Root.Children)-1]
	} else {
		ac := resv.cellCount("#address-cells", defaultAddressCells)
		sc := resv.cellCount("#size-cells", defaultSizeCells)
		if ac != 2 || sc != 2 {
			return fmt.Errorf("fdt: reserved-memory uses %d/%d cells, want 2/2", ac, sc)
		}
	}

	name := fmt.Sprintf("mmode_resv0@%x", base)
	if resv.Child(name) != nil {
		return nil
	}
	resv.Children = append(resv.Children, Node{
		Name: name,
		Properties: map[string]Property{
			"reg":    RegCells(base, size),
			"no-map": {Flag: true},
		},
	})
	return nil
}
