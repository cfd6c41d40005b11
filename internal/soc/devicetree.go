package soc

import (
	"fmt"

	"github.com/tinyrange/bringup/internal/fdt"
)

// DeviceTreeOptions leaves nodes out of the generated description so that
// discovery falls back to defaults.
type DeviceTreeOptions struct {
	Bootargs     string
	OmitUART     bool
	OmitPLIC     bool
	OmitCLINT    bool
	OmitTimebase bool
	// OmitCPUs drops the whole /cpus node, timebase included.
	OmitCPUs     bool
}

const phandleCPUIntcBase = 1

// DeviceTree describes the board the way the FPGA build scripts do: one cpu
// node per hart, each with its own interrupt controller, and CLINT/PLIC
// nodes wired to every hart.
func (b *Board) DeviceTree(opts DeviceTreeOptions) fdt.Node {
	l := b.Layout
	plicPhandle := uint32(phandleCPUIntcBase + l.Harts)

	root := fdt.Node{
		Properties: map[string]fdt.Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{"eth,ariane-bare-dev"}},
			"model":          {Strings: []string{"eth,ariane-bare"}},
		},
	}

	chosen := fdt.Node{Name: "chosen"}
	if l.UARTBase != 0 && !opts.OmitUART {
		chosen.Set("stdout-path", fdt.Property{Strings: []string{fmt.Sprintf("/soc/uart@%x:%d", l.UARTBase, l.UARTBaud)}})
	}
	if opts.Bootargs != "" {
		chosen.Set("bootargs", fdt.Property{Strings: []string{opts.Bootargs}})
	}
	root.Children = append(root.Children, chosen)

	cpus := fdt.Node{
		Name: "cpus",
		Properties: map[string]fdt.Property{
			"#address-cells": {U32: []uint32{1}},
			"#size-cells":    {U32: []uint32{0}},
		},
	}
	if !opts.OmitTimebase {
		cpus.Set("timebase-frequency", fdt.Property{U32: []uint32{uint32(l.TimebaseFreq)}})
	}

	var clintIrqs, plicIrqs []uint32
	for h := 0; h < l.Harts; h++ {
		intc := uint32(phandleCPUIntcBase + h)
		cpus.Children = append(cpus.Children, fdt.Node{
			Name: fmt.Sprintf("cpu@%d", h),
			Properties: map[string]fdt.Property{
				"device_type": {Strings: []string{"cpu"}},
				"status":      {Strings: []string{"okay"}},
				"compatible":  {Strings: []string{"eth,ariane", "riscv"}},
				"riscv,isa":   {Strings: []string{"rv64imafdc"}},
				"mmu-type":    {Strings: []string{"riscv,sv39"}},
				"reg":         {U32: []uint32{uint32(h)}},
			},
			Children: []fdt.Node{{
				Name: "interrupt-controller",
				Properties: map[string]fdt.Property{
					"#address-cells":       {U32: []uint32{1}},
					"#interrupt-cells":     {U32: []uint32{1}},
					"interrupt-controller": {Flag: true},
					"compatible":           {Strings: []string{"riscv,cpu-intc"}},
					"phandle":              {U32: []uint32{intc}},
				},
			}},
		})
		clintIrqs = append(clintIrqs, intc, 3, intc, 7)
		plicIrqs = append(plicIrqs, intc, fdt.IRQMExt, intc, 9)
	}
	if !opts.OmitCPUs {
		root.Children = append(root.Children, cpus)
	}

	root.Children = append(root.Children, fdt.Node{
		Name: fmt.Sprintf("memory@%x", l.RAMBase),
		Properties: map[string]fdt.Property{
			"device_type": {Strings: []string{"memory"}},
			"reg":         fdt.RegCells(l.RAMBase, l.RAMSize),
		},
	})

	soc := fdt.Node{
		Name: "soc",
		Properties: map[string]fdt.Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{"eth,ariane-bare-soc", "simple-bus"}},
			"ranges":         {Flag: true},
		},
	}

	if !opts.OmitCLINT {
		soc.Children = append(soc.Children, fdt.Node{
			Name: fmt.Sprintf("clint@%x", l.CLINTBase),
			Properties: map[string]fdt.Property{
				"compatible":          {Strings: []string{"riscv,clint0"}},
				"interrupts-extended": {U32: clintIrqs},
				"reg":                 fdt.RegCells(l.CLINTBase, CLINTSize),
				"reg-names":           {Strings: []string{"control"}},
			},
		})
	}

	if !opts.OmitPLIC {
		soc.Children = append(soc.Children, fdt.Node{
			Name: fmt.Sprintf("interrupt-controller@%x", l.PLICBase),
			Properties: map[string]fdt.Property{
				"#address-cells":       {U32: []uint32{0}},
				"#interrupt-cells":     {U32: []uint32{1}},
				"compatible":           {Strings: []string{"riscv,plic0"}},
				"interrupt-controller": {Flag: true},
				"interrupts-extended":  {U32: plicIrqs},
				"reg":                  fdt.RegCells(l.PLICBase, PLICSize),
				"riscv,max-priority":   {U32: []uint32{7}},
				"riscv,ndev":           {U32: []uint32{l.PLICSources}},
				"phandle":              {U32: []uint32{plicPhandle}},
			},
		})
	}

	if !opts.OmitUART {
		soc.Children = append(soc.Children, fdt.Node{
			Name: fmt.Sprintf("uart@%x", l.UARTBase),
			Properties: map[string]fdt.Property{
				"compatible":       {Strings: []string{"ns16550"}},
				"reg":              fdt.RegCells(l.UARTBase, UARTSize),
				"clock-frequency":  {U32: []uint32{l.UARTClock}},
				"current-speed":    {U32: []uint32{l.UARTBaud}},
				"interrupt-parent": {U32: []uint32{plicPhandle}},
				"interrupts":       {U32: []uint32{1}},
				"reg-shift":        {U32: []uint32{l.UARTRegShift}},
				"reg-io-width":     {U32: []uint32{l.UARTRegWidth}},
			},
		})
	}

	root.Children = append(root.Children, soc)
	return root
}

// DeviceTreeBlob serializes DeviceTree.
func (b *Board) DeviceTreeBlob(opts DeviceTreeOptions) ([]byte, error) {
	return fdt.Build(b.DeviceTree(opts))
}
