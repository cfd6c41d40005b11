// Package soc simulates the Ariane board's memory-mapped peripherals and
// per-hart CSRs so that bring-up can run and be inspected without hardware.
package soc

import (
	"fmt"
	"io"

	"github.com/tinyrange/bringup/internal/mmio"
)

// Layout describes where the simulated peripherals live and how they are
// clocked. It is the real hardware, which may differ from the firmware's
// compiled-in defaults.
type Layout struct {
	Harts int

	UARTBase     uint64
	UARTClock    uint32
	UARTBaud     uint32
	UARTRegShift uint32
	UARTRegWidth uint32

	PLICBase    uint64
	PLICSources uint32

	CLINTBase    uint64
	TimebaseFreq uint64

	RAMBase uint64
	RAMSize uint64
}

// ArianeLayout matches the Ariane FPGA bitstream.
func ArianeLayout() Layout {
	return Layout{
		Harts:        2,
		UARTBase:     0x1000_0000,
		UARTClock:    40_000_000,
		UARTBaud:     115200,
		UARTRegShift: 2,
		UARTRegWidth: 4,
		PLICBase:     0x0c00_0000,
		PLICSources:  3,
		CLINTBase:    0x0200_0000,
		TimebaseFreq: 1_000_000,
		RAMBase:      0x8000_0000,
		RAMSize:      0x4000_0000,
	}
}

// Board is a simulated SoC: devices on a bus plus one CSR file per hart.
type Board struct {
	Layout Layout

	Bus   *mmio.Bus
	PLIC  *PLIC
	CLINT *CLINT
	UART  *UART

	csrs []*CSRFile
}

// NewBoard assembles the devices described by l. Console output goes to out.
func NewBoard(l Layout, out io.Writer) (*Board, error) {
	if l.Harts <= 0 {
		return nil, fmt.Errorf("soc: hart count must be positive, got %d", l.Harts)
	}

	b := &Board{
		Layout: l,
		Bus:    mmio.NewBus(),
		PLIC:   NewPLIC(l.Harts, l.PLICSources),
		CLINT:  NewCLINT(l.Harts, l.TimebaseFreq),
		UART:   NewUART(out, l.UARTRegShift, l.UARTRegWidth),
	}

	for _, m := range []struct {
		name string
		base uint64
		dev  mmio.Device
	}{
		{"clint", l.CLINTBase, b.CLINT},
		{"plic", l.PLICBase, b.PLIC},
		{"uart", l.UARTBase, b.UART},
	} {
		if err := b.Bus.AddDevice(m.base, m.dev); err != nil {
			return nil, fmt.Errorf("soc: map %s: %w", m.name, err)
		}
	}

	for h := 0; h < l.Harts; h++ {
		b.csrs = append(b.csrs, newCSRFile(uint32(h)))
	}
	return b, nil
}

// CSR returns hart's CSR file.
func (b *Board) CSR(hart uint32) *CSRFile {
	if int(hart) >= len(b.csrs) {
		return nil
	}
	return b.csrs[hart]
}
