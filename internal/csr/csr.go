// Package csr names the RISC-V control and status registers touched during
// bring-up and defines the per-hart access interface.
package csr

import (
	"fmt"
	"log/slog"
)

// Counter enable and inhibit CSRs
const (
	Scounteren    uint16 = 0x106
	Mcounteren    uint16 = 0x306
	Mcountinhibit uint16 = 0x320
	Hcounteren    uint16 = 0x606
	Mhartid       uint16 = 0xf14
)

// Mhpmevent3 is the first programmable event selector. Selectors 3..31 are
// consecutive.
const (
	Mhpmevent3  uint16 = 0x323
	Mhpmevent31 uint16 = 0x33f
)

// Mhpmevent returns the event selector CSR for counter n (3..31).
func Mhpmevent(n int) uint16 {
	if n < 3 || n > 31 {
		panic(fmt.Sprintf("csr: no mhpmevent%d", n))
	}
	return Mhpmevent3 + uint16(n-3)
}

// File writes the CSRs of one hart. Writes are assumed to succeed.
type File interface {
	Write(num uint16, value uint64)
}

// Name returns the assembler name of num, or its hex number.
func Name(num uint16) string {
	switch num {
	case Scounteren:
		return "scounteren"
	case Mcounteren:
		return "mcounteren"
	case Mcountinhibit:
		return "mcountinhibit"
	case Hcounteren:
		return "hcounteren"
	case Mhartid:
		return "mhartid"
	}
	if num >= Mhpmevent3 && num <= Mhpmevent31 {
		return fmt.Sprintf("mhpmevent%d", num-Mhpmevent3+3)
	}
	return fmt.Sprintf("csr0x%03x", num)
}

// LogFile is a File for targets whose CSRs are not reachable from here,
// such as a board driven through /dev/mem. It records each write at debug
// level.
type LogFile struct {
	Hart   uint32
	Logger *slog.Logger
}

func (f LogFile) Write(num uint16, value uint64) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("csr write", "hart", f.Hart, "csr", Name(num), "value", fmt.Sprintf("0x%x", value))
}
