package soc

import (
	"io"
	"sync"
)

// UART register indexes (16550 compatible)
const (
	UARTRegRBR = 0 // Receive Buffer Register (read)
	UARTRegTHR = 0 // Transmit Holding Register (write)
	UARTRegIER = 1 // Interrupt Enable Register
	UARTRegIIR = 2 // Interrupt Identification Register (read)
	UARTRegFCR = 2 // FIFO Control Register (write)
	UARTRegLCR = 3 // Line Control Register
	UARTRegMCR = 4 // Modem Control Register
	UARTRegLSR = 5 // Line Status Register
	UARTRegMSR = 6 // Modem Status Register
	UARTRegSCR = 7 // Scratch Register

	UARTSize = 0x1000
)

// LSR bits
const (
	UARTLSRDataReady = 1 << 0 // Data ready
	UARTLSRTHREmpty  = 1 << 5 // Transmit holding register empty
	UARTLSRTxEmpty   = 1 << 6 // Transmitter empty
)

const uartLCRDLAB = 0x80

// UART is a 16550-compatible serial port whose registers are spaced
// 1<<regShift bytes apart and accessed regWidth bytes at a time.
type UART struct {
	mu sync.Mutex

	out      io.Writer
	regShift uint32
	regWidth int

	ier, fcr, lcr, mcr, scr uint8
	dll, dlm                uint8

	input []byte
}

// NewUART creates a UART writing transmitted bytes to out.
func NewUART(out io.Writer, regShift, regWidth uint32) *UART {
	if regWidth == 0 {
		regWidth = 1
	}
	return &UART{out: out, regShift: regShift, regWidth: int(regWidth)}
}

// Size implements mmio.Device
func (u *UART) Size() uint64 {
	return UARTSize
}

func (u *UART) reg(offset uint64, size int) (uint64, bool) {
	if size != u.regWidth || offset&((1<<u.regShift)-1) != 0 {
		return 0, false
	}
	return offset >> u.regShift, true
}

// Read implements mmio.Device
func (u *UART) Read(offset uint64, size int) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	reg, ok := u.reg(offset, size)
	if !ok {
		return 0, nil
	}
	dlab := u.lcr&uartLCRDLAB != 0

	switch reg {
	case UARTRegRBR:
		if dlab {
			return uint64(u.dll), nil
		}
		if len(u.input) == 0 {
			return 0, nil
		}
		b := u.input[0]
		u.input = u.input[1:]
		return uint64(b), nil
	case UARTRegIER:
		if dlab {
			return uint64(u.dlm), nil
		}
		return uint64(u.ier), nil
	case UARTRegIIR:
		return 0x01, nil // No interrupt pending
	case UARTRegLCR:
		return uint64(u.lcr), nil
	case UARTRegMCR:
		return uint64(u.mcr), nil
	case UARTRegLSR:
		lsr := uint64(UARTLSRTHREmpty | UARTLSRTxEmpty) // TX always ready
		if len(u.input) > 0 {
			lsr |= UARTLSRDataReady
		}
		return lsr, nil
	case UARTRegSCR:
		return uint64(u.scr), nil
	}
	return 0, nil
}

// Write implements mmio.Device
func (u *UART) Write(offset uint64, size int, value uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	reg, ok := u.reg(offset, size)
	if !ok {
		return nil
	}
	data := uint8(value)
	dlab := u.lcr&uartLCRDLAB != 0

	switch reg {
	case UARTRegTHR:
		if dlab {
			u.dll = data
			return nil
		}
		if u.out != nil {
			u.out.Write([]byte{data})
		}
	case UARTRegIER:
		if dlab {
			u.dlm = data
			return nil
		}
		u.ier = data
	case UARTRegFCR:
		u.fcr = data
		if data&0x02 != 0 {
			u.input = nil
		}
	case UARTRegLCR:
		u.lcr = data
	case UARTRegMCR:
		u.mcr = data
	case UARTRegSCR:
		u.scr = data
	}
	return nil
}

// Divisor returns the programmed baud divisor latch.
func (u *UART) Divisor() uint16 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return uint16(u.dlm)<<8 | uint16(u.dll)
}

// LineControl returns the LCR register.
func (u *UART) LineControl() uint8 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lcr
}

// FIFOControl returns the last value written to FCR.
func (u *UART) FIFOControl() uint8 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fcr
}

// EnqueueInput adds bytes for the firmware to receive.
func (u *UART) EnqueueInput(data []byte) {
	u.mu.Lock()
	u.input = append(u.input, data...)
	u.mu.Unlock()
}
