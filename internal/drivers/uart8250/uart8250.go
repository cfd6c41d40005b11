// Package uart8250 drives 8250/16550-compatible serial ports.
package uart8250

import (
	"fmt"

	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/mmio"
	"github.com/tinyrange/bringup/internal/sbierr"
)

// Register indexes, scaled by the register shift.
const (
	regRBR = 0 // In:  Receive Buffer Register
	regTHR = 0 // Out: Transmitter Holding Register
	regDLL = 0 // Out: Divisor Latch Low
	regIER = 1 // I/O: Interrupt Enable Register
	regDLM = 1 // Out: Divisor Latch High
	regFCR = 2 // Out: FIFO Control Register
	regLCR = 3 // Out: Line Control Register
	regMCR = 4 // Out: Modem Control Register
	regLSR = 5 // In:  Line Status Register
	regSCR = 7 // I/O: Scratch Register
)

const (
	lsrDataReady = 0x01
	lsrTHRE      = 0x20

	lcrDLAB = 0x80
	lcr8N1  = 0x03
	fcrFIFO = 0x01
)

// txSpin bounds the wait for the transmit holding register.
const txSpin = 1 << 16

// Port is an initialized serial port.
type Port struct {
	bus mmio.Accessor
	cfg hw.UART
}

// Divisor returns the baud divisor for freq and baud, rounded to nearest.
func Divisor(freq, baud uint32) uint32 {
	if baud == 0 {
		return 0
	}
	return (freq + 8*baud) / (16 * baud)
}

// Init programs the port for 8N1 at cfg.Baud with FIFOs enabled and
// interrupts off.
func Init(bus mmio.Accessor, cfg hw.UART) (*Port, error) {
	if cfg.Base == 0 {
		return nil, sbierr.ErrInvalidAddress
	}
	if cfg.RegWidth != 1 && cfg.RegWidth != 4 {
		return nil, fmt.Errorf("uart8250: register width %d: %w", cfg.RegWidth, sbierr.ErrNotSupported)
	}

	p := &Port{bus: bus, cfg: cfg}
	bdiv := Divisor(cfg.Freq, cfg.Baud)

	seq := []regWrite{
		{regIER, 0x00},
		{regLCR, lcrDLAB},
	}
	if bdiv != 0 {
		seq = append(seq, regWrite{regDLL, uint8(bdiv)}, regWrite{regDLM, uint8(bdiv >> 8)})
	}
	seq = append(seq,
		regWrite{regLCR, lcr8N1},
		regWrite{regFCR, fcrFIFO},
		regWrite{regMCR, 0x00},
	)
	for _, w := range seq {
		if err := p.set(w.reg, w.val); err != nil {
			return nil, err
		}
	}

	// Clear line status and any stale receive data.
	if _, err := p.get(regLSR); err != nil {
		return nil, err
	}
	if _, err := p.get(regRBR); err != nil {
		return nil, err
	}
	if err := p.set(regSCR, 0x00); err != nil {
		return nil, err
	}
	return p, nil
}

type regWrite struct {
	reg uint64
	val uint8
}

func (p *Port) addr(reg uint64) uint64 {
	return p.cfg.Base + reg<<p.cfg.RegShift
}

func (p *Port) get(reg uint64) (uint8, error) {
	var (
		v   uint32
		err error
	)
	if p.cfg.RegWidth == 4 {
		v, err = p.bus.Read32(p.addr(reg))
	} else {
		var b uint8
		b, err = p.bus.Read8(p.addr(reg))
		v = uint32(b)
	}
	if err != nil {
		return 0, fmt.Errorf("uart8250: read reg %d: %w (%w)", reg, sbierr.ErrIO, err)
	}
	return uint8(v), nil
}

func (p *Port) set(reg uint64, val uint8) error {
	var err error
	if p.cfg.RegWidth == 4 {
		err = p.bus.Write32(p.addr(reg), uint32(val))
	} else {
		err = p.bus.Write8(p.addr(reg), val)
	}
	if err != nil {
		return fmt.Errorf("uart8250: write reg %d: %w (%w)", reg, sbierr.ErrIO, err)
	}
	return nil
}

// Putc transmits one byte once the holding register is empty.
func (p *Port) Putc(ch byte) error {
	for i := 0; ; i++ {
		lsr, err := p.get(regLSR)
		if err != nil {
			return err
		}
		if lsr&lsrTHRE != 0 {
			break
		}
		if i == txSpin {
			return fmt.Errorf("uart8250: transmitter stuck: %w", sbierr.ErrTimedOut)
		}
	}
	return p.set(regTHR, ch)
}

// Getc returns a received byte, or -1 when none is waiting.
func (p *Port) Getc() (int, error) {
	lsr, err := p.get(regLSR)
	if err != nil {
		return -1, err
	}
	if lsr&lsrDataReady == 0 {
		return -1, nil
	}
	b, err := p.get(regRBR)
	if err != nil {
		return -1, err
	}
	return int(b), nil
}

// Config returns the parameters the port was initialized with.
func (p *Port) Config() hw.UART {
	return p.cfg
}
