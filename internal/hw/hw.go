// Package hw holds the platform hardware descriptor: the UART, interrupt
// controller, IPI facility and timer parameters that bring-up programs into
// the drivers.
//
// A descriptor starts from compiled-in defaults, is refined by zero or more
// override operations on a Builder during the cold-boot hart's early phase,
// and is then frozen into a Config that every hart reads for the rest of the
// firmware's lifetime.
package hw

// Ariane board defaults
const (
	ArianeUARTAddr     uint64 = 0x1000_0000
	ArianeUARTFreq     uint32 = 40_000_000
	ArianeUARTBaudrate uint32 = 115200
	ArianeUARTRegShift uint32 = 2
	ArianeUARTRegWidth uint32 = 4

	ArianePLICAddr       uint64 = 0x0c00_0000
	ArianePLICNumSources uint32 = 3

	ArianeHartCount uint32 = 2

	ArianeCLINTAddr  uint64 = 0x0200_0000
	ArianeMTimerFreq uint64 = 1_000_000
)

// CLINT layout. A combined CLINT places the ACLINT MSWI device at its base
// and the MTIMER device right after it.
const (
	CLINTMSWIOffset   uint64 = 0x0000
	CLINTMTimerOffset uint64 = 0x4000

	ACLINTMSWISize uint64 = 0x4000

	ACLINTDefaultMtimecmpOffset uint64 = 0x0000
	ACLINTDefaultMtimecmpSize   uint64 = 0x7ff8
	ACLINTDefaultMtimeOffset    uint64 = 0x7ff8
	ACLINTDefaultMtimeSize      uint64 = 0x0008
)

// UART describes an 8250-compatible serial port.
type UART struct {
	Base     uint64
	Freq     uint32
	Baud     uint32
	RegShift uint32
	RegWidth uint32
}

// PLIC describes the platform-level interrupt controller.
type PLIC struct {
	Base       uint64
	NumSources uint32
}

// IEWords returns the number of 32-bit interrupt-enable words per context.
// Source 0 is reserved, so sources 1..NumSources need bits 0..NumSources.
func (p PLIC) IEWords() int {
	return int(p.NumSources/32) + 1
}

// MSWI describes the ACLINT machine software interrupt device used for IPIs.
type MSWI struct {
	Base        uint64
	Size        uint64
	FirstHartID uint32
	HartCount   uint32
}

// MTimer describes the ACLINT machine timer device.
type MTimer struct {
	Freq         uint64
	MtimeAddr    uint64
	MtimeSize    uint64
	MtimecmpAddr uint64
	MtimecmpSize uint64
	FirstHartID  uint32
	HartCount    uint32
	Has64BitMMIO bool
}

// Descriptor is the full set of hardware parameters for one platform.
type Descriptor struct {
	UART      UART
	PLIC      PLIC
	MSWI      MSWI
	MTimer    MTimer
	HartCount uint32
}

// ArianeDefaults returns the compiled-in descriptor for the Ariane FPGA board.
func ArianeDefaults() Descriptor {
	d := Descriptor{
		UART: UART{
			Base:     ArianeUARTAddr,
			Freq:     ArianeUARTFreq,
			Baud:     ArianeUARTBaudrate,
			RegShift: ArianeUARTRegShift,
			RegWidth: ArianeUARTRegWidth,
		},
		PLIC: PLIC{
			Base:       ArianePLICAddr,
			NumSources: ArianePLICNumSources,
		},
		MSWI: MSWI{
			Size:        ACLINTMSWISize,
			FirstHartID: 0,
			HartCount:   ArianeHartCount,
		},
		MTimer: MTimer{
			Freq:         ArianeMTimerFreq,
			MtimeSize:    ACLINTDefaultMtimeSize,
			MtimecmpSize: ACLINTDefaultMtimecmpSize,
			FirstHartID:  0,
			HartCount:    ArianeHartCount,
			Has64BitMMIO: true,
		},
		HartCount: ArianeHartCount,
	}
	d.RelocateCLINT(ArianeCLINTAddr)
	return d
}

// RelocateCLINT derives the MSWI base and both MTIMER register addresses
// from a combined CLINT base.
func (d *Descriptor) RelocateCLINT(base uint64) {
	d.MSWI.Base = base + CLINTMSWIOffset
	d.MTimer.MtimeAddr = base + CLINTMTimerOffset + ACLINTDefaultMtimeOffset
	d.MTimer.MtimecmpAddr = base + CLINTMTimerOffset + ACLINTDefaultMtimecmpOffset
}
