// Package pmu programs the hardware performance-monitoring unit of the
// cold-boot hart.
package pmu

import "github.com/tinyrange/bringup/internal/csr"

// Event is a hardware event code accepted by an mhpmevent selector.
type Event uint64

// Ariane event codes
const (
	L1ICacheMiss Event = 0x01
	L1DCacheMiss Event = 0x02
	Load         Event = 0x05
	Store        Event = 0x06
	IFEmpty      Event = 0x0f
	PipeStall    Event = 0x10

	SnoopInReadOnce        Event = 0x11
	SnoopInReadShared      Event = 0x12
	SnoopInReadClean       Event = 0x13
	SnoopInReadNoSnoopData Event = 0x14
	SnoopInReadUnique      Event = 0x15
	SnoopInCleanShared     Event = 0x16
	SnoopInCleanInvalid    Event = 0x17
	SnoopInCleanUnique     Event = 0x18
	SnoopInMakeInvalid     Event = 0x19
	SnoopOutReadOnce       Event = 0x1a
	SnoopOutReadShared     Event = 0x1b
	SnoopOutReadUnique     Event = 0x1c
	SnoopOutReadNoSnoop    Event = 0x1d
	SnoopOutCleanUnique    Event = 0x1e
	SnoopOutWriteUnique    Event = 0x1f
	SnoopOutWriteNoSnoop   Event = 0x20
	SnoopOutWriteBack      Event = 0x21
)

// Binding ties one counter's event selector to an event.
type Binding struct {
	Counter int
	Event   Event
}

// Bindings is applied in order, starting at mhpmevent3.
var Bindings = []Binding{
	{3, L1ICacheMiss},
	{4, L1DCacheMiss},
	{5, Load},
	{6, Store},
	{7, IFEmpty},
	{8, PipeStall},
	{9, SnoopInReadOnce},
	{10, SnoopInReadShared},
	{11, SnoopInReadClean},
	{12, SnoopInReadNoSnoopData},
	{13, SnoopInReadUnique},
	{14, SnoopInCleanShared},
	{15, SnoopInCleanInvalid},
	{16, SnoopInCleanUnique},
	{17, SnoopInMakeInvalid},
	{18, SnoopOutReadOnce},
	{19, SnoopOutReadShared},
	{20, SnoopOutReadUnique},
	{21, SnoopOutReadNoSnoop},
	{22, SnoopOutCleanUnique},
	{23, SnoopOutWriteUnique},
	{24, SnoopOutWriteNoSnoop},
	{25, SnoopOutWriteBack},
}

const allCounters = ^uint64(0)

// Program opens every counter to all privilege levels, starts them, and
// binds the event selectors.
func Program(f csr.File) {
	f.Write(csr.Mcounteren, allCounters)
	f.Write(csr.Hcounteren, allCounters)
	f.Write(csr.Scounteren, allCounters)
	f.Write(csr.Mcountinhibit, 0)

	for _, b := range Bindings {
		f.Write(csr.Mhpmevent(b.Counter), uint64(b.Event))
	}
}
