package soc

import (
	"sync"
)

// PLIC register offsets
const (
	PLICPriorityBase  = 0x000000 // Priority registers (1024 sources)
	PLICPendingBase   = 0x001000 // Pending bits
	PLICEnableBase    = 0x002000 // Enable bits per context
	PLICEnableStride  = 0x80
	PLICThresholdBase = 0x200000 // Threshold and claim per context
	PLICContextStride = 0x1000

	PLICSize = 0x4000000
)

// Maximum number of interrupt sources
const PLICMaxSources = 1024

const plicWords = PLICMaxSources / 32

// PLIC is a platform-level interrupt controller with two contexts per hart:
// context 2h is hart h's machine mode, 2h+1 its supervisor mode.
type PLIC struct {
	mu sync.Mutex

	numSources uint32

	// Priority for each source (0-7, 0 = disabled)
	priority [PLICMaxSources]uint32

	// Pending bits (1 bit per source)
	pending [plicWords]uint32

	enable    [][plicWords]uint32
	threshold []uint32
	claimed   []uint32

	// touched records contexts whose enable or threshold registers were written
	touched []bool
}

// NewPLIC creates a PLIC with numSources sources and two contexts per hart.
func NewPLIC(harts int, numSources uint32) *PLIC {
	contexts := 2 * harts
	return &PLIC{
		numSources: numSources,
		enable:     make([][plicWords]uint32, contexts),
		threshold:  make([]uint32, contexts),
		claimed:    make([]uint32, contexts),
		touched:    make([]bool, contexts),
	}
}

// Size implements mmio.Device
func (p *PLIC) Size() uint64 {
	return PLICSize
}

func (p *PLIC) contexts() uint64 {
	return uint64(len(p.threshold))
}

// Read implements mmio.Device
func (p *PLIC) Read(offset uint64, size int) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case offset < PLICPendingBase:
		source := offset / 4
		if source < PLICMaxSources {
			return uint64(p.priority[source]), nil
		}

	case offset < PLICEnableBase:
		word := (offset - PLICPendingBase) / 4
		if word < plicWords {
			return uint64(p.pending[word]), nil
		}

	case offset < PLICThresholdBase:
		rel := offset - PLICEnableBase
		context := rel / PLICEnableStride
		word := (rel % PLICEnableStride) / 4
		if context < p.contexts() && word < plicWords {
			return uint64(p.enable[context][word]), nil
		}

	default:
		rel := offset - PLICThresholdBase
		context := rel / PLICContextStride
		if context < p.contexts() {
			switch rel % PLICContextStride {
			case 0:
				return uint64(p.threshold[context]), nil
			case 4:
				return uint64(p.claim(int(context))), nil
			}
		}
	}

	return 0, nil
}

// Write implements mmio.Device
func (p *PLIC) Write(offset uint64, size int, value uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case offset < PLICPendingBase:
		source := offset / 4
		if source < PLICMaxSources && source > 0 { // Source 0 is reserved
			p.priority[source] = uint32(value) & 7
		}

	case offset < PLICEnableBase:
		// Pending bits are read-only

	case offset < PLICThresholdBase:
		rel := offset - PLICEnableBase
		context := rel / PLICEnableStride
		word := (rel % PLICEnableStride) / 4
		if context < p.contexts() && word < plicWords {
			p.enable[context][word] = uint32(value)
			p.touched[context] = true
		}

	default:
		rel := offset - PLICThresholdBase
		context := rel / PLICContextStride
		if context < p.contexts() {
			switch rel % PLICContextStride {
			case 0:
				p.threshold[context] = uint32(value) & 7
				p.touched[context] = true
			case 4:
				p.complete(int(context), uint32(value))
			}
		}
	}

	return nil
}

// Contexts returns the number of contexts.
func (p *PLIC) Contexts() int {
	return len(p.threshold)
}

// Enable returns interrupt-enable word w of context.
func (p *PLIC) Enable(context, w int) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enable[context][w]
}

// Threshold returns the priority threshold of context.
func (p *PLIC) Threshold(context int) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threshold[context]
}

// Priority returns the priority of source.
func (p *PLIC) Priority(source uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority[source]
}

// Touched reports whether any enable or threshold register of context has
// been written.
func (p *PLIC) Touched(context int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.touched[context]
}

// SetPending sets an interrupt as pending
func (p *PLIC) SetPending(source uint32, pending bool) {
	if source == 0 || source > p.numSources || source >= PLICMaxSources {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	word := source / 32
	bit := source % 32

	if pending {
		p.pending[word] |= 1 << bit
	} else {
		p.pending[word] &^= 1 << bit
	}
}

// Deliverable reports whether context has a pending, enabled interrupt with
// a priority above its threshold.
func (p *PLIC) Deliverable(context int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.best(context) != 0
}

func (p *PLIC) best(context int) uint32 {
	var bestSource, bestPriority uint32
	for source := uint32(1); source <= p.numSources && source < PLICMaxSources; source++ {
		word := source / 32
		bit := source % 32

		if p.pending[word]&(1<<bit) == 0 || p.enable[context][word]&(1<<bit) == 0 {
			continue
		}
		priority := p.priority[source]
		if priority <= p.threshold[context] {
			continue
		}
		// RISC-V PLIC uses higher number = higher priority
		if priority > bestPriority {
			bestPriority = priority
			bestSource = source
		}
	}
	return bestSource
}

// claim claims the highest priority pending interrupt for a context
func (p *PLIC) claim(context int) uint32 {
	source := p.best(context)
	if source != 0 {
		p.pending[source/32] &^= 1 << (source % 32)
		p.claimed[context] = source
	}
	return source
}

// complete signals completion of interrupt handling
func (p *PLIC) complete(context int, source uint32) {
	if p.claimed[context] == source {
		p.claimed[context] = 0
	}
}
