package soc

import (
	"sync"

	"github.com/tinyrange/bringup/internal/csr"
)

// CSRWrite is one recorded CSR write.
type CSRWrite struct {
	Num   uint16
	Value uint64
}

// CSRFile is the CSR state of one simulated hart.
type CSRFile struct {
	mu     sync.Mutex
	values map[uint16]uint64
	log    []CSRWrite
}

func newCSRFile(hart uint32) *CSRFile {
	return &CSRFile{values: map[uint16]uint64{csr.Mhartid: uint64(hart)}}
}

// Write implements csr.File. Read-only CSRs (top two bits set) ignore writes.
func (f *CSRFile) Write(num uint16, value uint64) {
	if num>>10 == 3 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[num] = value
	f.log = append(f.log, CSRWrite{Num: num, Value: value})
}

// Read returns the current value of num. Unknown CSRs read as zero.
func (f *CSRFile) Read(num uint16) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[num]
}

// Writes returns every write in program order.
func (f *CSRFile) Writes() []CSRWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CSRWrite(nil), f.log...)
}

var _ csr.File = (*CSRFile)(nil)
