package discovery

import (
	"errors"
	"fmt"

	"github.com/tinyrange/bringup/internal/fdt"
	"github.com/tinyrange/bringup/internal/hw"
)

// Defaults for optional UART properties.
const (
	defaultUARTBaud     = 115200
	defaultUARTRegShift = 0
	defaultUARTRegWidth = 1
)

// FDTSource answers queries from a flattened devicetree.
type FDTSource struct {
	tree *fdt.Tree
}

// NewFDTSource returns a source over tree.
func NewFDTSource(tree *fdt.Tree) *FDTSource {
	return &FDTSource{tree: tree}
}

func classify(what string, err error) error {
	if errors.Is(err, fdt.ErrNotFound) {
		return fmt.Errorf("%s: %w: %w", what, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w: %w", what, ErrMalformed, err)
}

func (s *FDTSource) find(compat string) (node, parent *fdt.Node, err error) {
	if s.tree == nil {
		return nil, nil, fmt.Errorf("%s: %w: no devicetree", compat, ErrNotFound)
	}
	node, parent, err = s.tree.FindCompatible(compat)
	if err != nil {
		return nil, nil, classify(compat, err)
	}
	return node, parent, nil
}

// UART reads an 8250 node. reg and clock-frequency are required.
func (s *FDTSource) UART(compat string) (hw.UART, error) {
	node, parent, err := s.find(compat)
	if err != nil {
		return hw.UART{}, err
	}
	base, _, err := node.Reg(parent, 0)
	if err != nil {
		return hw.UART{}, classify(compat, err)
	}
	freq, err := node.U32("clock-frequency")
	if err != nil {
		return hw.UART{}, classify(compat, err)
	}

	u := hw.UART{Base: base, Freq: freq}
	for _, p := range []struct {
		name string
		def  uint32
		dst  *uint32
	}{
		{"current-speed", defaultUARTBaud, &u.Baud},
		{"reg-shift", defaultUARTRegShift, &u.RegShift},
		{"reg-io-width", defaultUARTRegWidth, &u.RegWidth},
	} {
		v, err := node.U32Default(p.name, p.def)
		if err != nil {
			return hw.UART{}, classify(compat, err)
		}
		*p.dst = v
	}
	return u, nil
}

// PLIC reads a PLIC node. reg and riscv,ndev are required.
func (s *FDTSource) PLIC(compat string) (hw.PLIC, error) {
	node, parent, err := s.find(compat)
	if err != nil {
		return hw.PLIC{}, err
	}
	base, _, err := node.Reg(parent, 0)
	if err != nil {
		return hw.PLIC{}, classify(compat, err)
	}
	ndev, err := node.U32("riscv,ndev")
	if err != nil {
		return hw.PLIC{}, classify(compat, err)
	}
	return hw.PLIC{Base: base, NumSources: ndev}, nil
}

// TimebaseFrequency reads /cpus/timebase-frequency.
func (s *FDTSource) TimebaseFrequency() (uint64, error) {
	if s.tree == nil {
		return 0, fmt.Errorf("timebase-frequency: %w: no devicetree", ErrNotFound)
	}
	cpus, err := s.tree.Path("/cpus")
	if err != nil {
		return 0, classify("timebase-frequency", err)
	}
	freq, err := cpus.U64("timebase-frequency")
	if err != nil {
		return 0, classify("timebase-frequency", err)
	}
	if freq == 0 {
		return 0, fmt.Errorf("timebase-frequency: %w: zero", ErrMalformed)
	}
	return freq, nil
}

// CompatAddr returns the first reg address of the node matching compat.
func (s *FDTSource) CompatAddr(compat string) (uint64, error) {
	node, parent, err := s.find(compat)
	if err != nil {
		return 0, err
	}
	addr, _, err := node.Reg(parent, 0)
	if err != nil {
		return 0, classify(compat, err)
	}
	return addr, nil
}

var _ Source = (*FDTSource)(nil)
