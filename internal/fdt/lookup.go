package fdt

import (
	"fmt"
	"strings"
)

// Default cell sizes from the devicetree specification.
const (
	defaultAddressCells = 2
	defaultSizeCells    = 1
)

// FindCompatible returns the first node, in depth-first order, listing compat,
// together with its parent.
func (t *Tree) FindCompatible(compat string) (node, parent *Node, err error) {
	t.Root.Walk(func(p, n *Node) bool {
		if n.Compatible(compat) {
			node, parent = n, p
			return false
		}
		return true
	})
	if node == nil {
		return nil, nil, fmt.Errorf("compatible %q: %w", compat, ErrNotFound)
	}
	return node, parent, nil
}

// Path resolves an absolute node path such as "/cpus/cpu@0".
func (t *Tree) Path(path string) (*Node, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("fdt: path %q is not absolute", path)
	}
	n := &t.Root
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		n = n.Child(part)
		if n == nil {
			return nil, fmt.Errorf("path %q: %w", path, ErrNotFound)
		}
	}
	return n, nil
}

// U32 reads a single-cell property.
func (n *Node) U32(name string) (uint32, error) {
	p, ok := n.Properties[name]
	if !ok {
		return 0, fmt.Errorf("%s: property %q: %w", n.Name, name, ErrNotFound)
	}
	cells, ok := p.Cells()
	if !ok || len(cells) != 1 {
		return 0, fmt.Errorf("%s: property %q is not a single cell", n.Name, name)
	}
	return cells[0], nil
}

// U64 reads a one- or two-cell property.
func (n *Node) U64(name string) (uint64, error) {
	p, ok := n.Properties[name]
	if !ok {
		return 0, fmt.Errorf("%s: property %q: %w", n.Name, name, ErrNotFound)
	}
	cells, ok := p.Cells()
	if !ok || len(cells) > 2 {
		return 0, fmt.Errorf("%s: property %q is not a 1 or 2 cell value", n.Name, name)
	}
	return joinCells(cells), nil
}

// U32Default reads a single-cell property, returning def when it is absent.
func (n *Node) U32Default(name string, def uint32) (uint32, error) {
	if _, ok := n.Properties[name]; !ok {
		return def, nil
	}
	return n.U32(name)
}

// cellCount returns a #address-cells style value from n, or def.
func (n *Node) cellCount(name string, def int) int {
	if n == nil {
		return def
	}
	v, err := n.U32(name)
	if err != nil {
		return def
	}
	return int(v)
}

// Reg decodes entry idx of the node's reg property using the parent's
// #address-cells and #size-cells.
func (n *Node) Reg(parent *Node, idx int) (addr, size uint64, err error) {
	p, ok := n.Properties["reg"]
	if !ok {
		return 0, 0, fmt.Errorf("%s: reg: %w", n.Name, ErrNotFound)
	}
	cells, ok := p.Cells()
	if !ok {
		return 0, 0, fmt.Errorf("%s: malformed reg", n.Name)
	}
	ac := parent.cellCount("#address-cells", defaultAddressCells)
	sc := parent.cellCount("#size-cells", defaultSizeCells)
	if ac < 1 || ac > 2 || sc > 2 {
		return 0, 0, fmt.Errorf("%s: unsupported cell sizes %d/%d", n.Name, ac, sc)
	}
	stride := ac + sc
	if (idx+1)*stride > len(cells) {
		return 0, 0, fmt.Errorf("%s: reg entry %d: %w", n.Name, idx, ErrNotFound)
	}
	entry := cells[idx*stride : (idx+1)*stride]
	return joinCells(entry[:ac]), joinCells(entry[ac:]), nil
}

func joinCells(cells []uint32) uint64 {
	var v uint64
	for _, c := range cells {
		v = v<<32 | uint64(c)
	}
	return v
}

// RegCells encodes an address/size pair as 2+2 cells.
func RegCells(addr, size uint64) Property {
	return Property{U32: []uint32{
		uint32(addr >> 32), uint32(addr),
		uint32(size >> 32), uint32(size),
	}}
}
