// Package fdt reads, edits and writes Flattened Device Tree blobs, the
// hardware description handed to firmware at boot.
package fdt

import (
	"encoding/binary"
	"errors"
	"strings"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("fdt: not found")

// Property holds a single device-tree property. Exactly one of the typed
// fields should be populated. Properties read back from a blob carry their
// raw encoding in Bytes, or Flag for empty properties.
type Property struct {
	Strings []string `json:"strings,omitempty"`
	U32     []uint32 `json:"u32,omitempty"`
	U64     []uint64 `json:"u64,omitempty"`
	Bytes   []byte   `json:"bytes,omitempty"`
	Flag    bool     `json:"flag,omitempty"`
}

// Kind returns the name of the populated field or an empty string if none are set.
func (p Property) Kind() string {
	switch {
	case len(p.Strings) > 0:
		return "strings"
	case len(p.U32) > 0:
		return "u32"
	case len(p.U64) > 0:
		return "u64"
	case len(p.Bytes) > 0:
		return "bytes"
	case p.Flag:
		return "flag"
	default:
		return ""
	}
}

// DefinedCount reports how many distinct fields on the property are populated.
func (p Property) DefinedCount() int {
	count := 0
	if len(p.Strings) > 0 {
		count++
	}
	if len(p.U32) > 0 {
		count++
	}
	if len(p.U64) > 0 {
		count++
	}
	if len(p.Bytes) > 0 {
		count++
	}
	if p.Flag {
		count++
	}
	return count
}

// Encode returns the big-endian wire form of the property value.
func (p Property) Encode() []byte {
	switch p.Kind() {
	case "strings":
		var data []byte
		for _, v := range p.Strings {
			data = append(data, v...)
			data = append(data, 0)
		}
		return data
	case "u32":
		data := make([]byte, len(p.U32)*4)
		for i, v := range p.U32 {
			binary.BigEndian.PutUint32(data[i*4:], v)
		}
		return data
	case "u64":
		data := make([]byte, len(p.U64)*8)
		for i, v := range p.U64 {
			binary.BigEndian.PutUint64(data[i*8:], v)
		}
		return data
	case "bytes":
		return append([]byte(nil), p.Bytes...)
	default:
		return nil
	}
}

// Cells decodes the property as a list of 32-bit cells.
func (p Property) Cells() ([]uint32, bool) {
	data := p.Encode()
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	cells := make([]uint32, len(data)/4)
	for i := range cells {
		cells[i] = binary.BigEndian.Uint32(data[i*4:])
	}
	return cells, true
}

// StringList decodes the property as a NUL separated string list.
func (p Property) StringList() []string {
	if len(p.Strings) > 0 {
		return p.Strings
	}
	data := p.Encode()
	if len(data) == 0 || data[len(data)-1] != 0 {
		return nil
	}
	return strings.Split(string(data[:len(data)-1]), "\x00")
}

// Node describes a device-tree node using JSON-friendly structures.
type Node struct {
	Name       string              `json:"name"`
	Properties map[string]Property `json:"properties,omitempty"`
	Children   []Node              `json:"children,omitempty"`
}

// Prop returns the named property.
func (n *Node) Prop(name string) (Property, bool) {
	p, ok := n.Properties[name]
	return p, ok
}

// Set stores a property, allocating the map on first use.
func (n *Node) Set(name string, p Property) {
	if n.Properties == nil {
		n.Properties = make(map[string]Property)
	}
	n.Properties[name] = p
}

// Child returns the direct child with the given name.
func (n *Node) Child(name string) *Node {
	for i := range n.Children {
		if n.Children[i].Name == name {
			return &n.Children[i]
		}
	}
	return nil
}

// UnitName returns the node name without its unit address.
func (n *Node) UnitName() string {
	name, _, _ := strings.Cut(n.Name, "@")
	return name
}

// Compatible reports whether the node lists compat in its compatible property.
func (n *Node) Compatible(compat string) bool {
	p, ok := n.Properties["compatible"]
	if !ok {
		return false
	}
	for _, c := range p.StringList() {
		if c == compat {
			return true
		}
	}
	return false
}

// Walk visits n and its descendants depth first, passing each node's parent.
// Returning false from fn stops the walk.
func (n *Node) Walk(fn func(parent, node *Node) bool) bool {
	return n.walk(nil, fn)
}

func (n *Node) walk(parent *Node, fn func(parent, node *Node) bool) bool {
	if !fn(parent, n) {
		return false
	}
	for i := range n.Children {
		if !n.Children[i].walk(n, fn) {
			return false
		}
	}
	return true
}
