package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Tree is a parsed blob: the node hierarchy plus the header fields Build
// needs to write it back.
type Tree struct {
	Root         Node
	Reservations []Reservation
	BootCPU      uint32
}

// Parse decodes an FDT blob. Property values are kept as raw bytes.
func Parse(blob []byte) (*Tree, error) {
	if len(blob) < fdtHeaderSize {
		return nil, fmt.Errorf("fdt: blob too short (%d bytes)", len(blob))
	}
	be := binary.BigEndian
	if magic := be.Uint32(blob[0:4]); magic != fdtMagic {
		return nil, fmt.Errorf("fdt: bad magic 0x%08x", magic)
	}
	total := be.Uint32(blob[4:8])
	if int(total) > len(blob) {
		return nil, fmt.Errorf("fdt: totalsize %d exceeds blob length %d", total, len(blob))
	}
	if lastComp := be.Uint32(blob[24:28]); lastComp > fdtVersion {
		return nil, fmt.Errorf("fdt: unsupported last compatible version %d", lastComp)
	}
	blob = blob[:total]

	offStruct := be.Uint32(blob[8:12])
	offStrings := be.Uint32(blob[12:16])
	offRsv := be.Uint32(blob[16:20])
	sizeStrings := be.Uint32(blob[32:36])
	sizeStruct := be.Uint32(blob[36:40])

	if uint64(offStruct)+uint64(sizeStruct) > uint64(total) ||
		uint64(offStrings)+uint64(sizeStrings) > uint64(total) {
		return nil, fmt.Errorf("fdt: block offsets out of range")
	}

	t := &Tree{BootCPU: be.Uint32(blob[28:32])}

	for off := uint64(offRsv); ; off += 16 {
		if off+16 > uint64(total) {
			return nil, fmt.Errorf("fdt: unterminated memory reservation block")
		}
		r := Reservation{Address: be.Uint64(blob[off:]), Size: be.Uint64(blob[off+8:])}
		if r.Address == 0 && r.Size == 0 {
			break
		}
		t.Reservations = append(t.Reservations, r)
	}

	p := &parser{
		data:    blob[offStruct : offStruct+sizeStruct],
		strings: blob[offStrings : offStrings+sizeStrings],
	}
	p.skipNops()
	tok, err := p.token()
	if err != nil {
		return nil, err
	}
	if tok != fdtBeginNodeToken {
		return nil, fmt.Errorf("fdt: structure block starts with token 0x%x", tok)
	}
	if err := p.node(&t.Root); err != nil {
		return nil, err
	}
	p.skipNops()
	if tok, err := p.token(); err != nil || tok != fdtEndToken {
		return nil, fmt.Errorf("fdt: missing end token")
	}
	return t, nil
}

type parser struct {
	data    []byte
	strings []byte
	off     int
}

func (p *parser) token() (uint32, error) {
	if p.off+4 > len(p.data) {
		return 0, fmt.Errorf("fdt: truncated structure block at 0x%x", p.off)
	}
	v := binary.BigEndian.Uint32(p.data[p.off:])
	p.off += 4
	return v, nil
}

func (p *parser) skipNops() {
	for p.off+4 <= len(p.data) && binary.BigEndian.Uint32(p.data[p.off:]) == fdtNopToken {
		p.off += 4
	}
}

func (p *parser) align() {
	p.off = (p.off + 3) &^ 3
}

func (p *parser) cstring(buf []byte, off int) (string, int, error) {
	if off < 0 || off >= len(buf) {
		return "", 0, fmt.Errorf("fdt: string offset 0x%x out of range", off)
	}
	end := bytes.IndexByte(buf[off:], 0)
	if end < 0 {
		return "", 0, fmt.Errorf("fdt: unterminated string at 0x%x", off)
	}
	return string(buf[off : off+end]), off + end + 1, nil
}

// node parses the body of a node whose begin token was already consumed.
func (p *parser) node(n *Node) error {
	name, next, err := p.cstring(p.data, p.off)
	if err != nil {
		return err
	}
	n.Name = name
	p.off = next
	p.align()

	for {
		tok, err := p.token()
		if err != nil {
			return err
		}
		switch tok {
		case fdtNopToken:
		case fdtPropToken:
			if p.off+8 > len(p.data) {
				return fmt.Errorf("fdt: truncated property in %q", n.Name)
			}
			length := int(binary.BigEndian.Uint32(p.data[p.off:]))
			nameOff := int(binary.BigEndian.Uint32(p.data[p.off+4:]))
			p.off += 8
			if p.off+length > len(p.data) {
				return fmt.Errorf("fdt: property value overruns structure block in %q", n.Name)
			}
			propName, _, err := p.cstring(p.strings, nameOff)
			if err != nil {
				return err
			}
			var prop Property
			if length == 0 {
				prop.Flag = true
			} else {
				prop.Bytes = append([]byte(nil), p.data[p.off:p.off+length]...)
			}
			n.Set(propName, prop)
			p.off += length
			p.align()
		case fdtBeginNodeToken:
			var child Node
			if err := p.node(&child); err != nil {
				return err
			}
			n.Children = append(n.Children, child)
		case fdtEndNodeToken:
			return nil
		default:
			return fmt.Errorf("fdt: unexpected token 0x%x in %q", tok, n.Name)
		}
	}
}

// Blob serializes the tree back into an FDT blob.
func (t *Tree) Blob() ([]byte, error) {
	return BuildWithReservations(t.Root, t.Reservations, t.BootCPU)
}
