package mmio

import "testing"

type ram struct {
	data []byte
}

func (r *ram) Size() uint64 { return uint64(len(r.data)) }

func (r *ram) Read(offset uint64, size int) (uint64, error) {
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(r.data[offset+uint64(i)])
	}
	return v, nil
}

func (r *ram) Write(offset uint64, size int, value uint64) error {
	for i := 0; i < size; i++ {
		r.data[offset+uint64(i)] = byte(value >> (8 * i))
	}
	return nil
}

func TestBusDecode(t *testing.T) {
	bus := NewBus()
	hi, lo := &ram{data: make([]byte, 0x100)}, &ram{data: make([]byte, 0x100)}
	if err := bus.AddDevice(0x2000, hi); err != nil {
		t.Fatal(err)
	}
	if err := bus.AddDevice(0x1000, lo); err != nil {
		t.Fatal(err)
	}

	if err := bus.Write64(0x2008, 0x1122334455667788); err != nil {
		t.Fatal(err)
	}
	if v, err := bus.Read32(0x200c); err != nil || v != 0x11223344 {
		t.Fatalf("Read32 = 0x%x, %v", v, err)
	}
	if err := bus.Write8(0x1000, 0xaa); err != nil {
		t.Fatal(err)
	}
	if lo.data[0] != 0xaa || hi.data[0] != 0 {
		t.Fatal("write decoded to the wrong device")
	}

	m := bus.Mappings()
	if len(m) != 2 || m[0].Base != 0x1000 || m[1].Base != 0x2000 {
		t.Fatalf("mappings = %+v", m)
	}
}

func TestBusErrors(t *testing.T) {
	bus := NewBus()
	if err := bus.AddDevice(0x1000, &ram{data: make([]byte, 0x100)}); err != nil {
		t.Fatal(err)
	}
	if err := bus.AddDevice(0x10f0, &ram{data: make([]byte, 0x100)}); err == nil {
		t.Error("overlapping mapping accepted")
	}
	if err := bus.AddDevice(0x3000, &ram{}); err == nil {
		t.Error("empty mapping accepted")
	}
	if _, err := bus.Read32(0x5000); err == nil {
		t.Error("read of unmapped address succeeded")
	}
	// Straddling the end of a device is not decoded.
	if err := bus.Write64(0x10fc, 0); err == nil {
		t.Error("straddling write succeeded")
	}
}
