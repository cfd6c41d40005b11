// Package timeslice records how long each hart spends in each bring-up step
// as a compact binary log.
//
// A log is a header, a JSON table of slice kinds padded to 4 KiB, then fixed
// size little-endian records. Recording is a no-op until Open is called.
package timeslice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	Magic   uint32 = 0x54534c46 // "TSLF"
	Version uint32 = 3

	pageSize = 4096
)

type header struct {
	Magic       uint32
	Version     uint32
	KindsLength uint32
}

// KindID names one kind of slice in a log.
type KindID uint32

// Kind describes a registered slice kind.
type Kind struct {
	Name  string
	Flags Flags
}

// Flags classify a slice kind.
type Flags uint32

const (
	FlagCold Flags = 1 << iota
	FlagWarm
)

func (f Flags) String() string {
	var flags []string
	if f&FlagCold != 0 {
		flags = append(flags, "cold")
	}
	if f&FlagWarm != 0 {
		flags = append(flags, "warm")
	}
	return strings.Join(flags, ",")
}

var (
	kindsMu sync.Mutex
	kinds   = make(map[KindID]Kind)
)

// RegisterKind adds a slice kind. Kinds registered after Open are not
// described in that log.
func RegisterKind(name string, flags Flags) KindID {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	id := KindID(len(kinds) + 1)
	kinds[id] = Kind{Name: name, Flags: flags}
	return id
}

type record struct {
	Kind     KindID
	Hart     uint32
	Duration int64
}

var recordSize = binary.Size(record{})

type writer struct {
	w       io.Writer
	records chan record
	done    chan error
}

func (w *writer) run() {
	defer close(w.done)

	buf := make([]byte, pageSize)
	off := 0
	for rec := range w.records {
		if off+recordSize > len(buf) {
			if _, err := w.w.Write(buf[:off]); err != nil {
				w.done <- err
				// Drain so Record never blocks on a dead log.
				for range w.records {
				}
				return
			}
			off = 0
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(rec.Kind))
		binary.LittleEndian.PutUint32(buf[off+4:], rec.Hart)
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(rec.Duration))
		off += recordSize
	}
	if off > 0 {
		if _, err := w.w.Write(buf[:off]); err != nil {
			w.done <- err
			return
		}
	}
	w.done <- nil
}

// Close flushes the log and stops recording.
func (w *writer) Close() error {
	if !current.CompareAndSwap(w, nil) {
		return fmt.Errorf("timeslice: already closed")
	}
	close(w.records)
	if err := <-w.done; err != nil {
		return fmt.Errorf("timeslice: write records: %w", err)
	}
	return nil
}

var current atomic.Pointer[writer]

// Open starts a log on w. Only one log may be open at a time.
func Open(w io.Writer) (io.Closer, error) {
	if current.Load() != nil {
		return nil, fmt.Errorf("timeslice: already open")
	}

	kindsMu.Lock()
	table, err := json.Marshal(kinds)
	kindsMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("timeslice: encode kinds: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, header{
		Magic:       Magic,
		Version:     Version,
		KindsLength: uint32(len(table)),
	}); err != nil {
		return nil, fmt.Errorf("timeslice: write header: %w", err)
	}
	if _, err := w.Write(table); err != nil {
		return nil, fmt.Errorf("timeslice: write kinds: %w", err)
	}
	if pad := padding(binary.Size(header{}) + len(table)); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return nil, fmt.Errorf("timeslice: write padding: %w", err)
		}
	}

	wr := &writer{
		w:       w,
		records: make(chan record, pageSize),
		done:    make(chan error, 1),
	}
	if !current.CompareAndSwap(nil, wr) {
		return nil, fmt.Errorf("timeslice: already open")
	}
	go wr.run()
	return wr, nil
}

func padding(off int) int {
	if off%pageSize == 0 {
		return 0
	}
	return pageSize - off%pageSize
}

// Record logs one slice of d for hart.
func Record(id KindID, hart uint32, d time.Duration) {
	if w := current.Load(); w != nil {
		w.records <- record{Kind: id, Hart: hart, Duration: d.Nanoseconds()}
	}
}

// Recorder times consecutive steps on one hart. It is not safe for
// concurrent use.
type Recorder struct {
	hart uint32
	last time.Time
}

// NewRecorder starts timing on hart.
func NewRecorder(hart uint32) *Recorder {
	return &Recorder{hart: hart, last: time.Now()}
}

// Record logs the time since the previous Record, or since NewRecorder.
func (r *Recorder) Record(id KindID) {
	now := time.Now()
	Record(id, r.hart, now.Sub(r.last))
	r.last = now
}

// Entry is one decoded record.
type Entry struct {
	Kind     Kind
	Hart     uint32
	Duration time.Duration
}

// ReadAll decodes a log, calling fn for each record in order.
func ReadAll(r io.Reader, fn func(Entry) error) error {
	buf := bufio.NewReaderSize(r, pageSize)

	var h header
	if err := binary.Read(buf, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("timeslice: read header: %w", err)
	}
	if h.Magic != Magic {
		return fmt.Errorf("timeslice: invalid magic 0x%08x", h.Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("timeslice: unsupported version %d", h.Version)
	}

	var table map[KindID]Kind
	if err := json.NewDecoder(io.LimitReader(buf, int64(h.KindsLength))).Decode(&table); err != nil {
		return fmt.Errorf("timeslice: decode kinds: %w", err)
	}
	if pad := padding(binary.Size(header{}) + int(h.KindsLength)); pad > 0 {
		if _, err := buf.Discard(pad); err != nil {
			return fmt.Errorf("timeslice: skip padding: %w", err)
		}
	}

	for {
		var rec record
		if err := binary.Read(buf, binary.LittleEndian, &rec); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("timeslice: read record: %w", err)
		}
		kind, ok := table[rec.Kind]
		if !ok {
			return fmt.Errorf("timeslice: unknown kind %d", rec.Kind)
		}
		if err := fn(Entry{Kind: kind, Hart: rec.Hart, Duration: time.Duration(rec.Duration)}); err != nil {
			return err
		}
	}
}
