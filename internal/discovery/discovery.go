// Package discovery refines the hardware descriptor from a hardware
// description blob.
//
// Each query either yields a complete record for its subsystem, which then
// replaces that subsystem's defaults in full, or fails and leaves them alone.
package discovery

import (
	"errors"
	"log/slog"

	"github.com/tinyrange/bringup/internal/hw"
)

var (
	// ErrNotFound means the blob has no node matching a selector, or the node
	// lacks a required property.
	ErrNotFound = errors.New("discovery: not found")
	// ErrMalformed means a matching node exists but a property cannot be
	// decoded.
	ErrMalformed = errors.New("discovery: malformed record")
)

// Selectors used on the Ariane board.
const (
	UARTCompatible  = "ns16550"
	PLICCompatible  = "riscv,plic0"
	CLINTCompatible = "riscv,clint0"
)

// Source answers hardware description queries.
type Source interface {
	UART(compat string) (hw.UART, error)
	PLIC(compat string) (hw.PLIC, error)
	TimebaseFrequency() (uint64, error)
	CompatAddr(compat string) (uint64, error)
}

// Result is the outcome of one query.
type Result struct {
	Group    hw.Group
	Selector string
	Err      error
}

// Report lists every query in the order it ran.
type Report []Result

// Applied returns the groups that were overridden.
func (r Report) Applied() []hw.Group {
	var out []hw.Group
	for _, res := range r {
		if res.Err == nil {
			out = append(out, res.Group)
		}
	}
	return out
}

// Failed returns the results whose query did not succeed.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Apply runs the UART, PLIC, timebase and CLINT queries against src and
// installs each successful answer in b. Query failures are recorded in the
// report and never returned; the only error is a builder that is already
// frozen.
func Apply(src Source, b *hw.Builder, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}

	queries := []struct {
		group    hw.Group
		selector string
		run      func() error
	}{
		{hw.GroupUART, UARTCompatible, func() error {
			u, err := src.UART(UARTCompatible)
			if err != nil {
				return err
			}
			return b.SetUART(u)
		}},
		{hw.GroupPLIC, PLICCompatible, func() error {
			p, err := src.PLIC(PLICCompatible)
			if err != nil {
				return err
			}
			return b.SetPLIC(p)
		}},
		{hw.GroupTimebase, "timebase-frequency", func() error {
			freq, err := src.TimebaseFrequency()
			if err != nil {
				return err
			}
			return b.SetTimebaseFrequency(freq)
		}},
		{hw.GroupCLINT, CLINTCompatible, func() error {
			base, err := src.CompatAddr(CLINTCompatible)
			if err != nil {
				return err
			}
			return b.SetCLINTBase(base)
		}},
	}

	var report Report
	for _, q := range queries {
		err := q.run()
		if errors.Is(err, hw.ErrFrozen) {
			return report, err
		}
		report = append(report, Result{Group: q.group, Selector: q.selector, Err: err})
		if err != nil {
			logger.Debug("discovery failed, keeping defaults", "group", q.group, "selector", q.selector, "error", err)
			continue
		}
		logger.Debug("discovered", "group", q.group, "selector", q.selector)
	}
	return report, nil
}
