package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/bringup/internal/board"
	"github.com/tinyrange/bringup/internal/csr"
	"github.com/tinyrange/bringup/internal/discovery"
	"github.com/tinyrange/bringup/internal/fdt"
	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/mmio"
	"github.com/tinyrange/bringup/internal/platform"
	"github.com/tinyrange/bringup/internal/sbiinit"
	"github.com/tinyrange/bringup/internal/soc"
	"github.com/tinyrange/bringup/internal/timeslice"
)

type options struct {
	board     string
	harts     int
	bootHart  int
	dtb       string
	dumpDTB   string
	dumpBoard bool
	devmem    string
	logLevel  string
	progress  string
	timeslice string
	timeout   time.Duration
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid -log-level %q", s)
	}
	return level, nil
}

func loadProfile(o options) (board.Profile, error) {
	p := board.Ariane()
	if o.board != "" {
		var err error
		if p, err = board.Load(o.board); err != nil {
			return board.Profile{}, err
		}
	}
	if o.harts > 0 {
		p.Harts = uint32(o.harts)
	}
	switch {
	case o.bootHart == -1:
		p.BootHart = nil
	case o.bootHart >= 0:
		id := o.bootHart
		p.BootHart = &id
	}
	return p, p.Validate()
}

// progressReporter counts harts reaching handoff.
type progressReporter struct {
	bar *progressbar.ProgressBar
}

func newProgress(mode string, harts int) (*progressReporter, error) {
	show := false
	switch mode {
	case "auto":
		show = term.IsTerminal(int(os.Stderr.Fd()))
	case "always":
		show = true
	case "never":
	default:
		return nil, fmt.Errorf("invalid -progress %q", mode)
	}
	if !show {
		return &progressReporter{}, nil
	}
	bar := progressbar.NewOptions(harts,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("harts ready"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return &progressReporter{bar: bar}, nil
}

func (p *progressReporter) ready(uint32, platform.Role) {
	if p.bar != nil {
		p.bar.Add(1)
	}
}

func (p *progressReporter) close() {
	if p.bar != nil {
		p.bar.Close()
	}
}

// target is the hardware bring-up drives: the simulated board or the
// registers of the running machine.
type target struct {
	bus   mmio.Accessor
	csrs  func(uint32) csr.File
	blob  []byte
	close func() error
}

func simulated(p board.Profile, dtbPath string) (*target, error) {
	b, err := soc.NewBoard(p.Layout(), os.Stdout)
	if err != nil {
		return nil, err
	}
	blob, err := b.DeviceTreeBlob(soc.DeviceTreeOptions{Bootargs: "console=ttyS0"})
	if err != nil {
		return nil, fmt.Errorf("build devicetree: %w", err)
	}
	if dtbPath != "" {
		if blob, err = os.ReadFile(dtbPath); err != nil {
			return nil, fmt.Errorf("read devicetree: %w", err)
		}
	}
	return &target{
		bus:   b.Bus,
		csrs:  func(h uint32) csr.File { return b.CSR(h) },
		blob:  blob,
		close: func() error { return nil },
	}, nil
}

// devmemWindows lists the register ranges the drivers touch for d.
func devmemWindows(d hw.Descriptor) []platform.Region {
	contexts := uint64(2 * d.HartCount)
	mtimeEnd := max(d.MTimer.MtimeAddr+d.MTimer.MtimeSize, d.MTimer.MtimecmpAddr+uint64(d.HartCount)*8)
	mtimeStart := min(d.MTimer.MtimeAddr, d.MTimer.MtimecmpAddr)
	return []platform.Region{
		{Base: d.UART.Base, Size: 8 << d.UART.RegShift},
		{Base: d.PLIC.Base, Size: 0x200000 + contexts*0x1000},
		{Base: d.MSWI.Base, Size: uint64(d.HartCount) * 4},
		{Base: mtimeStart, Size: mtimeEnd - mtimeStart},
	}
}

func physical(p board.Profile, path, dtbPath string, logger *slog.Logger) (*target, error) {
	var blob []byte
	if dtbPath != "" {
		var err error
		if blob, err = os.ReadFile(dtbPath); err != nil {
			return nil, fmt.Errorf("read devicetree: %w", err)
		}
	}

	// Resolve the descriptor up front so the windows cover the discovered
	// addresses, not just the defaults.
	b := hw.NewBuilder(p.Descriptor())
	if blob != nil {
		tree, err := fdt.Parse(blob)
		if err != nil {
			return nil, err
		}
		if _, err := discovery.Apply(discovery.NewFDTSource(tree), b, logger); err != nil {
			return nil, err
		}
	}
	cfg, err := b.Freeze()
	if err != nil {
		return nil, err
	}

	mem, err := mmio.OpenDevMem(path)
	if err != nil {
		return nil, err
	}
	for _, w := range devmemWindows(cfg.Descriptor()) {
		if err := mem.Map(w.Base, w.Size); err != nil {
			mem.Close()
			return nil, err
		}
	}
	return &target{
		bus:   mem,
		csrs:  func(h uint32) csr.File { return csr.LogFile{Hart: h, Logger: logger} },
		blob:  blob,
		close: mem.Close,
	}, nil
}

func banner(w io.Writer, p *platform.Platform) {
	info := p.Info()
	cfg := p.Config()
	cold, _ := p.ColdBootHart()
	fmt.Fprintf(w, "Platform Name          : %s\n", info.Name)
	fmt.Fprintf(w, "Platform Version       : %s\n", info.VersionString())
	fmt.Fprintf(w, "Platform Features      : %s\n", info.Features)
	fmt.Fprintf(w, "Platform HART Count    : %d\n", info.HartCount)
	fmt.Fprintf(w, "Platform Stack Size    : %d bytes\n", info.StackSize)
	fmt.Fprintf(w, "Boot HART ID           : %d\n", cold)
	fmt.Fprintf(w, "Console                : 0x%08x %d baud\n", cfg.UART().Base, cfg.UART().Baud)
	fmt.Fprintf(w, "Timer Frequency        : %d Hz\n", cfg.MTimer().Freq)
	var discovered []string
	for _, g := range p.Discovery().Applied() {
		discovered = append(discovered, string(g))
	}
	if len(discovered) == 0 {
		discovered = []string{"none"}
	}
	fmt.Fprintf(w, "Discovered             : %s\n", strings.Join(discovered, ", "))
}

func run() error {
	var o options
	flag.StringVar(&o.board, "board", "", "board profile YAML (default: built-in Ariane)")
	flag.IntVar(&o.harts, "harts", 0, "override the board's hart count")
	flag.IntVar(&o.bootHart, "boot-hart", -2, "cold-boot hart id, -1 for first to arrive (default: board profile)")
	flag.StringVar(&o.dtb, "dtb", "", "devicetree blob to discover from (default: generated from the board)")
	flag.StringVar(&o.dumpDTB, "dump-dtb", "", "write the fixed-up devicetree blob to this file")
	flag.BoolVar(&o.dumpBoard, "dump-board", false, "print the resolved board profile and exit")
	flag.StringVar(&o.devmem, "devmem", "", "drive real registers through this memory device instead of simulating")
	flag.StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&o.progress, "progress", "auto", "show hart progress (auto, always, never)")
	flag.StringVar(&o.timeslice, "timeslice", "", "write per-hart bring-up step timings to this file")
	flag.DurationVar(&o.timeout, "timeout", 10*time.Second, "give up if harts are not ready in time")
	flag.Parse()

	level, err := parseLevel(o.logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	profile, err := loadProfile(o)
	if err != nil {
		return err
	}
	if o.dumpBoard {
		data, err := profile.Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	var tgt *target
	if o.devmem != "" {
		tgt, err = physical(profile, o.devmem, o.dtb, logger)
	} else {
		tgt, err = simulated(profile, o.dtb)
	}
	if err != nil {
		return err
	}
	defer tgt.close()

	var image *fdt.Image
	if tgt.blob != nil {
		image = fdt.NewImage(tgt.blob)
	}
	plat, err := platform.New(platform.Options{
		Info:     profile.Info(),
		Defaults: profile.Descriptor(),
		Bus:      tgt.bus,
		CSRs:     tgt.csrs,
		Image:    image,
		Firmware: platform.Region(profile.Firmware),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	progress, err := newProgress(o.progress, int(profile.Harts))
	if err != nil {
		return err
	}
	seq := sbiinit.New(plat, sbiinit.Options{
		BootHart: profile.BootHartID(),
		OnReady:  progress.ready,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if o.timeslice != "" {
		closeSlices, err := openTimeslice(o.timeslice)
		if err != nil {
			return err
		}
		defer closeSlices()
	}

	harts := make([]uint32, profile.Harts)
	for i := range harts {
		harts[i] = uint32(i)
	}
	err = seq.Run(ctx, harts)
	progress.close()
	if err != nil {
		return fmt.Errorf("bring-up: %w", err)
	}

	if c := plat.Console(); c != nil {
		banner(c, plat)
	}

	if o.dumpDTB != "" && image != nil {
		if err := os.WriteFile(o.dumpDTB, image.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write devicetree: %w", err)
		}
	}
	return nil
}

func openTimeslice(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create timeslice log: %w", err)
	}
	log, err := timeslice.Open(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		if err := log.Close(); err != nil {
			slog.Warn("close timeslice log", "error", err)
		}
		f.Close()
	}, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bringup: %v\n", err)
		os.Exit(1)
	}
}
