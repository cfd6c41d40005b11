// Package board loads board profiles: the compiled-in hardware defaults of a
// platform and, for simulation, the layout of the hardware it really has.
package board

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/bringup/internal/hw"
	"github.com/tinyrange/bringup/internal/platform"
	"github.com/tinyrange/bringup/internal/soc"
)

// Profile describes one board.
type Profile struct {
	Name            string `yaml:"name"`
	Platform        string `yaml:"platform"`
	Version         string `yaml:"version"`
	FirmwareVersion string `yaml:"firmwareVersion,omitempty"`
	Harts           uint32 `yaml:"harts"`
	// BootHart forces the cold-boot hart. Unset means the first hart to
	// enter wins.
	BootHart *int   `yaml:"bootHart,omitempty"`
	StackKB  uint32 `yaml:"stackKB,omitempty"`

	Firmware Region `yaml:"firmware"`

	// Defaults are the parameters compiled into the firmware.
	Defaults Devices `yaml:"defaults"`
	// Hardware is what the simulated board actually has. Unset means it
	// matches Defaults.
	Hardware *Devices `yaml:"hardware,omitempty"`
}

// Region is a physical address range.
type Region struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// Devices lists the discoverable peripherals.
type Devices struct {
	UART     UART   `yaml:"uart"`
	PLIC     PLIC   `yaml:"plic"`
	CLINT    CLINT  `yaml:"clint"`
	Timebase uint64 `yaml:"timebaseFrequency"`
	RAM      Region `yaml:"ram,omitempty"`
}

type UART struct {
	Base     uint64 `yaml:"base"`
	Clock    uint32 `yaml:"clock"`
	Baud     uint32 `yaml:"baud"`
	RegShift uint32 `yaml:"regShift"`
	RegWidth uint32 `yaml:"regWidth"`
}

type PLIC struct {
	Base    uint64 `yaml:"base"`
	Sources uint32 `yaml:"sources"`
}

type CLINT struct {
	Base uint64 `yaml:"base"`
	// Wide reports whether mtime and mtimecmp accept 64-bit accesses.
	Wide *bool `yaml:"wide,omitempty"`
}

func arianeDevices() Devices {
	wide := true
	return Devices{
		UART: UART{
			Base:     hw.ArianeUARTAddr,
			Clock:    hw.ArianeUARTFreq,
			Baud:     hw.ArianeUARTBaudrate,
			RegShift: hw.ArianeUARTRegShift,
			RegWidth: hw.ArianeUARTRegWidth,
		},
		PLIC:     PLIC{Base: hw.ArianePLICAddr, Sources: hw.ArianePLICNumSources},
		CLINT:    CLINT{Base: hw.ArianeCLINTAddr, Wide: &wide},
		Timebase: hw.ArianeMTimerFreq,
		RAM:      Region{Base: 0x8000_0000, Size: 0x4000_0000},
	}
}

// Ariane returns the profile of the Ariane FPGA board.
func Ariane() Profile {
	info := platform.Ariane()
	return Profile{
		Name:            "ariane",
		Platform:        info.Name,
		Version:         info.VersionString(),
		FirmwareVersion: info.FirmwareVersion,
		Harts:           info.HartCount,
		StackKB:         info.StackSize / 1024,
		Firmware:        Region{Base: 0x8000_0000, Size: 0x4_0000},
		Defaults:        arianeDevices(),
	}
}

// Load reads a YAML profile from path.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read board profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML profile. Fields left out take the Ariane values.
func Parse(data []byte) (Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("parse board profile: %w", err)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p *Profile) normalize() {
	def := Ariane()
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.Platform == "" {
		p.Platform = def.Platform
	}
	if p.Version == "" {
		p.Version = def.Version
	}
	if p.Harts == 0 {
		p.Harts = def.Harts
	}
	if p.StackKB == 0 {
		p.StackKB = def.StackKB
	}
	if p.Firmware == (Region{}) {
		p.Firmware = def.Firmware
	}
	p.Defaults.normalize(def.Defaults)
	if p.Hardware != nil {
		p.Hardware.normalize(p.Defaults)
	}
}

func (d *Devices) normalize(def Devices) {
	if d.UART == (UART{}) {
		d.UART = def.UART
	}
	if d.PLIC == (PLIC{}) {
		d.PLIC = def.PLIC
	}
	if d.CLINT.Base == 0 {
		d.CLINT.Base = def.CLINT.Base
	}
	if d.CLINT.Wide == nil {
		d.CLINT.Wide = def.CLINT.Wide
	}
	if d.Timebase == 0 {
		d.Timebase = def.Timebase
	}
	if d.RAM == (Region{}) {
		d.RAM = def.RAM
	}
}

// Validate checks the fields a boot cannot do without.
func (p Profile) Validate() error {
	if p.BootHart != nil && (*p.BootHart < 0 || *p.BootHart >= int(p.Harts)) {
		return fmt.Errorf("board %s: boot hart %d outside 0..%d", p.Name, *p.BootHart, p.Harts-1)
	}
	if _, err := p.platformVersion(); err != nil {
		return fmt.Errorf("board %s: %w", p.Name, err)
	}
	for _, d := range []Devices{p.Defaults, p.HardwareDevices()} {
		if d.UART.Base == 0 || d.PLIC.Base == 0 || d.CLINT.Base == 0 {
			return fmt.Errorf("board %s: device base address is zero", p.Name)
		}
	}
	return nil
}

func (p Profile) platformVersion() (uint32, error) {
	major, minor, ok := strings.Cut(p.Version, ".")
	if !ok {
		return 0, fmt.Errorf("version %q is not major.minor", p.Version)
	}
	maj, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", p.Version, err)
	}
	mnr, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", p.Version, err)
	}
	return platform.Version(uint16(maj), uint16(mnr)), nil
}

// HardwareDevices returns the devices the board really has.
func (p Profile) HardwareDevices() Devices {
	if p.Hardware != nil {
		return *p.Hardware
	}
	return p.Defaults
}

// BootHartID returns the configured cold-boot hart, or -1.
func (p Profile) BootHartID() int {
	if p.BootHart == nil {
		return -1
	}
	return *p.BootHart
}

// Info returns the platform record.
func (p Profile) Info() platform.Info {
	version, _ := p.platformVersion()
	return platform.Info{
		Name:            p.Platform,
		Version:         version,
		HartCount:       p.Harts,
		StackSize:       p.StackKB * 1024,
		Features:        platform.DefaultFeatures,
		FirmwareVersion: p.FirmwareVersion,
	}
}

// Descriptor returns the compiled-in hardware descriptor.
func (p Profile) Descriptor() hw.Descriptor {
	d := p.Defaults
	desc := hw.ArianeDefaults()
	desc.UART = hw.UART{
		Base:     d.UART.Base,
		Freq:     d.UART.Clock,
		Baud:     d.UART.Baud,
		RegShift: d.UART.RegShift,
		RegWidth: d.UART.RegWidth,
	}
	desc.PLIC = hw.PLIC{Base: d.PLIC.Base, NumSources: d.PLIC.Sources}
	desc.MTimer.Freq = d.Timebase
	desc.MTimer.Has64BitMMIO = d.CLINT.Wide == nil || *d.CLINT.Wide
	desc.HartCount = p.Harts
	desc.MSWI.HartCount = p.Harts
	desc.MTimer.HartCount = p.Harts
	desc.RelocateCLINT(d.CLINT.Base)
	return desc
}

// Layout returns the simulated SoC for the board's real hardware.
func (p Profile) Layout() soc.Layout {
	d := p.HardwareDevices()
	return soc.Layout{
		Harts:        int(p.Harts),
		UARTBase:     d.UART.Base,
		UARTClock:    d.UART.Clock,
		UARTBaud:     d.UART.Baud,
		UARTRegShift: d.UART.RegShift,
		UARTRegWidth: d.UART.RegWidth,
		PLICBase:     d.PLIC.Base,
		PLICSources:  d.PLIC.Sources,
		CLINTBase:    d.CLINT.Base,
		TimebaseFreq: d.Timebase,
		RAMBase:      d.RAM.Base,
		RAMSize:      d.RAM.Size,
	}
}

// Marshal encodes the profile as YAML.
func (p Profile) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&p); err != nil {
		return nil, fmt.Errorf("encode board profile: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode board profile: %w", err)
	}
	return buf.Bytes(), nil
}
