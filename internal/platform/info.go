package platform

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// FirmwareVersion is the version of the firmware the coordinator is part of.
const FirmwareVersion = "v0.6.0"

// Feature is a platform capability flag.
type Feature uint64

const (
	FeatureTimerValue Feature = 1 << iota
	FeatureHartHotplug
	FeaturePMP
	FeatureScounteren
	FeatureMcounteren
	FeatureMFaultsDelegation

	DefaultFeatures = FeatureTimerValue | FeatureHartHotplug | FeaturePMP |
		FeatureScounteren | FeatureMcounteren | FeatureMFaultsDelegation
)

var featureNames = []string{
	"timer_value",
	"hart_hotplug",
	"pmp",
	"scounteren",
	"mcounteren",
	"mfaults_delegation",
}

func (f Feature) String() string {
	var names []string
	for i, name := range featureNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Info identifies a platform to the firmware.
type Info struct {
	Name      string
	Version   uint32 // major<<16 | minor
	HartCount uint32
	StackSize uint32
	Features  Feature

	// FirmwareVersion is the oldest firmware the platform was built for.
	FirmwareVersion string
}

// Version packs a platform version number.
func Version(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}

// Ariane returns the platform record for the Ariane FPGA board.
func Ariane() Info {
	return Info{
		Name:            "ARIANE RISC-V",
		Version:         Version(0, 1),
		HartCount:       2,
		StackSize:       8192,
		Features:        DefaultFeatures,
		FirmwareVersion: FirmwareVersion,
	}
}

// VersionString formats Version as major.minor.
func (i Info) VersionString() string {
	return fmt.Sprintf("%d.%d", i.Version>>16, i.Version&0xffff)
}

// Validate rejects a platform that cannot run under the given firmware
// version: an empty name, no harts, or a platform built for newer firmware.
func (i Info) Validate(firmware string) error {
	if i.Name == "" {
		return fmt.Errorf("platform: empty name")
	}
	if i.HartCount == 0 {
		return fmt.Errorf("platform: %s: hart count is zero", i.Name)
	}
	if !semver.IsValid(firmware) {
		return fmt.Errorf("platform: invalid firmware version %q", firmware)
	}
	if i.FirmwareVersion == "" {
		return nil
	}
	if !semver.IsValid(i.FirmwareVersion) {
		return fmt.Errorf("platform: %s: invalid firmware version %q", i.Name, i.FirmwareVersion)
	}
	if semver.Compare(i.FirmwareVersion, firmware) > 0 {
		return fmt.Errorf("platform: %s built for firmware %s, running %s", i.Name, i.FirmwareVersion, firmware)
	}
	return nil
}
