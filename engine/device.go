package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// ErrUnsupportedDevice is returned for execution devices this engine cannot drive.
var ErrUnsupportedDevice = errors.New("engine: unsupported device")

// Device names the hardware a model executes on.
type Device string

const (
	CPU Device = "cpu"
)

func (d Device) String() string {
	return string(d)
}

// ParseDevice maps a device name to a Device. An empty name selects the CPU.
func ParseDevice(name string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu":
		return CPU, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDevice, name)
	}
}

// DeviceInfo describes the processor backing a Device.
type DeviceInfo struct {
	Device        Device
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	// SIMD reports whether the wide vector units gonum's kernels benefit from are present.
	SIMD     bool
	Features []string
}

// DetectDevice inspects the host CPU.
func DetectDevice(d Device) DeviceInfo {
	return DeviceInfo{
		Device:        d,
		Brand:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		SIMD:          cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3) || cpuid.CPU.Supports(cpuid.ASIMD),
		Features:      cpuid.CPU.FeatureSet(),
	}
}

func (di DeviceInfo) String() string {
	brand := di.Brand
	if brand == "" {
		brand = "unknown CPU"
	}
	return fmt.Sprintf("%s (%s, %d cores / %d threads, simd=%t)",
		di.Device, brand, di.PhysicalCores, di.LogicalCores, di.SIMD)
}
