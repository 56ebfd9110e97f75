package device

import (
	"aurora/kernel"
	"io"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Any diagnostic output
	// generated while probing hardware is written to w.
	DriverInit(w io.Writer) *kernel.Error
}

// DetectOrder specifies the relative order in which driver probe functions
// are invoked by the HAL. Drivers that other probes depend on (e.g. the
// ACPI tables that interrupt routing relies on) must run before them.
type DetectOrder uint8

const (
	// DetectOrderEarly is reserved for drivers that must be probed before
	// anything else (e.g. the primary console).
	DetectOrderEarly DetectOrder = iota

	// DetectOrderBeforeACPI is used by drivers that must be probed before
	// the ACPI driver.
	DetectOrderBeforeACPI

	// DetectOrderACPI is used by the ACPI driver itself.
	DetectOrderACPI

	// DetectOrderLast is reserved for drivers that should be probed once
	// everything else has been detected.
	DetectOrderLast
)

// ProbeFn attempts to detect and initialize a particular piece of hardware.
// It returns nil if the hardware is not present.
type ProbeFn func() Driver

// DriverInfo associates a probe function with the order in which it should
// run relative to other registered probes.
type DriverInfo struct {
	// Order determines when Probe is invoked relative to other drivers.
	Order DetectOrder

	// Probe attempts to detect the driver's hardware.
	Probe ProbeFn
}

// DriverInfoList is a sortable list of DriverInfo entries, ordered by Order.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int           { return len(l) }
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
func (l DriverInfoList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// registeredDrivers holds every driver registered via RegisterDriver.
var registeredDrivers DriverInfoList

// RegisterDriver adds info to the set of known drivers. It is typically
// invoked from a driver package's init function.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the full set of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
