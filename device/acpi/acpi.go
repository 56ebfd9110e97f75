// Package acpi detects whether the boot loader supplied an ACPI RSDP tag.
// Presence is all the core cares about: interrupt routing and power
// management are out of scope, so no table is mapped or parsed.
package acpi

import (
	"aurora/device"
	"aurora/kernel"
	"aurora/kernel/hal/multiboot"
	"aurora/kernel/kfmt"
	"io"
)

var getRSDPFn = multiboot.GetRSDP

// acpiDriver records the RSDP location reported by the boot loader.
type acpiDriver struct {
	rsdp multiboot.RSDPInfo
}

// DriverName returns the name of this driver.
func (*acpiDriver) DriverName() string {
	return "ACPI"
}

// DriverVersion returns the version of this driver.
func (*acpiDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit reports the RSDP location discovered during probing. No ACPI
// tables are mapped or parsed.
func (drv *acpiDriver) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "RSDP at 0x%16x (rev %d)\n", drv.rsdp.Addr, drv.rsdp.Revision)
	return nil
}

// probeForACPI reports whether the boot loader supplied an RSDP tag. It
// never fails; if no RSDP is present the ACPI driver is simply absent from
// the detected device list.
func probeForACPI() device.Driver {
	rsdp, found := getRSDPFn()
	if !found {
		return nil
	}

	return &acpiDriver{rsdp: rsdp}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderACPI,
		Probe: probeForACPI,
	})
}
