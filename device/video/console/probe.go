package console

import "aurora/device"
import "aurora/kernel/cpu"
import "aurora/kernel/hal/multiboot"
import "aurora/kernel/mem/vmm"

var (
	getFramebufferInfoFn = multiboot.GetFramebufferInfo
	mapRegionFn          = vmm.MapRegion
	portWriteByteFn      = cpu.Outb

	// ProbeFuncs is a slice of device probe functions that is used by
	// the hal package to probe for console device hardware. Each driver
	// should use an init() block to append its probe function to this list.
	ProbeFuncs []device.ProbeFn
)
