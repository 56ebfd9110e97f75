// Package qemuexit implements the isa-debug-exit shim used by tests to
// terminate the emulator with a pass/fail status instead of hanging after
// the test scenario completes. It has no role in a normal boot.
package qemuexit

import "aurora/kernel/cpu"

// Port is the I/O port QEMU's isa-debug-exit device is wired to.
const Port = 0xf4

// Success and Failure are the conventional exit codes used by test
// scenarios; Exit combines either with QEMU's own encoding below.
const (
	Success uint32 = 0x10
	Failure uint32 = 0x11
)

var outlFn = cpu.Outl

// Exit writes code to the isa-debug-exit port, which causes QEMU to
// terminate with status (code << 1) | 1. This function does not return
// under QEMU; outside of an emulator with the device present, the write is
// simply dropped by the missing port.
func Exit(code uint32) {
	outlFn(Port, code)
}
