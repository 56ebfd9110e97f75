package irq

import "aurora/kernel/cpu"

const (
	picMasterCommand = 0x20
	picMasterData    = 0x21
	picSlaveCommand  = 0xA0
	picSlaveData     = 0xA1

	icw1Init     = 0x11
	icw4_8086    = 0x01
	picEOI       = 0x20
	vectorOffset = 32
)

// RemapPIC reprograms the master/slave 8259 PICs so that IRQ 0-7 are
// delivered on vectors 32-39 and IRQ 8-15 on vectors 40-47, moving them out
// of the range used by CPU exceptions. All lines are left unmasked.
func RemapPIC() {
	outbFn(picMasterCommand, icw1Init)
	cpu.IOWait()
	outbFn(picSlaveCommand, icw1Init)
	cpu.IOWait()

	outbFn(picMasterData, vectorOffset)
	cpu.IOWait()
	outbFn(picSlaveData, vectorOffset+8)
	cpu.IOWait()

	// Tell the master PIC that a slave PIC is wired to IRQ 2.
	outbFn(picMasterData, 4)
	cpu.IOWait()
	// Tell the slave PIC its cascade identity.
	outbFn(picSlaveData, 2)
	cpu.IOWait()

	outbFn(picMasterData, icw4_8086)
	cpu.IOWait()
	outbFn(picSlaveData, icw4_8086)
	cpu.IOWait()

	// Unmask all lines.
	outbFn(picMasterData, 0)
	outbFn(picSlaveData, 0)
}

// EndOfInterrupt sends the end-of-interrupt byte to the PIC(s) responsible
// for irqNum. IRQ 8-15 require an EOI to both the slave and the master PIC
// since the slave is cascaded through the master's IRQ 2 line.
func EndOfInterrupt(irqNum IRQNum) {
	if irqNum >= 8 {
		outbFn(picSlaveCommand, picEOI)
	}
	outbFn(picMasterCommand, picEOI)
}

// outbFn is mocked by tests and is automatically inlined by the compiler.
var outbFn = cpu.Outb
