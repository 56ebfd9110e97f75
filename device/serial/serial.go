// Package serial drives a 16550-compatible UART for test and debug output.
package serial

import (
	"aurora/device"
	"aurora/kernel"
	"aurora/kernel/cpu"
	"aurora/kernel/sync"
	"io"
)

// COM1Port is the conventional I/O port base for the first serial port.
const COM1Port = 0x3f8

const (
	regData        = 0
	regIntEnable   = 1
	regFifoCtrl    = 2
	regLineCtrl    = 3
	regModemCtrl   = 4
	regLineStatus  = 5
	lineStatusTHRE = 1 << 5
)

var (
	outbFn = cpu.Outb
	inbFn  = cpu.Inb
)

// Port represents a single serial UART. Writes are spin-locked so that
// concurrent writers serialize their output rather than interleaving bytes.
// Interrupts are left enabled while the lock is held, so a write from an
// interrupt handler that preempts a write in progress spins on the lock.
type Port struct {
	ioBase uint16
	lock   sync.Spinlock
}

// New creates a Port for the UART at the given I/O port base. Init must be
// called before it is used.
func New(ioBase uint16) *Port {
	return &Port{ioBase: ioBase}
}

// Init programs the UART for 38400 baud, 8 data bits, no parity, one stop
// bit, with the FIFOs enabled.
func (p *Port) Init() {
	outbFn(p.ioBase+regIntEnable, 0x00) // disable interrupts
	outbFn(p.ioBase+regLineCtrl, 0x80)  // enable DLAB to set the baud divisor
	outbFn(p.ioBase+regData, 0x03)      // divisor low byte (38400 baud)
	outbFn(p.ioBase+regIntEnable, 0x00) // divisor high byte
	outbFn(p.ioBase+regLineCtrl, 0x03)  // 8 bits, no parity, one stop bit
	outbFn(p.ioBase+regFifoCtrl, 0xc7)  // enable + clear FIFOs, 14-byte threshold
	outbFn(p.ioBase+regModemCtrl, 0x0b) // DTR/RTS set, enable IRQ line (OUT2)
}

// WriteByte transmits a single byte, busy-waiting until the transmitter
// holding register is empty.
func (p *Port) WriteByte(b byte) error {
	p.lock.Acquire()
	defer p.lock.Release()

	for inbFn(p.ioBase+regLineStatus)&lineStatusTHRE == 0 {
	}
	outbFn(p.ioBase+regData, b)
	return nil
}

// Write implements io.Writer by transmitting each byte in turn.
func (p *Port) Write(data []byte) (int, error) {
	for i, b := range data {
		if err := p.WriteByte(b); err != nil {
			return i, err
		}
	}
	return len(data), nil
}

var _ io.Writer = (*Port)(nil)

// COM1 is the package-level handle for the first serial port, initialized
// once the serial driver has been probed. Debug/test code that wants raw
// access to the UART (e.g. to back the emulator-exit shim's diagnostics)
// can write to it directly.
var COM1 = New(COM1Port)

type serialDriver struct {
	port *Port
}

func (*serialDriver) DriverName() string                     { return "serial" }
func (*serialDriver) DriverVersion() (uint16, uint16, uint16) { return 0, 0, 1 }
func (d *serialDriver) DriverInit(w io.Writer) *kernel.Error {
	d.port.Init()
	return nil
}

func probeForSerial() device.Driver {
	return &serialDriver{port: COM1}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForSerial,
	})
}
