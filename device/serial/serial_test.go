package serial

import "testing"

type portWrite struct {
	port  uint16
	value uint8
}

func TestInitProgramsExpectedRegisters(t *testing.T) {
	defer func() { outbFn = origOutb }()

	var writes []portWrite
	outbFn = func(port uint16, value uint8) {
		writes = append(writes, portWrite{port, value})
	}

	p := New(0x100)
	p.Init()

	if len(writes) == 0 {
		t.Fatal("expected Init to write to the UART registers")
	}
	if writes[0].port != 0x100+regIntEnable || writes[0].value != 0x00 {
		t.Fatalf("expected interrupts to be disabled first; got %+v", writes[0])
	}
}

func TestWriteByteWaitsForEmptyTransmitter(t *testing.T) {
	defer func() {
		outbFn = origOutb
		inbFn = origInb
	}()

	busyReads := 0
	inbFn = func(port uint16) uint8 {
		if port != 0x100+regLineStatus {
			t.Fatalf("unexpected status read from port %x", port)
		}
		busyReads++
		if busyReads < 3 {
			return 0
		}
		return lineStatusTHRE
	}

	var sent byte
	outbFn = func(port uint16, value uint8) {
		if port == 0x100+regData {
			sent = value
		}
	}

	p := New(0x100)
	if err := p.WriteByte('A'); err != nil {
		t.Fatal(err)
	}
	if sent != 'A' {
		t.Fatalf("expected 'A' to be written; got %q", sent)
	}
	if busyReads < 3 {
		t.Fatalf("expected WriteByte to poll the line status register until ready")
	}
}

var (
	origOutb = outbFn
	origInb  = inbFn
)
