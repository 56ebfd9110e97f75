package irq

// ExceptionNum defines an exception number that can be
// passed to the HandleException and HandleExceptionWithCode
// functions.
type ExceptionNum uint8

const (
	// DoubleFault occurs when an exception is unhandled
	// or when an exception occurs while the CPU is
	// trying to call an exception handler.
	DoubleFault = ExceptionNum(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = ExceptionNum(13)

	// PageFaultException is raised when a PDT or
	// PDT-entry is not present or when a privilege
	// and/or RW protection check fails.
	PageFaultException = ExceptionNum(14)
)

// ExceptionHandler is a function that handles an exception that does not push
// an error code to the stack. If the handler returns, any modifications to the
// supplied Frame and/or Regs pointers will be propagated back to the location
// where the exception occurred.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode is a function that handles an exception that pushes
// an error code to the stack. If the handler returns, any modifications to the
// supplied Frame and/or Regs pointers will be propagated back to the location
// where the exception occurred.
type ExceptionHandlerWithCode func(uint64, *Frame, *Regs)

// HandleException registers an exception handler (without an error code) for
// the given interrupt number.
func HandleException(exceptionNum ExceptionNum, handler ExceptionHandler)

// HandleExceptionWithCode registers an exception handler (with an error code)
// for the given interrupt number.
func HandleExceptionWithCode(exceptionNum ExceptionNum, handler ExceptionHandlerWithCode)

// IRQNum identifies a hardware interrupt line as wired to the master/slave
// 8259 PIC (0-15), independent of the IDT vector it ends up remapped to.
type IRQNum uint8

const (
	// TimerIRQ is the PIT channel 0 output, wired to IRQ 0.
	TimerIRQ = IRQNum(0)

	// KeyboardIRQ is the PS/2 keyboard controller output, wired to IRQ 1.
	KeyboardIRQ = IRQNum(1)
)

// IRQHandler is a function that handles a hardware interrupt.
type IRQHandler func(*Frame, *Regs)

// HandleIRQ registers a handler for the given hardware interrupt line. The
// handler is invoked with interrupts disabled and must not block; it is
// responsible for calling EndOfInterrupt(irqNum) itself before returning so
// the PIC knows it may deliver further interrupts on that line.
func HandleIRQ(irqNum IRQNum, handler IRQHandler)

// SetDoubleFaultStack installs stackTop as the interrupt-stack-table entry
// the CPU switches to when delivering a double fault. It must be called
// with the top of a stack obtained from a stack allocator before double
// faults can be handled: a double fault is typically the result of the
// regular kernel stack's guard page being hit, so entering the handler on
// that same stack would immediately fault again.
func SetDoubleFaultStack(stackTop uintptr)
