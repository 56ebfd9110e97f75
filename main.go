package main

import "aurora/kernel/kmain"

// multibootInfoPtr is populated by the rt0 assembly stub before it jumps
// into main. It is a package-level var, not a local, so the compiler
// cannot prove it is always zero and optimize the call away.
var multibootInfoPtr uintptr

func main() {
	kmain.Kmain(multibootInfoPtr)
}
