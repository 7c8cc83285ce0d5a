//go:build linux && (amd64 || arm64)

package rawsys

// Checkpoints are RISC-V images; other hosts can reconstruct them but not
// run them.
func enter(k Kernel, pc, sp uintptr) {
	WriteString(k, 2, "enter: host cannot execute riscv64 code\n")
	k.Exit(255)
}
