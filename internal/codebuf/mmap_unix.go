//go:build unix

package codebuf

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func mapMemory(size int) ([]byte, error) {
	size = pageAlign(size, unix.Getpagesize())
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func protect(mem []byte, p Protection) error {
	prot := unix.PROT_READ
	switch p {
	case ProtWrite:
		prot |= unix.PROT_WRITE
	case ProtExec:
		prot |= unix.PROT_EXEC
	}
	return unix.Mprotect(mem, prot)
}

func unmapMemory(mem []byte) error {
	return unix.Munmap(mem)
}

func baseOf(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(&mem[0]))
}
