//go:build windows

package codebuf

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

const windowsPage = 4096

func mapMemory(size int) ([]byte, error) {
	size = pageAlign(size, windowsPage)
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func protect(mem []byte, p Protection) error {
	prot := uint32(windows.PAGE_READONLY)
	switch p {
	case ProtWrite:
		prot = windows.PAGE_READWRITE
	case ProtExec:
		prot = windows.PAGE_EXECUTE_READ
	}
	var old uint32
	return windows.VirtualProtect(baseOf(mem), uintptr(len(mem)), prot, &old)
}

func unmapMemory(mem []byte) error {
	return windows.VirtualFree(baseOf(mem), 0, windows.MEM_RELEASE)
}

func baseOf(mem []byte) uintptr {
	return uintptr(unsafe.Pointer(&mem[0]))
}
