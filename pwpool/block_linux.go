//go:build linux

// Platform-specific memfd/mmap backend for Linux, grounded on the teacher's
// affinity_linux.go / transport_linux.go style of a small cgo-free syscall
// shim over golang.org/x/sys/unix.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwpool

import "golang.org/x/sys/unix"

func createMemfd(size int64, flags Flags) (int, error) {
	memfdFlags := uint(unix.MFD_CLOEXEC)
	if flags&FlagSeal != 0 {
		memfdFlags |= unix.MFD_ALLOW_SEALING
	}
	fd, err := unix.MemfdCreate("pwpool-block", int(memfdFlags))
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if flags&FlagSeal != 0 {
		_, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), unix.F_ADD_SEALS,
			uintptr(unix.F_SEAL_SHRINK|unix.F_SEAL_GROW))
		if errno != 0 {
			// Sealing is best-effort: some kernels/filesystems refuse it.
			// The block remains usable, just unsealed.
			_ = errno
		}
	}
	return fd, nil
}

func closeFd(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}

func mmapRegion(fd int, offset, size int64, flags Flags) ([]byte, error) {
	prot := unix.PROT_READ
	if flags&FlagReadwrite != 0 {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(fd, offset, int(size), prot, unix.MAP_SHARED)
}

func munmapRegion(b []byte) error {
	return unix.Munmap(b)
}
