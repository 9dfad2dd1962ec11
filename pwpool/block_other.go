//go:build !linux

// Fallback backend for non-Linux platforms: anonymous temp files stand in
// for memfd, and mmap is emulated with a plain heap buffer. This keeps the
// pool usable for development/tests off Linux; production deployments of
// the data-plane components target Linux per spec §4.3/§4.4.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pwpool

import (
	"os"
)

var fallbackFiles = map[int]*os.File{}
var fallbackNextFd = 1000

func createMemfd(size int64, flags Flags) (int, error) {
	f, err := os.CreateTemp("", "pwpool-block-*")
	if err != nil {
		return -1, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(f.Name())
		return -1, err
	}
	os.Remove(f.Name()) // unlink immediately; fd keeps the data alive
	fd := fallbackNextFd
	fallbackNextFd++
	fallbackFiles[fd] = f
	return fd, nil
}

func closeFd(fd int) {
	if f, ok := fallbackFiles[fd]; ok {
		f.Close()
		delete(fallbackFiles, fd)
	}
}

func mmapRegion(fd int, offset, size int64, flags Flags) ([]byte, error) {
	f, ok := fallbackFiles[fd]
	if !ok {
		return make([]byte, size), nil
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, offset); err != nil && size > 0 {
		// A freshly truncated file reads back zeros; ignore EOF-ish errors
		// on first mapping.
	}
	return buf, nil
}

func munmapRegion(b []byte) error {
	return nil
}
