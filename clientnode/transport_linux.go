//go:build linux

// Linux fd-passing backend: SOCK_SEQPACKET unix socketpair plus
// SCM_RIGHTS ancillary data, and real eventfds for the process
// trigger/complete handshake. Grounded on the teacher's affinity_linux.go
// style of a thin golang.org/x/sys/unix shim kept close to the syscalls
// it wraps.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientnode

import (
	"io"

	"golang.org/x/sys/unix"
)

func socketpairRaw() (int, int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func sendMsgRaw(fd int, data []byte, fds []int) error {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	return unix.Sendmsg(fd, data, oob, nil, 0)
}

func recvMsgRaw(fd int, maxPayload int) ([]byte, []int, error) {
	buf := make([]byte, maxPayload)
	oob := make([]byte, unix.CmsgSpace(64*4))
	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return nil, nil, err
	}
	if n == 0 {
		return nil, nil, io.EOF
	}
	var fds []int
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, scm := range scms {
				rights, err := unix.ParseUnixRights(&scm)
				if err == nil {
					fds = append(fds, rights...)
				}
			}
		}
	}
	return buf[:n], fds, nil
}

func closeFdRaw(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func eventfdRaw() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

func writeEventFdRaw(fd int) error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(fd, buf[:])
	return err
}

// drainEventFdRaw reads and clears the eventfd's counter. It returns
// unix.EAGAIN verbatim when nothing had been signaled yet, so callers can
// tell "drained a real wakeup" from "nothing pending" — both would
// otherwise look like success.
func drainEventFdRaw(fd int) error {
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	return err
}
