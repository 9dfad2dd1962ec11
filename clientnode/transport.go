// Transport implements the abstract stream spec §4.10 runs the client-node
// protocol over ("Transport is an abstract stream (a Unix socket in
// practice)"). Platform-specific fd-passing backends live in
// transport_linux.go / transport_other.go, following the teacher's
// affinity_linux.go / affinity_windows.go per-OS split.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientnode

import (
	"sync"

	"github.com/pwcore/node-graph/pwerrno"
)

// Transport is one endpoint of a client-node control connection. Messages
// are framed (opcode + seq + length-prefixed payload) and may carry
// ancillary file descriptors (spec §6 "File descriptors are referenced
// from the payload by index" — here, positionally, in Fds order).
type Transport struct {
	fd int

	sendMu sync.Mutex
}

// NewTransport wraps an already-connected SOCK_SEQPACKET Unix domain
// socket fd. SEQPACKET (rather than STREAM) is chosen so each Send call's
// ancillary fds stay attached to exactly the payload bytes sent alongside
// them, matching how PipeWire's native transport keeps a message and its
// fds atomic on the wire.
func NewTransport(fd int) *Transport { return &Transport{fd: fd} }

// Socketpair creates a connected pair of Transports for in-process or
// fork-before-exec handoff use (tests exercise this directly; a real
// out-of-process deployment instead accepts a connection on a listening
// socket and wraps its fd with NewTransport).
func Socketpair() (server, client *Transport, err error) {
	a, b, err := socketpairRaw()
	if err != nil {
		return nil, nil, pwerrno.New(pwerrno.ENOMEM, "clientnode.Socketpair", err)
	}
	return NewTransport(a), NewTransport(b), nil
}

// Send writes one framed message, attaching fds as ancillary data.
func (t *Transport) Send(op Opcode, seq int32, payload []byte, fds []int) error {
	if len(payload) > MaxPayloadSize {
		return pwerrno.New(pwerrno.EBADMSG, "Transport.Send", nil)
	}
	hdr := encodeHeader(op, seq, len(payload))
	buf := make([]byte, 0, len(hdr)+len(payload))
	buf = append(buf, hdr...)
	buf = append(buf, payload...)

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := sendMsgRaw(t.fd, buf, fds); err != nil {
		return pwerrno.New(pwerrno.EPIPE, "Transport.Send", err)
	}
	return nil
}

// Recv blocks for the next message. Returns io.EOF-wrapped EPIPE once the
// peer has closed (spec §4.10 "On disconnect... server observes EPIPE").
func (t *Transport) Recv() (Message, error) {
	raw, fds, err := recvMsgRaw(t.fd, headerSize+MaxPayloadSize)
	if err != nil {
		return Message{}, pwerrno.New(pwerrno.EPIPE, "Transport.Recv", err)
	}
	op, seq, payloadLen, ok := decodeHeader(raw)
	if !ok || len(raw) < headerSize+payloadLen {
		return Message{}, pwerrno.New(pwerrno.EBADMSG, "Transport.Recv", nil)
	}
	return Message{
		Op:      op,
		Seq:     seq,
		Payload: raw[headerSize : headerSize+payloadLen],
		Fds:     fds,
	}, nil
}

// Fd exposes the raw descriptor so a caller can register it as a pwloop
// FD source on the owning loop.
func (t *Transport) Fd() int { return t.fd }

// Close releases the transport's underlying fd.
func (t *Transport) Close() error {
	return closeFdRaw(t.fd)
}

// EventFDPair creates two eventfd-style wake sources for the process
// trigger/complete handshake (spec §4.10 transport() "readfd, writefd").
func EventFDPair() (trigger, complete int, err error) {
	trigger, err = eventfdRaw()
	if err != nil {
		return -1, -1, err
	}
	complete, err = eventfdRaw()
	if err != nil {
		closeFdRaw(trigger)
		return -1, -1, err
	}
	return trigger, complete, nil
}

// SignalFD writes to an eventfd-style fd, waking whatever loop source
// watches it.
func SignalFD(fd int) error { return writeEventFdRaw(fd) }

// DrainFD clears an eventfd-style fd's counter after a wakeup.
func DrainFD(fd int) error { return drainEventFdRaw(fd) }

// CloseFD releases a raw fd obtained from EventFDPair or received as
// ancillary data.
func CloseFD(fd int) error { return closeFdRaw(fd) }
