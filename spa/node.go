// Package spa implements the plugin-side contract every graph Node wraps
// (spec §4.5 "SPA node (plugin contract)"): an opaque handle exposing
// enumerate-ports/get-set-param/process/event operations, plus the
// factory-based plugin loader (spec §6 "SPA plugin loading").
//
// Grounded on spec §9's guidance to "keep the vtable at the ABI boundary
// for plugin loading; internally use compile-time polymorphism where the
// node type is known" — Node is a plain Go interface (the vtable), and
// concrete adapters (audiotestsrc-style in-process nodes, the client-node
// remote adapter in package clientnode) implement it directly rather than
// through a reflected dispatch table.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package spa

import "github.com/pwcore/node-graph/pwerrno"

// Direction is a port's data direction.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

// ProcessResult is the bitmask a node's Process returns (spec §4.5
// "returns a bitmask {NEED_DATA, HAVE_DATA, DRAINED, STOPPED}").
type ProcessResult uint32

const (
	ResultNeedData ProcessResult = 1 << iota
	ResultHaveData
	ResultDrained
	ResultStopped
)

// Command is a lifecycle transition sent via SendCommand (spec §4.5).
type Command int

const (
	CommandStart Command = iota
	CommandSuspend
	CommandPause
	CommandFlush
	CommandRequestProcess
)

// Param is an opaque negotiable parameter POD (format description, buffer
// layout constraints, io area binding, ...). The core never interprets a
// Param's payload; it only matches/filters/forwards it. ID distinguishes
// the param's kind (EnumFormat, Format, Buffers, ...).
type Param struct {
	ID      uint32
	Payload []byte
}

// Events is the callback set a listener registers via AddListener (spec
// §4.5 "Subscribe to info, port-info, result, and event callbacks"). Any
// field may be nil; only non-nil callbacks are invoked. Emission happens
// synchronously from the node's own goroutine (data loop or main loop,
// per the call site), never from an arbitrary background goroutine.
type Events struct {
	Info       func(info NodeInfo)
	PortInfo   func(dir Direction, port uint32, info PortInfo)
	Result     func(seq int32, res pwerrno.Code, payload []byte)
	Event      func(event Event)
}

// Event is an asynchronous notification a node emits outside the
// request/response pattern (e.g. xrun, prop change).
type Event struct {
	Type    string
	Payload []byte
}

// NodeInfo is the node's current descriptive state, delivered synchronously
// on AddListener and again on any change (spec §4.5 "Emits current info
// synchronously").
type NodeInfo struct {
	MaxInputPorts  uint32
	MaxOutputPorts uint32
	NInputPorts    uint32
	NOutputPorts   uint32
	Props          map[string]string
}

// PortInfo is a port's current descriptive state.
type PortInfo struct {
	Direction Direction
	Flags     uint32
	Props     map[string]string
}

// IOAreaID names which per-node or per-port IO area a SetIO/PortSetIO call
// binds (spec §4.5 "Bind a per-node IO area (Position, Clock)", "per-port
// IO area (Buffers, RateMatch, AsyncBuffers)").
type IOAreaID int

const (
	IOInvalid IOAreaID = iota
	IOPosition
	IOClock
	IOBuffers
	IORateMatch
	IOAsyncBuffers
)

// Buffer is the opaque buffer descriptor the node contract passes through
// PortUseBuffers and PortAllocBuffers. It is an empty interface: spa does
// not import pwbuffer, so any value (typically a *pwbuffer.Buffer) can be
// carried.
type Buffer interface{}

// Node is the plugin-side contract every graph Node wraps (spec §4.5).
// Any method may return a positive int32 instead of 0 to signal an async
// operation in progress; completion is observed via Events.Result carrying
// the same seq (spec §4.5 "Async contract"). A negative pwerrno.Code means
// immediate failure.
type Node interface {
	// AddListener subscribes events; returns a token Process/RemoveListener
	// implementations may use to unsubscribe. Implementations must emit
	// Events.Info synchronously (within the call) before returning.
	AddListener(events *Events) (token int, err error)
	RemoveListener(token int)

	// SetIO binds a per-node IO area. size==0 unbinds.
	SetIO(id IOAreaID, area []byte) error

	// PortSetIO binds a per-port (direction, port, mix) IO area.
	PortSetIO(dir Direction, port, mix uint32, id IOAreaID, area []byte) error

	// EnumParams lazily enumerates params of kind id starting at start, up
	// to num results, optionally narrowed by filter; results are delivered
	// via Events.Result. Returns a positive seq for async completion.
	EnumParams(seq int32, id uint32, start, num uint32, filter *Param) (int32, error)

	// SetParam pushes param onto the node. May fail with ENOTSUP/EINVAL.
	SetParam(id uint32, flags uint32, param Param) error

	// PortSetParam is the port-level analogue of SetParam.
	PortSetParam(dir Direction, port uint32, id uint32, flags uint32, param Param) error

	// PortUseBuffers binds externally-allocated buffers to a port/mix; nil
	// buffers releases the binding (spec §4.7 step 7 "both sides call
	// use_buffers(null)").
	PortUseBuffers(dir Direction, port, mix uint32, buffers []Buffer) error

	// PortAllocBuffers requests the node allocate n buffers of the given
	// size/stride/blocks and returns the resulting descriptors.
	PortAllocBuffers(dir Direction, port, mix uint32, n, size, stride, blocks uint32) ([]Buffer, error)

	// SendCommand executes a lifecycle transition. Idempotent for a
	// same-state transition (spec §4.5, §8 property 7).
	SendCommand(cmd Command) error

	// Process runs exactly one cycle: non-blocking, no allocation, no
	// mutex beyond try-lock, no I/O (spec §5 Suspension points).
	Process() (ProcessResult, error)

	// Sync is a barrier for outstanding async ops; the implementation must
	// eventually emit Events.Result with this seq once every pending async
	// op this node has in flight has completed.
	Sync(seq int32) error
}
