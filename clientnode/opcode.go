// Package clientnode implements the client-node remoting contract (spec
// §4.10 "Client-node remoting"): exposing an out-of-process node as an
// in-process graph node over an abstract stream transport, with memory
// exchanged by id and a per-peer mix table.
//
// Grounded on original_source/pinos/modules/module-client-node/remote-node.c
// for the opcode set, the transport/memory/mix-table split, and the mem-id
// caching-by-tag behavior; wire framing style on the teacher's
// core/protocol/frame_codec.go length-prefixed binary codec, generalized
// from a fixed WebSocket frame header to a variable opcode+seq+payload
// envelope.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientnode

// Opcode identifies a client-node protocol message (spec §6 "Client-node
// wire protocol (conceptual opcodes, both directions)").
type Opcode uint8

const (
	// Server -> client.
	OpTransport Opcode = iota + 1
	OpSetParam
	OpSetIO
	OpEvent
	OpCommand
	OpAddPort
	OpRemovePort
	OpPortSetParam
	OpPortUseBuffers
	OpPortSetIO
	OpSetActivation
	OpPortSetMixInfo
	OpPortBuffers
	OpAddMem
	OpEnumParams

	// Client -> server.
	OpUpdate
	OpPortUpdate
	// OpEvent is bidirectional and reuses the constant above.

	// Both directions: an async reply to a request carrying a seq.
	OpResult
)

func (o Opcode) String() string {
	switch o {
	case OpTransport:
		return "transport"
	case OpSetParam:
		return "set_param"
	case OpSetIO:
		return "set_io"
	case OpEvent:
		return "event"
	case OpCommand:
		return "command"
	case OpAddPort:
		return "add_port"
	case OpRemovePort:
		return "remove_port"
	case OpPortSetParam:
		return "port_set_param"
	case OpPortUseBuffers:
		return "port_use_buffers"
	case OpPortSetIO:
		return "port_set_io"
	case OpSetActivation:
		return "set_activation"
	case OpPortSetMixInfo:
		return "port_set_mix_info"
	case OpPortBuffers:
		return "port_buffers"
	case OpAddMem:
		return "add_mem"
	case OpEnumParams:
		return "enum_params"
	case OpUpdate:
		return "update"
	case OpPortUpdate:
		return "port_update"
	case OpResult:
		return "result"
	default:
		return "unknown"
	}
}
