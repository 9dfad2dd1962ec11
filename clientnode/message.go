// Message framing and per-opcode payload codecs for the client-node wire
// protocol (spec §6 "Client-node wire protocol (conceptual opcodes, both
// directions)"): "Each message may carry: a payload POD, file descriptors
// (by ancillary data on SCM_RIGHTS sockets), and an async seq."
//
// Wire framing style follows the teacher's protocol/frame_codec.go: a
// fixed binary header (here opcode + seq + length) followed by a raw
// payload, encoded/decoded with encoding/binary rather than a generic
// serialization library, matching frame_codec.go's own hand-rolled
// big-endian layout.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientnode

import (
	"encoding/binary"

	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/spa"
)

// headerSize is opcode(1) + seq(4) + payload length(4).
const headerSize = 9

// MaxPayloadSize bounds a single message's payload, mirroring the
// teacher's MaxFramePayload resource-exhaustion guard in
// protocol/frame_codec.go.
const MaxPayloadSize = 1 << 20

// Message is one decoded client-node protocol message (spec §6).
type Message struct {
	Op      Opcode
	Seq     int32
	Payload []byte
	Fds     []int
}

func encodeHeader(op Opcode, seq int32, payloadLen int) []byte {
	var hdr [headerSize]byte
	hdr[0] = byte(op)
	binary.BigEndian.PutUint32(hdr[1:5], uint32(seq))
	binary.BigEndian.PutUint32(hdr[5:9], uint32(payloadLen))
	return hdr[:]
}

func decodeHeader(raw []byte) (op Opcode, seq int32, payloadLen int, ok bool) {
	if len(raw) < headerSize {
		return 0, 0, 0, false
	}
	op = Opcode(raw[0])
	seq = int32(binary.BigEndian.Uint32(raw[1:5]))
	payloadLen = int(binary.BigEndian.Uint32(raw[5:9]))
	return op, seq, payloadLen, true
}

// payloadWriter is a small big-endian byte-buffer builder, in the style of
// the teacher's EncodeFrameToBufferWithMask manual byte packing.
type payloadWriter struct {
	buf []byte
}

func (w *payloadWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *payloadWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *payloadWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *payloadWriter) i64(v int64) { w.u64(uint64(v)) }

func (w *payloadWriter) bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *payloadWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *payloadWriter) str(s string) { w.bytes([]byte(s)) }

func (w *payloadWriter) strmap(m map[string]string) {
	w.u32(uint32(len(m)))
	for k, v := range m {
		w.str(k)
		w.str(v)
	}
}

func (w *payloadWriter) params(params []spa.Param) {
	w.u32(uint32(len(params)))
	for _, p := range params {
		w.u32(p.ID)
		w.bytes(p.Payload)
	}
}

// payloadReader is the matching cursor-based reader.
type payloadReader struct {
	buf []byte
	off int
}

func newPayloadReader(b []byte) *payloadReader { return &payloadReader{buf: b} }

func (r *payloadReader) err() error {
	return pwerrno.New(pwerrno.EBADMSG, "clientnode.payloadReader", nil)
}

func (r *payloadReader) u32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, r.err()
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *payloadReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *payloadReader) u64() (uint64, error) {
	if r.off+8 > len(r.buf) {
		return 0, r.err()
	}
	v := binary.BigEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v, nil
}

func (r *payloadReader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *payloadReader) boolean() (bool, error) {
	if r.off+1 > len(r.buf) {
		return false, r.err()
	}
	v := r.buf[r.off] != 0
	r.off++
	return v, nil
}

func (r *payloadReader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.off+int(n) > len(r.buf) {
		return nil, r.err()
	}
	out := append([]byte(nil), r.buf[r.off:r.off+int(n)]...)
	r.off += int(n)
	return out, nil
}

func (r *payloadReader) str() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

func (r *payloadReader) strmap() (map[string]string, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.str()
		if err != nil {
			return nil, err
		}
		v, err := r.str()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func (r *payloadReader) params() ([]spa.Param, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]spa.Param, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := r.u32()
		if err != nil {
			return nil, err
		}
		payload, err := r.bytes()
		if err != nil {
			return nil, err
		}
		out = append(out, spa.Param{ID: id, Payload: payload})
	}
	return out, nil
}

// TransportPayload binds the client's activation record and wakeup
// eventfds (spec §4.10 "Server sends transport(readfd, writefd,
// activation_mem_id, offset, size)"). The trigger and complete eventfds,
// when present, are carried out of band as ancillary data, in that order,
// on the Message; the activation record itself is named by
// ActivationMemID, a block sent earlier via add_mem.
type TransportPayload struct {
	ActivationMemID uint32
	Offset          int64
	Size            int64
}

func (p TransportPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.ActivationMemID)
	w.i64(p.Offset)
	w.i64(p.Size)
	return w.buf
}

func unmarshalTransport(b []byte) (TransportPayload, error) {
	r := newPayloadReader(b)
	var p TransportPayload
	var err error
	if p.ActivationMemID, err = r.u32(); err != nil {
		return p, err
	}
	if p.Offset, err = r.i64(); err != nil {
		return p, err
	}
	p.Size, err = r.i64()
	return p, err
}

// SetParamPayload carries spec §4.5 SetParam / §6 "set_param" request.
type SetParamPayload struct {
	ID    uint32
	Flags uint32
	Param spa.Param
}

func (p SetParamPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.ID)
	w.u32(p.Flags)
	w.u32(p.Param.ID)
	w.bytes(p.Param.Payload)
	return w.buf
}

func unmarshalSetParam(b []byte) (SetParamPayload, error) {
	r := newPayloadReader(b)
	var p SetParamPayload
	var err error
	if p.ID, err = r.u32(); err != nil {
		return p, err
	}
	if p.Flags, err = r.u32(); err != nil {
		return p, err
	}
	if p.Param.ID, err = r.u32(); err != nil {
		return p, err
	}
	p.Param.Payload, err = r.bytes()
	return p, err
}

// EnumParamsPayload carries spec §4.5 EnumParams ("lazily enumerates
// params of kind id starting at start, up to num results, optionally
// narrowed by filter").
type EnumParamsPayload struct {
	ID     uint32
	Start  uint32
	Num    uint32
	Filter spa.Param
}

func (p EnumParamsPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.ID)
	w.u32(p.Start)
	w.u32(p.Num)
	w.u32(p.Filter.ID)
	w.bytes(p.Filter.Payload)
	return w.buf
}

func unmarshalEnumParams(b []byte) (EnumParamsPayload, error) {
	r := newPayloadReader(b)
	var p EnumParamsPayload
	var err error
	if p.ID, err = r.u32(); err != nil {
		return p, err
	}
	if p.Start, err = r.u32(); err != nil {
		return p, err
	}
	if p.Num, err = r.u32(); err != nil {
		return p, err
	}
	if p.Filter.ID, err = r.u32(); err != nil {
		return p, err
	}
	p.Filter.Payload, err = r.bytes()
	return p, err
}

// SetIOPayload carries spec §4.5 SetIO. MemID == InvalidMemID unbinds.
type SetIOPayload struct {
	AreaID uint32
	MemID  uint32
	Offset int64
	Size   int64
}

// InvalidMemID marks "no memory bound" (spec §4.5 "Size 0 unbinds").
const InvalidMemID = ^uint32(0)

func (p SetIOPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.AreaID)
	w.u32(p.MemID)
	w.i64(p.Offset)
	w.i64(p.Size)
	return w.buf
}

func unmarshalSetIO(b []byte) (SetIOPayload, error) {
	r := newPayloadReader(b)
	var p SetIOPayload
	var err error
	if p.AreaID, err = r.u32(); err != nil {
		return p, err
	}
	if p.MemID, err = r.u32(); err != nil {
		return p, err
	}
	if p.Offset, err = r.i64(); err != nil {
		return p, err
	}
	p.Size, err = r.i64()
	return p, err
}

// PortSetParamPayload is the port-level analogue of SetParamPayload.
type PortSetParamPayload struct {
	Dir   uint32
	Port  uint32
	ID    uint32
	Flags uint32
	Param spa.Param
}

func (p PortSetParamPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.Dir)
	w.u32(p.Port)
	w.u32(p.ID)
	w.u32(p.Flags)
	w.u32(p.Param.ID)
	w.bytes(p.Param.Payload)
	return w.buf
}

func unmarshalPortSetParam(b []byte) (PortSetParamPayload, error) {
	r := newPayloadReader(b)
	var p PortSetParamPayload
	var err error
	if p.Dir, err = r.u32(); err != nil {
		return p, err
	}
	if p.Port, err = r.u32(); err != nil {
		return p, err
	}
	if p.ID, err = r.u32(); err != nil {
		return p, err
	}
	if p.Flags, err = r.u32(); err != nil {
		return p, err
	}
	if p.Param.ID, err = r.u32(); err != nil {
		return p, err
	}
	p.Param.Payload, err = r.bytes()
	return p, err
}

// BufferRef references one buffer's single data block by previously
// add_mem'd id plus the chunk's offset/size within it (spec §4.7 step 3
// "Buffer descriptors (offsets into the shared block) are serialized to
// the other side via the client-node protocol").
type BufferRef struct {
	ID     uint32
	MemID  uint32
	Offset uint32
	Size   uint32
	Stride int32
}

func (w *payloadWriter) bufferRefs(refs []BufferRef) {
	w.u32(uint32(len(refs)))
	for _, r := range refs {
		w.u32(r.ID)
		w.u32(r.MemID)
		w.u32(r.Offset)
		w.u32(r.Size)
		w.i32(r.Stride)
	}
}

func (r *payloadReader) bufferRefs() ([]BufferRef, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]BufferRef, 0, n)
	for i := uint32(0); i < n; i++ {
		var ref BufferRef
		if ref.ID, err = r.u32(); err != nil {
			return nil, err
		}
		if ref.MemID, err = r.u32(); err != nil {
			return nil, err
		}
		if ref.Offset, err = r.u32(); err != nil {
			return nil, err
		}
		if ref.Size, err = r.u32(); err != nil {
			return nil, err
		}
		if ref.Stride, err = r.i32(); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

// PortUseBuffersPayload binds (or, with an empty Buffers list, releases
// per spec §4.7 step 7) a buffer set to a port/mix.
type PortUseBuffersPayload struct {
	Dir     uint32
	Port    uint32
	Mix     uint32
	Buffers []BufferRef
}

func (p PortUseBuffersPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.Dir)
	w.u32(p.Port)
	w.u32(p.Mix)
	w.bufferRefs(p.Buffers)
	return w.buf
}

func unmarshalPortUseBuffers(b []byte) (PortUseBuffersPayload, error) {
	r := newPayloadReader(b)
	var p PortUseBuffersPayload
	var err error
	if p.Dir, err = r.u32(); err != nil {
		return p, err
	}
	if p.Port, err = r.u32(); err != nil {
		return p, err
	}
	if p.Mix, err = r.u32(); err != nil {
		return p, err
	}
	p.Buffers, err = r.bufferRefs()
	return p, err
}

// PortSetIOPayload is the port-level analogue of SetIOPayload (spec §4.5
// "port_set_io(dir, port, mix, id, area, size)").
type PortSetIOPayload struct {
	Dir    uint32
	Port   uint32
	Mix    uint32
	AreaID uint32
	MemID  uint32
	Offset int64
	Size   int64
}

func (p PortSetIOPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.Dir)
	w.u32(p.Port)
	w.u32(p.Mix)
	w.u32(p.AreaID)
	w.u32(p.MemID)
	w.i64(p.Offset)
	w.i64(p.Size)
	return w.buf
}

func unmarshalPortSetIO(b []byte) (PortSetIOPayload, error) {
	r := newPayloadReader(b)
	var p PortSetIOPayload
	var err error
	if p.Dir, err = r.u32(); err != nil {
		return p, err
	}
	if p.Port, err = r.u32(); err != nil {
		return p, err
	}
	if p.Mix, err = r.u32(); err != nil {
		return p, err
	}
	if p.AreaID, err = r.u32(); err != nil {
		return p, err
	}
	if p.MemID, err = r.u32(); err != nil {
		return p, err
	}
	if p.Offset, err = r.i64(); err != nil {
		return p, err
	}
	p.Size, err = r.i64()
	return p, err
}

// SetActivationPayload binds a peer node's activation record by previously
// add_mem'd id (spec §4.10 "set_activation").
type SetActivationPayload struct {
	NodeID uint32
	MemID  uint32
	Offset int64
	Size   int64
}

func (p SetActivationPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.NodeID)
	w.u32(p.MemID)
	w.i64(p.Offset)
	w.i64(p.Size)
	return w.buf
}

func unmarshalSetActivation(b []byte) (SetActivationPayload, error) {
	r := newPayloadReader(b)
	var p SetActivationPayload
	var err error
	if p.NodeID, err = r.u32(); err != nil {
		return p, err
	}
	if p.MemID, err = r.u32(); err != nil {
		return p, err
	}
	if p.Offset, err = r.i64(); err != nil {
		return p, err
	}
	p.Size, err = r.i64()
	return p, err
}

// PortSetMixInfoPayload adds/removes a mix from the client's mix table
// (spec §4.10 "port_set_mix_info(..., peer_id) adds/removes a mix").
type PortSetMixInfoPayload struct {
	Dir    uint32
	Port   uint32
	Mix    uint32
	PeerID uint32
	Remove bool
}

func (p PortSetMixInfoPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.Dir)
	w.u32(p.Port)
	w.u32(p.Mix)
	w.u32(p.PeerID)
	w.bool(p.Remove)
	return w.buf
}

func unmarshalPortSetMixInfo(b []byte) (PortSetMixInfoPayload, error) {
	r := newPayloadReader(b)
	var p PortSetMixInfoPayload
	var err error
	if p.Dir, err = r.u32(); err != nil {
		return p, err
	}
	if p.Port, err = r.u32(); err != nil {
		return p, err
	}
	if p.Mix, err = r.u32(); err != nil {
		return p, err
	}
	if p.PeerID, err = r.u32(); err != nil {
		return p, err
	}
	p.Remove, err = r.boolean()
	return p, err
}

// PortBuffersPayload informs the peer of the allocated buffer layout for a
// port/mix (the allocator side's announcement, spec §4.7 step 3).
type PortBuffersPayload = PortUseBuffersPayload

// AddMemPayload registers a shared block by id (spec §4.10 "blocks are
// sent with add_mem(mem_id, type, fd, flags, offset, size)"); the fd
// travels as the message's sole ancillary fd.
type AddMemPayload struct {
	MemID  uint32
	Type   uint32
	Flags  uint32
	Offset int64
	Size   int64
	Tag    [5]uint32
}

func (p AddMemPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.MemID)
	w.u32(p.Type)
	w.u32(p.Flags)
	w.i64(p.Offset)
	w.i64(p.Size)
	for _, t := range p.Tag {
		w.u32(t)
	}
	return w.buf
}

func unmarshalAddMem(b []byte) (AddMemPayload, error) {
	r := newPayloadReader(b)
	var p AddMemPayload
	var err error
	if p.MemID, err = r.u32(); err != nil {
		return p, err
	}
	if p.Type, err = r.u32(); err != nil {
		return p, err
	}
	if p.Flags, err = r.u32(); err != nil {
		return p, err
	}
	if p.Offset, err = r.i64(); err != nil {
		return p, err
	}
	if p.Size, err = r.i64(); err != nil {
		return p, err
	}
	for i := range p.Tag {
		if p.Tag[i], err = r.u32(); err != nil {
			return p, err
		}
	}
	return p, nil
}

// CommandPayload carries a lifecycle transition (spec §4.5 send_command).
type CommandPayload struct {
	Cmd uint32
}

func (p CommandPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.Cmd)
	return w.buf
}

func unmarshalCommand(b []byte) (CommandPayload, error) {
	r := newPayloadReader(b)
	var p CommandPayload
	var err error
	p.Cmd, err = r.u32()
	return p, err
}

// EventPayload carries an out-of-band node event (spec §4.5 Events.Event).
type EventPayload struct {
	Type string
	Data []byte
}

func (p EventPayload) marshal() []byte {
	w := &payloadWriter{}
	w.str(p.Type)
	w.bytes(p.Data)
	return w.buf
}

func unmarshalEvent(b []byte) (EventPayload, error) {
	r := newPayloadReader(b)
	var p EventPayload
	var err error
	if p.Type, err = r.str(); err != nil {
		return p, err
	}
	p.Data, err = r.bytes()
	return p, err
}

// ResultPayload is the async reply carried by OpResult (spec §4.5 "Async
// contract... the caller observes completion via the result callback").
type ResultPayload struct {
	Res     pwerrno.Code
	Payload []byte
}

func (p ResultPayload) marshal() []byte {
	w := &payloadWriter{}
	w.i32(int32(p.Res))
	w.bytes(p.Payload)
	return w.buf
}

func unmarshalResult(b []byte) (ResultPayload, error) {
	r := newPayloadReader(b)
	var p ResultPayload
	var err error
	var res int32
	if res, err = r.i32(); err != nil {
		return p, err
	}
	p.Res = pwerrno.Code(res)
	p.Payload, err = r.bytes()
	return p, err
}

// AddPortPayload / RemovePortPayload carry server->client port lifecycle
// (spec §6 "add_port, remove_port").
type AddPortPayload struct {
	Dir   uint32
	Port  uint32
	Flags uint32
	Props map[string]string
}

func (p AddPortPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.Dir)
	w.u32(p.Port)
	w.u32(p.Flags)
	w.strmap(p.Props)
	return w.buf
}

func unmarshalAddPort(b []byte) (AddPortPayload, error) {
	r := newPayloadReader(b)
	var p AddPortPayload
	var err error
	if p.Dir, err = r.u32(); err != nil {
		return p, err
	}
	if p.Port, err = r.u32(); err != nil {
		return p, err
	}
	if p.Flags, err = r.u32(); err != nil {
		return p, err
	}
	p.Props, err = r.strmap()
	return p, err
}

type RemovePortPayload struct {
	Dir  uint32
	Port uint32
}

func (p RemovePortPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.Dir)
	w.u32(p.Port)
	return w.buf
}

func unmarshalRemovePort(b []byte) (RemovePortPayload, error) {
	r := newPayloadReader(b)
	var p RemovePortPayload
	var err error
	if p.Dir, err = r.u32(); err != nil {
		return p, err
	}
	p.Port, err = r.u32()
	return p, err
}

// UpdatePayload is the client->server node info+params report (spec §6
// "update (node info + params)").
type UpdatePayload struct {
	Info   spa.NodeInfo
	Params []spa.Param
}

func (p UpdatePayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.Info.MaxInputPorts)
	w.u32(p.Info.MaxOutputPorts)
	w.u32(p.Info.NInputPorts)
	w.u32(p.Info.NOutputPorts)
	w.strmap(p.Info.Props)
	w.params(p.Params)
	return w.buf
}

func unmarshalUpdate(b []byte) (UpdatePayload, error) {
	r := newPayloadReader(b)
	var p UpdatePayload
	var err error
	if p.Info.MaxInputPorts, err = r.u32(); err != nil {
		return p, err
	}
	if p.Info.MaxOutputPorts, err = r.u32(); err != nil {
		return p, err
	}
	if p.Info.NInputPorts, err = r.u32(); err != nil {
		return p, err
	}
	if p.Info.NOutputPorts, err = r.u32(); err != nil {
		return p, err
	}
	if p.Info.Props, err = r.strmap(); err != nil {
		return p, err
	}
	p.Params, err = r.params()
	return p, err
}

// PortUpdatePayload is the client->server port info+params report (spec
// §6 "port_update (port info + params)").
type PortUpdatePayload struct {
	Dir    uint32
	Port   uint32
	Info   spa.PortInfo
	Params []spa.Param
}

func (p PortUpdatePayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.Dir)
	w.u32(p.Port)
	w.u32(p.Info.Flags)
	w.strmap(p.Info.Props)
	w.params(p.Params)
	return w.buf
}

func unmarshalPortUpdate(b []byte) (PortUpdatePayload, error) {
	r := newPayloadReader(b)
	var p PortUpdatePayload
	var err error
	if p.Dir, err = r.u32(); err != nil {
		return p, err
	}
	if p.Port, err = r.u32(); err != nil {
		return p, err
	}
	if p.Info.Flags, err = r.u32(); err != nil {
		return p, err
	}
	if p.Info.Props, err = r.strmap(); err != nil {
		return p, err
	}
	p.Params, err = r.params()
	return p, err
}
