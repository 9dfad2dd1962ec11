// ClientAdapter is the out-of-process mirror of server.go's ServerNode: it
// wraps a real spa.Node (e.g. the process's own plugin instance) and
// answers the server's wire requests against it, pushing info/port-info/
// event updates upstream as OpUpdate/OpPortUpdate/OpEvent (spec §4.10
// "The client maintains a mix table..."; spec §6 "update (node info +
// params)", "port_update (port info + params)").
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientnode

import (
	"sync"
	"time"

	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/pwpool"
	"github.com/pwcore/node-graph/spa"
)

// processPollInterval bounds how often RunProcessLoop checks triggerFD
// between the real per-cycle wakeups it is designed around (spec §4.10:
// in a real deployment the peer's own RT thread blocks on the fd instead
// of polling it).
const processPollInterval = time.Millisecond

// ClientAdapter drives a local spa.Node on behalf of a remote ServerNode.
type ClientAdapter struct {
	transport *Transport
	node      spa.Node
	pool      *pwpool.Pool
	mixes     *MixTable
	memCache  *MemCache

	mu         sync.Mutex
	token      int
	activation struct {
		memID  uint32
		block  *pwpool.Block
	}
	triggerFD  int
	completeFD int
	version    uint32

	stopped bool
}

// NewClientAdapter constructs an adapter answering transport's requests by
// driving node.
func NewClientAdapter(transport *Transport, node spa.Node, pool *pwpool.Pool) *ClientAdapter {
	c := &ClientAdapter{
		transport: transport,
		node:      node,
		pool:      pool,
		mixes:     NewMixTable(),
		memCache:  NewMemCache(pool),
		triggerFD: -1, completeFD: -1,
	}
	token, _ := node.AddListener(&spa.Events{
		Info:     c.onInfo,
		PortInfo: c.onPortInfo,
		Result:   c.onResult,
		Event:    c.onEvent,
	})
	c.token = token
	return c
}

// Run services transport requests until the transport closes. Stop does
// not interrupt a Run blocked in Recv; closing the transport does. The
// local node is expected to call Process() from its own real-time thread;
// Run only answers the control-plane wire protocol.
func (c *ClientAdapter) Run() error {
	for {
		msg, err := c.transport.Recv()
		if err != nil {
			c.teardown()
			return err
		}
		c.handle(msg)
	}
}

// Stop unregisters from the local node and releases cached memory.
func (c *ClientAdapter) Stop() {
	c.teardown()
}

// RunProcessLoop drives the local node's real-time cycle: it waits for a
// signal on the bound triggerFD, calls node.Process(), and signals
// completeFD (spec §4.10 "During process(), no control messages are
// exchanged; only activation-record atomics and eventfd writes"). Runs
// until stopped is closed.
func (c *ClientAdapter) RunProcessLoop(stopped <-chan struct{}) {
	for {
		select {
		case <-stopped:
			return
		default:
		}
		c.mu.Lock()
		trig, comp := c.triggerFD, c.completeFD
		c.mu.Unlock()
		if trig < 0 || comp < 0 {
			time.Sleep(processPollInterval)
			continue
		}
		if err := DrainFD(trig); err != nil {
			time.Sleep(processPollInterval)
			continue
		}
		c.node.Process()
		SignalFD(comp)
	}
}

func (c *ClientAdapter) teardown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	c.node.RemoveListener(c.token)
	c.memCache.Clear()
}

// mapMemID resolves a previously add_mem'd id to its mapped bytes, mmapping
// the whole block on first use. Returns nil for InvalidMemID or an unknown id.
func (c *ClientAdapter) mapMemID(memID uint32) []byte {
	if memID == InvalidMemID {
		return nil
	}
	b, ok := c.memCache.Lookup(memID)
	if !ok {
		return nil
	}
	m, err := c.pool.Map(b, 0, b.Size, pwpool.FlagReadwrite)
	if err != nil {
		return nil
	}
	return m.Bytes()
}

func (c *ClientAdapter) reply(seq int32, res pwerrno.Code, payload []byte) {
	_ = c.transport.Send(OpResult, seq, ResultPayload{Res: res, Payload: payload}.marshal(), nil)
}

func (c *ClientAdapter) handle(msg Message) {
	switch msg.Op {
	case OpTransport:
		tp, err := unmarshalTransport(msg.Payload)
		if err != nil {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		c.mu.Lock()
		if len(msg.Fds) > 0 {
			c.triggerFD = msg.Fds[0]
		}
		if len(msg.Fds) > 1 {
			c.completeFD = msg.Fds[1]
		}
		c.activation.memID = tp.ActivationMemID
		c.mu.Unlock()
		c.reply(msg.Seq, pwerrno.OK, nil)

	case OpSetParam:
		sp, err := unmarshalSetParam(msg.Payload)
		if err != nil {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		err = c.node.SetParam(sp.ID, sp.Flags, sp.Param)
		c.reply(msg.Seq, pwerrno.CodeOf(err), nil)

	case OpEnumParams:
		ep, err := unmarshalEnumParams(msg.Payload)
		if err != nil {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		var filter *spa.Param
		if ep.Filter.ID != 0 || len(ep.Filter.Payload) != 0 {
			filter = &ep.Filter
		}
		if _, err := c.node.EnumParams(msg.Seq, ep.ID, ep.Start, ep.Num, filter); err != nil {
			c.reply(msg.Seq, pwerrno.CodeOf(err), nil)
		}
		// success path: results stream back through the node's own
		// Events.Result callback (onResult), keyed by msg.Seq.

	case OpSetIO:
		io, err := unmarshalSetIO(msg.Payload)
		if err != nil {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		area := c.mapMemID(io.MemID)
		err = c.node.SetIO(spa.IOAreaID(io.AreaID), area)
		c.reply(msg.Seq, pwerrno.CodeOf(err), nil)

	case OpPortSetParam:
		pp, err := unmarshalPortSetParam(msg.Payload)
		if err != nil {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		err = c.node.PortSetParam(spa.Direction(pp.Dir), pp.Port, pp.ID, pp.Flags, pp.Param)
		c.reply(msg.Seq, pwerrno.CodeOf(err), nil)

	case OpPortSetIO:
		pio, err := unmarshalPortSetIO(msg.Payload)
		if err != nil {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		area := c.mapMemID(pio.MemID)
		err = c.node.PortSetIO(spa.Direction(pio.Dir), pio.Port, pio.Mix, spa.IOAreaID(pio.AreaID), area)
		c.reply(msg.Seq, pwerrno.CodeOf(err), nil)

	case OpPortUseBuffers:
		pb, err := unmarshalPortUseBuffers(msg.Payload)
		if err != nil {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		bufs := make([]spa.Buffer, len(pb.Buffers))
		for i, r := range pb.Buffers {
			bufs[i] = r
		}
		err = c.node.PortUseBuffers(spa.Direction(pb.Dir), pb.Port, pb.Mix, bufs)
		c.reply(msg.Seq, pwerrno.CodeOf(err), nil)

	case OpSetActivation:
		sa, err := unmarshalSetActivation(msg.Payload)
		if err != nil {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		if len(msg.Fds) > 0 {
			b, impErr := c.memCache.Import(sa.MemID, pwpool.Tag{}, msg.Fds[0], sa.Size, 0)
			if impErr == nil {
				c.mu.Lock()
				c.activation.block = b
				c.mu.Unlock()
			}
		}
		c.reply(msg.Seq, pwerrno.OK, nil)

	case OpPortSetMixInfo:
		mi, err := unmarshalPortSetMixInfo(msg.Payload)
		if err != nil {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		if mi.Remove {
			c.mixes.Remove(spa.Direction(mi.Dir), mi.Port, mi.Mix)
		} else {
			c.mixes.Add(spa.Direction(mi.Dir), mi.Port, mi.Mix, mi.PeerID, nil)
		}
		c.reply(msg.Seq, pwerrno.OK, nil)

	case OpAddMem:
		am, err := unmarshalAddMem(msg.Payload)
		if err != nil || len(msg.Fds) == 0 {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		_, err = c.memCache.Import(am.MemID, am.Tag, msg.Fds[0], am.Size, pwpool.Flags(am.Flags))
		c.reply(msg.Seq, pwerrno.CodeOf(err), nil)

	case OpCommand:
		cp, err := unmarshalCommand(msg.Payload)
		if err != nil {
			c.reply(msg.Seq, pwerrno.EBADMSG, nil)
			return
		}
		if cp.Cmd == syncCommand {
			err = c.node.Sync(msg.Seq)
			if err != nil {
				c.reply(msg.Seq, pwerrno.CodeOf(err), nil)
			}
			// success path: the node's own Events.Result(seq, ...)
			// callback (onResult) sends the OpResult reply.
			return
		}
		err = c.node.SendCommand(spa.Command(cp.Cmd))
		c.reply(msg.Seq, pwerrno.CodeOf(err), nil)

	default:
		c.reply(msg.Seq, pwerrno.ENOTSUP, nil)
	}
}

func (c *ClientAdapter) onInfo(info spa.NodeInfo) {
	_ = c.transport.Send(OpUpdate, 0, UpdatePayload{Info: info}.marshal(), nil)
}

func (c *ClientAdapter) onPortInfo(dir spa.Direction, port uint32, info spa.PortInfo) {
	_ = c.transport.Send(OpPortUpdate, 0, PortUpdatePayload{Dir: uint32(dir), Port: port, Info: info}.marshal(), nil)
}

func (c *ClientAdapter) onResult(seq int32, res pwerrno.Code, payload []byte) {
	c.reply(seq, res, payload)
}

func (c *ClientAdapter) onEvent(ev spa.Event) {
	_ = c.transport.Send(OpEvent, 0, EventPayload{Type: ev.Type, Data: ev.Payload}.marshal(), nil)
}
