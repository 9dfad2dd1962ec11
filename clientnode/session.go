// Session ties a Transport, its eventfd trigger/complete pair, and a
// ServerNode together as one accepted client-node peer, and binds the
// result into a graph.Context the way any other plugin-backed node is
// bound (spec §4.10 "Exposes an out-of-process node as an in-process
// graph node").
//
// Grounded on the teacher's connection-lifecycle pattern in
// facade/hioload.go (accept -> wrap -> register -> on-close unregister),
// generalized from a single reactor registration to graph.Context's
// RegisterGlobal/AddNode/RemoveNode triple.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientnode

import (
	"go.uber.org/zap"

	"github.com/pwcore/node-graph/graph"
	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/spa"
)

// Session is one accepted client-node peer bound into a graph.Context.
type Session struct {
	Node      *ServerNode
	GraphNode *graph.Node

	ctx       *graph.Context
	log       *zap.Logger
	transport *Transport

	triggerFD  int
	completeFD int
}

// Accept wraps an already-connected transport (from a listening socket, or
// the server half of Socketpair in tests) as a bound graph node: it
// allocates the trigger/complete eventfd pair, constructs the ServerNode,
// sends transport(), and registers it with ctx under (loopName, loopClass).
// linger keeps the mirrored node in StateError rather than removing it on
// disconnect (spec §8 S4 "unless object.linger keeps the global present").
func Accept(ctx *graph.Context, transport *Transport, loopName, loopClass string, props map[string]string, linger bool) (*Session, error) {
	triggerFD, completeFD, err := EventFDPair()
	if err != nil {
		return nil, pwerrno.New(pwerrno.ENOMEM, "clientnode.Accept", err)
	}

	node := NewServerNode(transport, ctx.Pool, triggerFD, completeFD)
	node.Linger = linger

	gn, err := ctx.AddNode(node, loopName, loopClass, props)
	if err != nil {
		CloseFD(triggerFD)
		CloseFD(completeFD)
		return nil, err
	}

	s := &Session{
		Node:       node,
		GraphNode:  gn,
		ctx:        ctx,
		log:        ctx.Log,
		transport:  transport,
		triggerFD:  triggerFD,
		completeFD: completeFD,
	}

	node.OnDisconnect(func(err error) {
		s.onDisconnect(err)
	})

	// The read loop must already be draining replies before BindTransport
	// blocks waiting for one.
	go node.Run()

	activationMemID, offset, size := gn.ActivationMemRef()
	if err := node.BindTransport(activationMemID, offset, size); err != nil {
		s.log.Warn("client-node transport bind failed", zap.Error(err))
	}

	return s, nil
}

// onDisconnect implements spec §8 S4: on a broken transport the mirrored
// node transitions to ERROR; unless Linger is set, it is removed from the
// graph through Context.RemoveNode, which first destroys every link that
// references it. With Linger set, the node and its links stay in place.
func (s *Session) onDisconnect(err error) {
	s.GraphNode.SetState(graph.StateError)
	s.log.Warn("client-node session disconnected", zap.Error(err))
	if !s.Node.Linger {
		s.ctx.RemoveNode(s.GraphNode)
	}
}

// Close tears the session down explicitly (rather than waiting for a
// transport error), e.g. on graceful client shutdown.
func (s *Session) Close() error {
	s.ctx.RemoveNode(s.GraphNode)
	return s.transport.Close()
}

// AcceptLocalPeer is a test/in-process convenience: it connects a
// ClientAdapter driving localNode directly to a new Session's server half
// over a Socketpair, so a test can drive localNode's lifecycle from one
// goroutine while asserting on the Session's mirrored graph.Node from
// another, with no real process boundary involved.
func AcceptLocalPeer(ctx *graph.Context, localNode spa.Node, loopName, loopClass string, props map[string]string, linger bool) (*Session, *ClientAdapter, error) {
	server, client, err := Socketpair()
	if err != nil {
		return nil, nil, err
	}

	adapter := NewClientAdapter(client, localNode, ctx.Pool)
	go func() { _ = adapter.Run() }()

	session, err := Accept(ctx, server, loopName, loopClass, props, linger)
	if err != nil {
		adapter.Stop()
		client.Close()
		return nil, nil, err
	}
	return session, adapter, nil
}
