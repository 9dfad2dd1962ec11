package clientnode

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pwcore/node-graph/pwerrno"
	"github.com/pwcore/node-graph/pwpool"
	"github.com/pwcore/node-graph/spa"
)

// keptTestFiles retains the *os.File handles pipeFds hands out raw fds
// from, so their finalizer never closes the fd out from under a Block that
// still thinks it owns it.
var keptTestFiles []*os.File

// pipeFds returns a fresh read-end fd suitable for handing to MemCache.Import
// as a stand-in for a memfd-backed block's fd.
func pipeFds(t *testing.T) (readFd, writeFd int, err error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		return -1, -1, err
	}
	keptTestFiles = append(keptTestFiles, r, w)
	return int(r.Fd()), int(w.Fd()), nil
}

// newLoopbackPair wires a ServerNode (no real-time trigger/complete pair)
// to a ClientAdapter driving a fresh TestSourceNode, both read loops
// running, and returns everything needed to exercise the control plane.
func newLoopbackPair(t *testing.T) (*ServerNode, *ClientAdapter, *spa.TestSourceNode, func()) {
	t.Helper()
	pool := pwpool.New()
	server, client, err := Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}

	local := spa.NewTestSourceNode()
	adapter := NewClientAdapter(client, local, pool)
	node := NewServerNode(server, pool, -1, -1)

	go adapter.Run()
	go node.Run()

	cleanup := func() {
		adapter.Stop()
		server.Close()
		client.Close()
	}
	return node, adapter, local, cleanup
}

func TestServerNodeSendCommandRoundTrip(t *testing.T) {
	node, _, local, cleanup := newLoopbackPair(t)
	defer cleanup()

	if err := node.SendCommand(spa.CommandStart); err != nil {
		t.Fatalf("SendCommand(Start): %v", err)
	}

	res, err := local.Process()
	if err != nil {
		t.Fatalf("local.Process: %v", err)
	}
	if res != spa.ResultHaveData {
		t.Fatalf("expected ResultHaveData once started, got %v", res)
	}

	if err := node.SendCommand(spa.CommandPause); err != nil {
		t.Fatalf("SendCommand(Pause): %v", err)
	}
	if res, _ := local.Process(); res != spa.ResultStopped {
		t.Fatalf("expected ResultStopped after pause, got %v", res)
	}
}

func TestServerNodeSetParamPropagates(t *testing.T) {
	node, _, _, cleanup := newLoopbackPair(t)
	defer cleanup()

	err := node.SetParam(7, 0, spa.Param{ID: 7, Payload: []byte("rate=48000")})
	if err != nil {
		t.Fatalf("SetParam: %v", err)
	}
}

func TestServerNodeAddListenerReceivesInfo(t *testing.T) {
	node, _, _, cleanup := newLoopbackPair(t)
	defer cleanup()

	var mu sync.Mutex
	var gotInfo spa.NodeInfo
	done := make(chan struct{}, 1)

	_, err := node.AddListener(&spa.Events{
		Info: func(info spa.NodeInfo) {
			mu.Lock()
			gotInfo = info
			mu.Unlock()
			select {
			case done <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for upstream node info")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotInfo.NOutputPorts != 1 {
		t.Fatalf("expected NOutputPorts=1 from TestSourceNode, got %+v", gotInfo)
	}
}

func TestServerNodeSyncBarrier(t *testing.T) {
	node, _, _, cleanup := newLoopbackPair(t)
	defer cleanup()

	if err := node.Sync(42); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

// TestServerNodeDisconnectInvokesHook exercises the S4 disconnect scenario:
// closing the client transport must surface as an EPIPE-flavored error on
// the server side, via the registered OnDisconnect hook.
func TestServerNodeDisconnectInvokesHook(t *testing.T) {
	pool := pwpool.New()
	server, client, err := Socketpair()
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}

	node := NewServerNode(server, pool, -1, -1)
	disconnected := make(chan error, 1)
	node.OnDisconnect(func(err error) {
		disconnected <- err
	})
	go node.Run()

	if err := client.Close(); err != nil {
		t.Fatalf("client.Close: %v", err)
	}

	select {
	case err := <-disconnected:
		if !pwerrno.Is(err, pwerrno.EPIPE) {
			t.Fatalf("expected EPIPE, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect hook")
	}

	// A request issued after disconnect must fail immediately rather than
	// hang for the full request timeout.
	if err := node.SendCommand(spa.CommandStart); err == nil {
		t.Fatal("expected SendCommand to fail after disconnect")
	}
}

func TestMemCacheDedupesByTag(t *testing.T) {
	pool := pwpool.New()
	cache := NewMemCache(pool)

	r0, w0, err := pipeFds(t)
	if err != nil {
		t.Fatalf("pipeFds: %v", err)
	}
	_ = w0

	tag := pwpool.Tag{1, 2, 3, 0, 0}
	b1, err := cache.Import(1, tag, r0, 4096, pwpool.FlagReadwrite)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	r1, w1, err := pipeFds(t)
	if err != nil {
		t.Fatalf("pipeFds: %v", err)
	}
	_ = w1
	b2, err := cache.Import(2, tag, r1, 4096, pwpool.FlagReadwrite)
	if err != nil {
		t.Fatalf("Import (dup tag): %v", err)
	}
	if b1 != b2 {
		t.Fatalf("expected re-import under the same tag to dedupe to the same block")
	}

	cache.Clear()
}

func TestMixTableAddRemove(t *testing.T) {
	table := NewMixTable()
	table.Add(spa.DirectionOutput, 0, 3, 99, nil)

	entry, ok := table.Get(spa.DirectionOutput, 0, 3)
	if !ok || entry.PeerID != 99 {
		t.Fatalf("expected mix entry with PeerID=99, got %+v ok=%v", entry, ok)
	}

	table.Remove(spa.DirectionOutput, 0, 3)
	if _, ok := table.Get(spa.DirectionOutput, 0, 3); ok {
		t.Fatal("expected mix entry to be removed")
	}
}

func TestNegotiateVersionAndFeatures(t *testing.T) {
	v := NegotiateVersion(3, 2)
	if v != 2 {
		t.Fatalf("expected negotiated version 2, got %d", v)
	}
	if !HasFeature(v, FeatureAsyncBuffers) {
		t.Fatal("expected FeatureAsyncBuffers at version 2")
	}
	if HasFeature(v, FeatureParamRoute) {
		t.Fatal("did not expect FeatureParamRoute below version 3")
	}
}
