package spa_test

import (
	"testing"

	"github.com/pwcore/node-graph/spa"
)

func TestTestSourceNodeLifecycle(t *testing.T) {
	n := spa.NewTestSourceNode()

	var gotInfo spa.NodeInfo
	_, err := n.AddListener(&spa.Events{
		Info: func(info spa.NodeInfo) { gotInfo = info },
	})
	if err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if gotInfo.NOutputPorts != 1 {
		t.Fatalf("Info not emitted synchronously on AddListener")
	}

	if res, err := n.Process(); err != nil || res != spa.ResultStopped {
		t.Fatalf("Process before Start = (%v,%v), want (Stopped,nil)", res, err)
	}

	if err := n.SendCommand(spa.CommandStart); err != nil {
		t.Fatalf("SendCommand(Start): %v", err)
	}
	res, err := n.Process()
	if err != nil || res != spa.ResultHaveData {
		t.Fatalf("Process after Start = (%v,%v), want (HaveData,nil)", res, err)
	}
	if n.Cycles() != 1 {
		t.Fatalf("Cycles = %d, want 1", n.Cycles())
	}
}

func TestRegistryFindByRegex(t *testing.T) {
	r := spa.NewRegistry()
	if err := r.AddSpaLibRule(`^audiotestsrc$`, "/fake/libaudiotestsrc.so"); err != nil {
		t.Fatalf("AddSpaLibRule: %v", err)
	}

	loaded := false
	loader := func(path string) (spa.EnumFunc, error) {
		loaded = true
		return func(state int) (*spa.Factory, int, error) {
			if state > 0 {
				return nil, 0, nil
			}
			return &spa.Factory{
				Name: "audiotestsrc",
				Init: func(support []spa.Support, info map[string]string) (any, error) {
					return spa.NewTestSourceNode(), nil
				},
				GetInterface: func(handle any, iface string) (any, error) {
					return handle, nil
				},
			}, 1, nil
		}, nil
	}

	node, err := r.Create("audiotestsrc", nil, nil, loader)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if node == nil {
		t.Fatal("Create returned nil node")
	}
	if !loaded {
		t.Fatal("libLoader was never invoked despite a matching rule")
	}
}

func TestRegistryFindUnknownFactory(t *testing.T) {
	r := spa.NewRegistry()
	_, err := r.Find("nonexistent", func(string) (spa.EnumFunc, error) { return nil, nil })
	if err == nil {
		t.Fatal("expected ENOENT for an unregistered factory name")
	}
}
