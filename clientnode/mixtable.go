// MixTable implements the client-side per-(direction, port, mix) table
// spec §4.10 describes: "The client maintains a mix table keyed by
// (direction, port_id, mix_id). port_set_mix_info(..., peer_id) adds/
// removes a mix."
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientnode

import (
	"sync"

	"github.com/pwcore/node-graph/pwport"
	"github.com/pwcore/node-graph/spa"
)

type mixKey struct {
	dir  spa.Direction
	port uint32
	mix  uint32
}

// MixEntry is one bound mix, tracking the remote peer node it connects to.
type MixEntry struct {
	Mix    *pwport.Mix
	PeerID uint32
}

// MixTable is the client-side mix registry (spec §4.10).
type MixTable struct {
	mu      sync.Mutex
	entries map[mixKey]*MixEntry
}

// NewMixTable constructs an empty table.
func NewMixTable() *MixTable {
	return &MixTable{entries: make(map[mixKey]*MixEntry)}
}

// Add registers (or replaces) a mix under (dir, port, mix) with the given
// peer id (spec §4.10 "port_set_mix_info(..., peer_id) adds... a mix").
func (t *MixTable) Add(dir spa.Direction, port, mix uint32, peerID uint32, m *pwport.Mix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[mixKey{dir, port, mix}] = &MixEntry{Mix: m, PeerID: peerID}
}

// Remove unregisters a mix (spec §4.10 "...removes a mix").
func (t *MixTable) Remove(dir spa.Direction, port, mix uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, mixKey{dir, port, mix})
}

// Get looks up a bound mix.
func (t *MixTable) Get(dir spa.Direction, port, mix uint32) (*MixEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[mixKey{dir, port, mix}]
	return e, ok
}

// All returns a snapshot of every bound mix, for teardown.
func (t *MixTable) All() []*MixEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*MixEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}
