package registry

import (
	"fmt"
	"strings"

	"chordsim/internal/chord"
	"chordsim/internal/ringid"
)

// NodeSnapshot dumps one node's full state: predecessor, successor,
// finger table, and key count. This is the per-node half of the
// introspection surface an external CLI would consume.
type NodeSnapshot struct {
	Node        chord.Node
	Predecessor chord.Node
	Successor   chord.Node
	Fingers     []chord.FingerEntry
	KeyCount    int
}

// Describe returns a NodeSnapshot for the node at ip, or false if no such
// node is in the ring.
func (r *Registry) Describe(ip string) (NodeSnapshot, bool) {
	id := ringid.Hash(ip, r.m)
	st, ok := r.nodes[id]
	if !ok {
		return NodeSnapshot{}, false
	}
	return NodeSnapshot{
		Node:        st.Self(),
		Predecessor: st.Predecessor(),
		Successor:   st.Successor(),
		Fingers:     st.Fingers(),
		KeyCount:    st.KeyCount(),
	}, true
}

func (s NodeSnapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", s.Node)
	fmt.Fprintf(&b, "  predecessor: %s\n", s.Predecessor)
	fmt.Fprintf(&b, "  successor:   %s\n", s.Successor)
	fmt.Fprintf(&b, "  keys stored: %d\n", s.KeyCount)
	fmt.Fprintf(&b, "  fingers:\n")
	for i, f := range s.Fingers {
		fmt.Fprintf(&b, "    [%d] start=%d -> %s\n", i, f.Start, f.Node)
	}
	return b.String()
}

// RingSummary dumps the sorted node list and per-node key counts — the
// ring-wide half of the external CLI surface.
type RingSummary struct {
	M         int
	NodeIDs   []int
	KeyCounts map[int]int
}

// Summary returns a RingSummary for the current ring state.
func (r *Registry) Summary() RingSummary {
	ids := r.SortedIDs()
	counts := make(map[int]int, len(ids))
	for _, id := range ids {
		counts[id] = r.nodes[id].KeyCount()
	}
	return RingSummary{M: r.m, NodeIDs: ids, KeyCounts: counts}
}

func (s RingSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ring (m=%d, %d nodes):\n", s.M, len(s.NodeIDs))
	for _, id := range s.NodeIDs {
		fmt.Fprintf(&b, "  node %d: %d keys\n", id, s.KeyCounts[id])
	}
	return b.String()
}
