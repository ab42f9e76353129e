// Package registry implements the ring-wide coordinator: it owns every
// node's state machine, resolves "send RPC to node X" to a direct method
// call on X's state machine, and exposes the ring-level operations
// (join, leave, put, lookup, remove, global finger refresh). It is the
// sole owner of chord.State values; node state machines hold only
// chord.Node identities, never registry internals.
package registry

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"chordsim/internal/chord"
	"chordsim/internal/ringid"
)

// Registry owns every node's state machine in one Chord ring, keyed by
// node ID. It implements chord.Transport so node state machines can
// reach peers purely through method calls — there is no network. A
// Registry holds no locks and is not safe for concurrent use by multiple
// goroutines.
type Registry struct {
	m     int
	nodes map[int]*chord.State
	log   *logrus.Logger
}

// New creates an empty ring sized for an m-bit identifier space.
func New(m int, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		m:     m,
		nodes: make(map[int]*chord.State),
		log:   log,
	}
}

// M returns the bit-width of the ring's identifier space.
func (r *Registry) M() int { return r.m }

// Join hashes ip, refuses on an id collision with an existing node, and
// otherwise creates the node's state machine and merges it into the ring.
func (r *Registry) Join(ip string) (chord.Node, error) {
	n := chord.NewNode(ip, r.m)
	if _, exists := r.nodes[n.ID]; exists {
		return chord.Node{}, fmt.Errorf("join: ip %q hashes to id %d, already present in ring", ip, n.ID)
	}

	var bootstrap chord.Node
	if len(r.nodes) > 0 {
		bootstrap = r.anyNodeState().Self()
	}

	state := chord.New(n, r.m, r, r.log)
	r.nodes[n.ID] = state

	if !bootstrap.IsEmpty() {
		if err := state.Join(bootstrap); err != nil {
			delete(r.nodes, n.ID)
			return chord.Node{}, err
		}
		r.notifyAllNodesUpdate(n)
	}

	r.RefreshFingers()
	r.log.WithFields(logrus.Fields{"node": n}).Info("node joined ring")
	return n, nil
}

// LeaveByIP locates the node for ip, has it leave gracefully, broadcasts
// the departure to every surviving peer, and refreshes every finger
// table.
func (r *Registry) LeaveByIP(ip string) error {
	id := ringid.Hash(ip, r.m)
	state, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("leave: no node for ip %q", ip)
	}

	left := state.Self()
	if err := state.Leave(); err != nil {
		return err
	}
	delete(r.nodes, id)

	r.notifyAllNodesLeave(left)
	r.RefreshFingers()
	r.log.WithFields(logrus.Fields{"node": left}).Info("node left ring")
	return nil
}

// Put hashes name, routes to its owning node through any live entry
// point, and stores the resource there.
func (r *Registry) Put(name string) (chord.Node, error) {
	if len(r.nodes) == 0 {
		return chord.Node{}, fmt.Errorf("put: ring is empty")
	}
	id := ringid.Hash(name, r.m)
	owner, err := r.anyNodeState().FindSuccessor(id)
	if err != nil {
		return chord.Node{}, err
	}
	ownerState, err := r.stateFor(owner)
	if err != nil {
		return chord.Node{}, fmt.Errorf("put: %w", err)
	}
	ownerState.AddResourceDirectly(id, name)
	return owner, nil
}

// Lookup hashes name, resolves its owner, and confirms the owner truly
// holds the key-id before reporting it. Returns the empty node if the
// ring is empty or the resource was never inserted (or was removed).
func (r *Registry) Lookup(name string) (chord.Node, bool) {
	if len(r.nodes) == 0 {
		return chord.Node{}, false
	}
	id := ringid.Hash(name, r.m)
	owner, err := r.anyNodeState().FindSuccessor(id)
	if err != nil {
		return chord.Node{}, false
	}
	ownerState, err := r.stateFor(owner)
	if err != nil || !ownerState.HasResource(id) {
		return chord.Node{}, false
	}
	return owner, true
}

// Remove hashes name, resolves its owner, and removes the resource if
// present there.
func (r *Registry) Remove(name string) bool {
	if len(r.nodes) == 0 {
		return false
	}
	id := ringid.Hash(name, r.m)
	owner, err := r.anyNodeState().FindSuccessor(id)
	if err != nil {
		return false
	}
	ownerState, err := r.stateFor(owner)
	if err != nil {
		return false
	}
	return ownerState.RemoveResourceDirectly(id)
}

// FindChord returns the node state machine for id, if present.
func (r *Registry) FindChord(id int) (*chord.State, bool) {
	st, ok := r.nodes[id]
	return st, ok
}

// AnyNode returns an arbitrary live node, or false if the ring is empty.
func (r *Registry) AnyNode() (chord.Node, bool) {
	if len(r.nodes) == 0 {
		return chord.Node{}, false
	}
	return r.anyNodeState().Self(), true
}

// SortedIDs returns every live node ID in ascending order.
func (r *Registry) SortedIDs() []int {
	ids := make([]int, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AllIPs returns every live node's IP label, ordered by ID.
func (r *Registry) AllIPs() []string {
	ids := r.SortedIDs()
	ips := make([]string, len(ids))
	for i, id := range ids {
		ips[i] = r.nodes[id].Self().IP
	}
	return ips
}

// AllResourceNames returns every distinct resource name stored anywhere
// in the ring, sorted.
func (r *Registry) AllResourceNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, id := range r.SortedIDs() {
		for _, name := range r.nodes[id].Resources() {
			if seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RefreshFingers runs fix_fingers on every live node. Invoked after every
// membership change in place of the real protocol's periodic
// stabilization.
func (r *Registry) RefreshFingers() {
	for _, id := range r.SortedIDs() {
		r.nodes[id].FixFingers()
	}
}

// notifyAllNodesUpdate visits every node except newNode and folds newNode
// into its finger table.
func (r *Registry) notifyAllNodesUpdate(newNode chord.Node) {
	for id, st := range r.nodes {
		if id == newNode.ID {
			continue
		}
		st.UpdateFingerTable(newNode)
	}
}

// notifyAllNodesLeave visits every surviving node and tells it leftNode
// has departed.
func (r *Registry) notifyAllNodesLeave(left chord.Node) {
	for _, st := range r.nodes {
		st.HandleNodeLeave(left)
	}
}

func (r *Registry) anyNodeState() *chord.State {
	ids := r.SortedIDs()
	return r.nodes[ids[0]]
}

func (r *Registry) stateFor(peer chord.Node) (*chord.State, error) {
	st, ok := r.nodes[peer.ID]
	if !ok {
		return nil, fmt.Errorf("node %s not present in ring (left or never joined)", peer)
	}
	return st, nil
}

// --- chord.Transport implementation: direct in-process dispatch ---

func (r *Registry) FindSuccessor(peer chord.Node, id int) (chord.Node, error) {
	st, err := r.stateFor(peer)
	if err != nil {
		return chord.Node{}, err
	}
	return st.FindSuccessor(id)
}

func (r *Registry) Successor(peer chord.Node) (chord.Node, error) {
	st, err := r.stateFor(peer)
	if err != nil {
		return chord.Node{}, err
	}
	return st.Successor(), nil
}

func (r *Registry) GetPredecessor(peer chord.Node) (chord.Node, error) {
	st, err := r.stateFor(peer)
	if err != nil {
		return chord.Node{}, err
	}
	return st.Predecessor(), nil
}

func (r *Registry) ClosestPrecedingNode(peer chord.Node, id int) (chord.Node, error) {
	st, err := r.stateFor(peer)
	if err != nil {
		return chord.Node{}, err
	}
	return st.ClosestPrecedingNode(id), nil
}

func (r *Registry) NotifyPredecessor(peer chord.Node, n chord.Node) error {
	st, err := r.stateFor(peer)
	if err != nil {
		return err
	}
	st.NotifyPredecessor(n)
	return nil
}

func (r *Registry) UpdateFingerTable(peer chord.Node, n chord.Node) error {
	st, err := r.stateFor(peer)
	if err != nil {
		return err
	}
	st.UpdateFingerTable(n)
	return nil
}

func (r *Registry) HandleNodeLeave(peer chord.Node, left chord.Node) error {
	st, err := r.stateFor(peer)
	if err != nil {
		return err
	}
	st.HandleNodeLeave(left)
	return nil
}

func (r *Registry) SetPredecessor(peer chord.Node, n chord.Node) error {
	st, err := r.stateFor(peer)
	if err != nil {
		return err
	}
	st.SetPredecessor(n)
	return nil
}

func (r *Registry) SetSuccessor(peer chord.Node, n chord.Node) error {
	st, err := r.stateFor(peer)
	if err != nil {
		return err
	}
	st.SetSuccessor(n)
	return nil
}

func (r *Registry) Resources(peer chord.Node) (map[int]string, error) {
	st, err := r.stateFor(peer)
	if err != nil {
		return nil, err
	}
	return st.Resources(), nil
}

func (r *Registry) AddResourceDirectly(peer chord.Node, id int, value string) error {
	st, err := r.stateFor(peer)
	if err != nil {
		return err
	}
	st.AddResourceDirectly(id, value)
	return nil
}

func (r *Registry) RemoveResource(peer chord.Node, id int) (bool, error) {
	st, err := r.stateFor(peer)
	if err != nil {
		return false, err
	}
	return st.RemoveResourceDirectly(id), nil
}

// RingWideFindSuccessor is the O(N) fallback lookup: the least-ID live
// member >= id, wrapping to the minimum member when none qualifies. Used
// only when a node has no usable finger.
func (r *Registry) RingWideFindSuccessor(id int) (chord.Node, error) {
	ids := r.SortedIDs()
	if len(ids) == 0 {
		return chord.Node{}, fmt.Errorf("ring-wide find_successor: ring is empty")
	}
	for _, cid := range ids {
		if cid >= id {
			return r.nodes[cid].Self(), nil
		}
	}
	return r.nodes[ids[0]].Self(), nil
}
