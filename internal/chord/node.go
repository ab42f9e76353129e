// Package chord implements the per-node Chord state machine: the finger
// table, successor/predecessor pointers, lookup algorithms, join/leave,
// and the local key store. A Node never talks to a peer directly — every
// cross-node call goes through a Transport, so the package has no
// knowledge of how peers are actually reached (in this simulation, the
// registry package resolves peer IDs to local method calls).
package chord

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"chordsim/internal/ringid"
)

// Node is a peer identity: an immutable (id, ip) pair. The zero value is
// the "empty node" sentinel meaning "no such peer".
type Node struct {
	ID int
	IP string
}

// NewNode derives a node identity from its IP label by hashing it into the
// m-bit ring.
func NewNode(ip string, m int) Node {
	if ip == "" {
		return Node{}
	}
	return Node{ID: ringid.Hash(ip, m), IP: ip}
}

// IsEmpty reports whether n is the empty-node sentinel.
func (n Node) IsEmpty() bool {
	return n.ID == 0 && n.IP == ""
}

// Equal reports whether n and other name the same ring member. Per the
// data model, two nodes compare equal iff their IDs match.
func (n Node) Equal(other Node) bool {
	return n.ID == other.ID
}

func (n Node) String() string {
	if n.IsEmpty() {
		return "Node(empty)"
	}
	return fmt.Sprintf("Node(id=%d, ip=%s)", n.ID, n.IP)
}

// FingerEntry is one row of a node's finger table.
type FingerEntry struct {
	Start int
	Node  Node
}

// Transport is how a Node reaches another node's state machine. In this
// simulation the registry package implements it by dispatching directly
// to the target's *State; nothing in this package assumes that.
type Transport interface {
	// FindSuccessor asks peer to run find_successor(id).
	FindSuccessor(peer Node, id int) (Node, error)
	// Successor reads peer's current successor pointer.
	Successor(peer Node) (Node, error)
	// GetPredecessor reads peer's current predecessor pointer.
	GetPredecessor(peer Node) (Node, error)
	// ClosestPrecedingNode asks peer to run closest_preceding_node(id)
	// against its own finger table.
	ClosestPrecedingNode(peer Node, id int) (Node, error)
	// NotifyPredecessor tells peer that n might be its new predecessor.
	NotifyPredecessor(peer Node, n Node) error
	// UpdateFingerTable tells peer to fold n into its finger table.
	UpdateFingerTable(peer Node, n Node) error
	// HandleNodeLeave tells peer that left has departed the ring.
	HandleNodeLeave(peer Node, left Node) error
	// SetPredecessor overwrites peer's predecessor pointer directly.
	SetPredecessor(peer Node, n Node) error
	// SetSuccessor overwrites peer's successor pointer directly.
	SetSuccessor(peer Node, n Node) error
	// Resources returns a snapshot of peer's key store.
	Resources(peer Node) (map[int]string, error)
	// AddResourceDirectly inserts (id, value) into peer's key store
	// unconditionally.
	AddResourceDirectly(peer Node, id int, value string) error
	// RemoveResource removes id from peer's key store, reporting whether
	// it was present.
	RemoveResource(peer Node, id int) (bool, error)
	// RingWideFindSuccessor is the O(N) fallback lookup: the least-ID
	// live member >= id, wrapping to the minimum when none exceeds id.
	// Used only when a node has no usable finger.
	RingWideFindSuccessor(id int) (Node, error)
}

// State is one node's Chord state machine: its identity, finger table,
// successor/predecessor pointers, and local key store.
type State struct {
	self        Node
	m           int
	predecessor Node
	successor   Node
	fingers     []FingerEntry
	keys        map[int]string
	transport   Transport
	log         *logrus.Logger
}

// New creates a node's state machine, pre-populated as a solitary ring of
// one (see initSolitary). Call Join to merge it into an existing ring.
func New(self Node, m int, transport Transport, log *logrus.Logger) *State {
	if log == nil {
		log = logrus.New()
	}
	s := &State{
		self:      self,
		m:         m,
		fingers:   make([]FingerEntry, m),
		keys:      make(map[int]string),
		transport: transport,
		log:       log,
	}
	for i := 0; i < m; i++ {
		s.fingers[i].Start = (self.ID + (1 << uint(i))) % ringid.N(m)
	}
	s.initSolitary()
	return s
}

func (s *State) initSolitary() {
	s.predecessor = s.self
	s.successor = s.self
	for i := range s.fingers {
		s.fingers[i].Node = s.self
	}
}

// Self returns the node's own identity.
func (s *State) Self() Node { return s.self }

// M returns the bit-width of the ring this node belongs to.
func (s *State) M() int { return s.m }

// Predecessor returns the node's current predecessor pointer.
func (s *State) Predecessor() Node { return s.predecessor }

// Successor returns the node's current successor pointer.
func (s *State) Successor() Node { return s.successor }

// Fingers returns a copy of the node's finger table.
func (s *State) Fingers() []FingerEntry {
	out := make([]FingerEntry, len(s.fingers))
	copy(out, s.fingers)
	return out
}

// SetTransport rebinds the registry proxy this node dispatches RPCs
// through, replacing the one given to New.
func (s *State) SetTransport(t Transport) { s.transport = t }

// SetPredecessor overwrites the predecessor pointer directly. Exposed so
// the registry can splice neighbors during leave.
func (s *State) SetPredecessor(n Node) { s.predecessor = n }

// SetSuccessor overwrites the successor pointer (and finger[0]) directly.
func (s *State) SetSuccessor(n Node) {
	s.successor = n
	if len(s.fingers) > 0 {
		s.fingers[0].Node = n
	}
}

// FindSuccessor returns the live node that owns key id.
func (s *State) FindSuccessor(id int) (Node, error) {
	if s.successor.IsEmpty() {
		return s.self, nil
	}
	if id == s.self.ID {
		return s.self, nil
	}
	if ringid.InHalfOpen(id, s.self.ID, s.successor.ID) {
		return s.successor, nil
	}
	if !s.predecessor.IsEmpty() && ringid.InHalfOpen(id, s.predecessor.ID, s.self.ID) {
		return s.self, nil
	}

	cp := s.ClosestPrecedingNode(id)
	if cp.Equal(s.self) {
		return s.successor, nil
	}

	result, err := s.transport.FindSuccessor(cp, id)
	if err != nil {
		s.log.WithFields(logrus.Fields{"node": s.self, "peer": cp, "id": id}).
			Warn("find_successor: peer unresolved, falling back to own successor")
		return s.successor, nil
	}
	return result, nil
}

// ClosestPrecedingNode scans the finger table from the highest index down
// and returns the first live, non-self finger lying strictly between self
// and id. If none qualifies, returns self.
func (s *State) ClosestPrecedingNode(id int) Node {
	for i := len(s.fingers) - 1; i >= 0; i-- {
		f := s.fingers[i].Node
		if f.IsEmpty() || f.Equal(s.self) || f.ID == id {
			continue
		}
		if ringid.InOpen(f.ID, s.self.ID, id) {
			return f
		}
	}
	return s.self
}

// FindPredecessor walks the ring forward, hop by hop, until it reaches the
// node whose successor owns id. Bounded at 2*m hops; past that it returns
// the best candidate found so far.
func (s *State) FindPredecessor(id int) Node {
	current := s.self
	for hops := 0; hops < 2*s.m; hops++ {
		succ, err := s.successorOf(current)
		if err != nil {
			s.log.WithFields(logrus.Fields{"node": s.self, "peer": current}).
				Warn("find_predecessor: stale peer, returning best candidate")
			return current
		}
		if succ.IsEmpty() || ringid.InHalfOpen(id, current.ID, succ.ID) {
			return current
		}
		next, err := s.closestPrecedingNodeOf(current, id)
		if err != nil || next.Equal(current) {
			return current
		}
		current = next
	}
	s.log.WithFields(logrus.Fields{"node": s.self, "id": id, "hops": 2 * s.m}).
		Warn("find_predecessor: hop limit reached, returning best candidate")
	return current
}

func (s *State) successorOf(n Node) (Node, error) {
	if n.Equal(s.self) {
		return s.successor, nil
	}
	return s.transport.Successor(n)
}

func (s *State) closestPrecedingNodeOf(n Node, id int) (Node, error) {
	if n.Equal(s.self) {
		return s.ClosestPrecedingNode(id), nil
	}
	return s.transport.ClosestPrecedingNode(n, id)
}

// Join merges this node into the ring reachable through bootstrap. An
// empty or self bootstrap initializes a solitary ring instead.
func (s *State) Join(bootstrap Node) error {
	if bootstrap.IsEmpty() || bootstrap.Equal(s.self) {
		s.initSolitary()
		return nil
	}

	succ, err := s.transport.FindSuccessor(bootstrap, s.self.ID)
	if err != nil {
		return fmt.Errorf("join: could not reach bootstrap %s: %w", bootstrap, err)
	}
	s.SetSuccessor(succ)

	p, err := s.transport.GetPredecessor(succ)
	if err != nil {
		s.log.WithFields(logrus.Fields{"node": s.self, "peer": succ}).
			Warn("join: stale peer while reading successor's predecessor")
		p = Node{}
	}
	if p.IsEmpty() || p.Equal(s.self) {
		s.predecessor = succ
	} else {
		s.predecessor = p
	}

	if err := s.transport.NotifyPredecessor(succ, s.self); err != nil {
		s.log.WithFields(logrus.Fields{"node": s.self, "peer": succ}).
			Warn("join: failed to notify successor of new predecessor")
	}

	if !p.IsEmpty() && !p.Equal(s.self) {
		if err := s.transport.SetSuccessor(p, s.self); err != nil {
			s.log.WithFields(logrus.Fields{"node": s.self, "peer": p}).
				Warn("join: failed to splice former predecessor's successor pointer")
		}
	}

	for i := 1; i < s.m; i++ {
		start := s.fingers[i].Start
		node, err := s.transport.RingWideFindSuccessor(start)
		if err != nil || node.IsEmpty() {
			continue
		}
		s.fingers[i].Node = node
	}

	s.redistributeKeys()
	return nil
}

// redistributeKeys pulls every key this node now owns out of its
// successor's store, per the key-redistribution-on-join rule.
func (s *State) redistributeKeys() {
	if s.successor.IsEmpty() || s.successor.Equal(s.self) {
		return
	}
	resources, err := s.transport.Resources(s.successor)
	if err != nil {
		s.log.WithFields(logrus.Fields{"node": s.self, "peer": s.successor}).
			Warn("join: could not read successor's key store for redistribution")
		return
	}
	for id, value := range resources {
		if !ringid.InHalfOpen(id, s.predecessor.ID, s.self.ID) {
			continue
		}
		removed, err := s.transport.RemoveResource(s.successor, id)
		if err != nil || !removed {
			s.log.WithFields(logrus.Fields{"node": s.self, "key": id}).
				Warn("join: failed to move one key during redistribution, continuing")
			continue
		}
		s.keys[id] = value
	}
}

// NotifyPredecessor is invoked (via the registry) by a peer that believes
// it might be this node's new predecessor.
func (s *State) NotifyPredecessor(n Node) {
	if n.IsEmpty() || n.Equal(s.self) {
		return
	}
	if s.predecessor.IsEmpty() || s.predecessor.Equal(s.self) || ringid.InOpen(n.ID, s.predecessor.ID, s.self.ID) {
		s.predecessor = n
	}
}

// UpdateFingerTable folds newNode into every finger entry it should
// occupy, and keeps the successor pointer in sync with finger[0].
func (s *State) UpdateFingerTable(newNode Node) {
	for i := range s.fingers {
		f := &s.fingers[i]
		inRange := newNode.ID == f.Start || ringid.InOpen(newNode.ID, f.Start, f.Node.ID)
		if !inRange || newNode.Equal(f.Node) {
			continue
		}
		f.Node = newNode
		if i == 0 {
			s.successor = newNode
		}
	}
}

// FixFingers recomputes every finger entry but finger[0] (which always
// tracks the successor) as the ring-wide successor of its start,
// falling back to the current successor on a failed lookup.
func (s *State) FixFingers() {
	for i := 1; i < s.m; i++ {
		node, err := s.transport.RingWideFindSuccessor(s.fingers[i].Start)
		if err != nil || node.IsEmpty() {
			node = s.successor
		}
		s.fingers[i].Node = node
	}
}

// Leave gracefully removes this node from the ring: it pushes its keys to
// its successor, splices its predecessor and successor together, and
// resets to the solitary state.
func (s *State) Leave() error {
	if s.successor.IsEmpty() || s.successor.Equal(s.self) {
		s.keys = make(map[int]string)
		return nil
	}

	for id, value := range s.keys {
		if err := s.transport.AddResourceDirectly(s.successor, id, value); err != nil {
			s.log.WithFields(logrus.Fields{"node": s.self, "key": id}).
				Warn("leave: failed to push one key to successor, continuing")
			continue
		}
	}

	if !s.predecessor.IsEmpty() {
		if err := s.transport.SetSuccessor(s.predecessor, s.successor); err != nil {
			s.log.WithFields(logrus.Fields{"node": s.self, "peer": s.predecessor}).
				Warn("leave: failed to splice predecessor's successor pointer")
		}
	}
	if err := s.transport.SetPredecessor(s.successor, s.predecessor); err != nil {
		s.log.WithFields(logrus.Fields{"node": s.self, "peer": s.successor}).
			Warn("leave: failed to splice successor's predecessor pointer")
	}

	s.keys = make(map[int]string)
	s.initSolitary()
	return nil
}

// HandleNodeLeave is invoked (via the registry, on every surviving peer)
// after left has departed the ring.
func (s *State) HandleNodeLeave(left Node) {
	if s.successor.Equal(left) {
		next, err := s.transport.RingWideFindSuccessor((left.ID + 1) % ringid.N(s.m))
		if err != nil || next.IsEmpty() || next.Equal(left) {
			next = s.self
		}
		s.SetSuccessor(next)
	}
	if s.predecessor.Equal(left) {
		s.predecessor = Node{}
	}
	for i := range s.fingers {
		if !s.fingers[i].Node.Equal(left) {
			continue
		}
		replacement, err := s.transport.RingWideFindSuccessor(s.fingers[i].Start)
		if err != nil || replacement.IsEmpty() || replacement.Equal(left) {
			replacement = s.successor
		}
		s.fingers[i].Node = replacement
	}
	s.FixFingers()
}

// AddResource hashes name and inserts (id, name) into the local key
// store, refusing if the key-id is already present.
func (s *State) AddResource(name string) bool {
	id := ringid.Hash(name, s.m)
	if _, exists := s.keys[id]; exists {
		return false
	}
	s.keys[id] = name
	return true
}

// AddResourceDirectly inserts (id, name) unconditionally, overwriting any
// existing entry. Used by join redistribution and graceful leave.
func (s *State) AddResourceDirectly(id int, name string) {
	s.keys[id] = name
}

// RemoveResourceDirectly removes id from the local key store, reporting
// whether it was present.
func (s *State) RemoveResourceDirectly(id int) bool {
	if _, exists := s.keys[id]; !exists {
		return false
	}
	delete(s.keys, id)
	return true
}

// HasResource reports whether id is present in the local key store.
func (s *State) HasResource(id int) bool {
	_, exists := s.keys[id]
	return exists
}

// Resources returns a snapshot of the local key store.
func (s *State) Resources() map[int]string {
	out := make(map[int]string, len(s.keys))
	for id, name := range s.keys {
		out[id] = name
	}
	return out
}

// KeyCount returns the number of keys currently stored locally.
func (s *State) KeyCount() int { return len(s.keys) }
