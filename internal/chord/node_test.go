package chord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const m = 8

// fakeTransport is a minimal in-memory Transport used to unit-test a
// single node's algorithms without pulling in the registry package.
type fakeTransport struct {
	peers map[int]*State
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{peers: make(map[int]*State)}
}

func (f *fakeTransport) add(s *State) { f.peers[s.Self().ID] = s }

func (f *fakeTransport) get(n Node) (*State, bool) {
	st, ok := f.peers[n.ID]
	return st, ok
}

func (f *fakeTransport) FindSuccessor(peer Node, id int) (Node, error) {
	st, ok := f.get(peer)
	if !ok {
		return Node{}, errUnknown(peer)
	}
	return st.FindSuccessor(id)
}

func (f *fakeTransport) Successor(peer Node) (Node, error) {
	st, ok := f.get(peer)
	if !ok {
		return Node{}, errUnknown(peer)
	}
	return st.Successor(), nil
}

func (f *fakeTransport) GetPredecessor(peer Node) (Node, error) {
	st, ok := f.get(peer)
	if !ok {
		return Node{}, errUnknown(peer)
	}
	return st.Predecessor(), nil
}

func (f *fakeTransport) ClosestPrecedingNode(peer Node, id int) (Node, error) {
	st, ok := f.get(peer)
	if !ok {
		return Node{}, errUnknown(peer)
	}
	return st.ClosestPrecedingNode(id), nil
}

func (f *fakeTransport) NotifyPredecessor(peer Node, n Node) error {
	st, ok := f.get(peer)
	if !ok {
		return errUnknown(peer)
	}
	st.NotifyPredecessor(n)
	return nil
}

func (f *fakeTransport) UpdateFingerTable(peer Node, n Node) error {
	st, ok := f.get(peer)
	if !ok {
		return errUnknown(peer)
	}
	st.UpdateFingerTable(n)
	return nil
}

func (f *fakeTransport) HandleNodeLeave(peer Node, left Node) error {
	st, ok := f.get(peer)
	if !ok {
		return errUnknown(peer)
	}
	st.HandleNodeLeave(left)
	return nil
}

func (f *fakeTransport) SetPredecessor(peer Node, n Node) error {
	st, ok := f.get(peer)
	if !ok {
		return errUnknown(peer)
	}
	st.SetPredecessor(n)
	return nil
}

func (f *fakeTransport) SetSuccessor(peer Node, n Node) error {
	st, ok := f.get(peer)
	if !ok {
		return errUnknown(peer)
	}
	st.SetSuccessor(n)
	return nil
}

func (f *fakeTransport) Resources(peer Node) (map[int]string, error) {
	st, ok := f.get(peer)
	if !ok {
		return nil, errUnknown(peer)
	}
	return st.Resources(), nil
}

func (f *fakeTransport) AddResourceDirectly(peer Node, id int, value string) error {
	st, ok := f.get(peer)
	if !ok {
		return errUnknown(peer)
	}
	st.AddResourceDirectly(id, value)
	return nil
}

func (f *fakeTransport) RemoveResource(peer Node, id int) (bool, error) {
	st, ok := f.get(peer)
	if !ok {
		return false, errUnknown(peer)
	}
	return st.RemoveResourceDirectly(id), nil
}

func (f *fakeTransport) RingWideFindSuccessor(id int) (Node, error) {
	if len(f.peers) == 0 {
		return Node{}, errUnknown(Node{})
	}
	best := -1
	for nodeID := range f.peers {
		if nodeID >= id && (best == -1 || nodeID < best) {
			best = nodeID
		}
	}
	if best == -1 {
		for nodeID := range f.peers {
			if best == -1 || nodeID < best {
				best = nodeID
			}
		}
	}
	return f.peers[best].Self(), nil
}

type unknownPeerError struct{ peer Node }

func (e unknownPeerError) Error() string { return "unknown peer: " + e.peer.String() }
func errUnknown(n Node) error            { return unknownPeerError{n} }

func TestSolitaryInvariants(t *testing.T) {
	// Scenario S1: join one node, expect pred == succ == self, every
	// finger points to self.
	trans := newFakeTransport()
	n := NewNode("10.0.0.1", m)
	s := New(n, m, trans, nil)
	trans.add(s)

	assert.True(t, s.Predecessor().Equal(s.Self()))
	assert.True(t, s.Successor().Equal(s.Self()))
	for _, f := range s.Fingers() {
		assert.True(t, f.Node.Equal(s.Self()))
	}
}

func buildRing(t *testing.T, trans *fakeTransport, ips []string) map[string]*State {
	t.Helper()
	states := make(map[string]*State)
	for _, ip := range ips {
		n := NewNode(ip, m)
		s := New(n, m, trans, nil)
		trans.add(s)

		if len(states) > 0 {
			// bootstrap off an arbitrary existing node
			var bootstrap Node
			for _, other := range states {
				bootstrap = other.Self()
				break
			}
			require.NoError(t, s.Join(bootstrap))
			for _, other := range states {
				other.UpdateFingerTable(n)
			}
		}
		states[ip] = s
		for _, other := range states {
			other.FixFingers()
		}
	}
	return states
}

func TestSuccessorOwnership(t *testing.T) {
	trans := newFakeTransport()
	ips := []string{"192.168.1.125", "192.168.1.63", "192.168.1.15", "192.168.1.107", "192.168.1.33"}
	states := buildRing(t, trans, ips)

	// Property 1: every node's successor is the least id > self.id, or
	// self if solitary.
	ids := make([]int, 0, len(states))
	byID := make(map[int]*State)
	for _, s := range states {
		ids = append(ids, s.Self().ID)
		byID[s.Self().ID] = s
	}

	for _, s := range states {
		want := leastGreater(ids, s.Self().ID)
		assert.Equal(t, want, s.Successor().ID, "node %d successor mismatch", s.Self().ID)
	}
}

func leastGreater(ids []int, self int) int {
	best := -1
	for _, id := range ids {
		if id == self {
			continue
		}
		gt := id > self
		if gt && (best == -1 || id < best) {
			best = id
		}
	}
	if best == -1 {
		// wrap to the minimum id (or self if solitary)
		for _, id := range ids {
			if best == -1 || id < best {
				best = id
			}
		}
	}
	if best == -1 {
		return self
	}
	return best
}

func TestClosestPrecedingNodeTieBreak(t *testing.T) {
	trans := newFakeTransport()
	self := NewNode("self", m)
	s := New(self, m, trans, nil)
	trans.add(s)

	other := Node{ID: (self.ID + 1) % 256, IP: "other"}
	trans.add(New(other, m, trans, nil))
	far := Node{ID: (self.ID + 2) % 256, IP: "far"}
	trans.add(New(far, m, trans, nil))

	// `other` lands in finger[0] (start == self+1) and `far` in finger[1]
	// (start == self+2); both lie strictly between self and the target,
	// so the higher index, finger[1], should win.
	s.UpdateFingerTable(other)
	s.UpdateFingerTable(far)
	require.True(t, s.Fingers()[0].Node.Equal(other))
	require.True(t, s.Fingers()[1].Node.Equal(far))

	target := (self.ID + 3) % 256
	cp := s.ClosestPrecedingNode(target)
	assert.True(t, cp.Equal(far))
}

func TestLeaveResetsToSolitary(t *testing.T) {
	trans := newFakeTransport()
	ips := []string{"192.168.1.125", "192.168.1.63"}
	states := buildRing(t, trans, ips)

	s := states["192.168.1.63"]
	require.NoError(t, s.Leave())
	assert.True(t, s.Successor().Equal(s.Self()))
	assert.Equal(t, 0, s.KeyCount())
}
