package cluster

// NodeID uniquely identifies a node within a single cluster.  The zero id
// is reserved to mean "no identity" and is never assigned to a real node.
type NodeID uint64

// Node describes one addressable member of the messaging cluster.  Nodes
// are immutable once observed, membership changes always produce whole new
// Node values rather than editing existing ones in place.
type Node struct {
	ID          NodeID
	Address     string
	ServerGroup string

	// Capable indicates the node is eligible to receive balanced traffic.
	Capable bool

	Meta map[string]string
}

// NodeSet is a point-in-time snapshot of cluster membership, unique by node
// id.  A NodeSet is never modified after creation, every membership change
// yields a replacement NodeSet.
type NodeSet struct {
	Revision []uint64
	Nodes    []*Node
}

func (s *NodeSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Nodes)
}

// Get returns the member with the given id, or nil if it is not part of
// this snapshot.
func (s *NodeSet) Get(id NodeID) *Node {
	if s == nil {
		return nil
	}

	for _, node := range s.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

func (s *NodeSet) Contains(id NodeID) bool {
	return s.Get(id) != nil
}

// CapableNodes returns the members that are eligible for balanced traffic.
func (s *NodeSet) CapableNodes() []*Node {
	if s == nil {
		return nil
	}

	var nodes []*Node
	for _, node := range s.Nodes {
		if node.Capable {
			nodes = append(nodes, node)
		}
	}

	return nodes
}
