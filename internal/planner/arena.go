// Package planner maintains the action graph behind an agentic run and
// searches it for promising action sequences. Nodes live in an arena and
// refer to each other by integer index, so cyclic symbol relationships never
// produce owning cycles: child and parent edges are indices, and the
// back-edge to the parent is weak by construction.
package planner

import (
	"errors"
	"fmt"

	"mecha/internal/logging"
	"mecha/internal/symbol"
	"mecha/internal/tools"
)

// NodeIndex addresses a node inside an arena. The root is always index 0.
type NodeIndex = int

// NoParent marks the root's parent edge.
const NoParent NodeIndex = -1

// DefaultMaxExpansions bounds the children of a single node.
const DefaultMaxExpansions = 3

var (
	// ErrUnfinishedChildren rejects finishing a node before its children.
	ErrUnfinishedChildren = errors.New("node has unfinished children")
	// ErrNodeFinished rejects expanding or mutating a finished node.
	ErrNodeFinished = errors.New("node already finished")
)

// Action is the tool invocation a node represents.
type Action struct {
	Tool    tools.ToolType
	Summary string
}

// Node is one action in the graph. Fields are managed by the arena; treat a
// returned *Node as read-only outside this package.
type Node struct {
	Index    NodeIndex
	Parent   NodeIndex
	Children []NodeIndex

	Action   *Action
	Feedback string
	State    symbol.ActionState
	Reward   *symbol.Reward

	Visits        int
	Value         float64
	MaxExpansions int
	Duplicate     bool
}

// Arena owns every node of one action graph.
type Arena struct {
	nodes []*Node
}

// NewArena creates an arena seeded with an action-less root node.
func NewArena() *Arena {
	a := &Arena{}
	a.nodes = append(a.nodes, &Node{
		Index:         0,
		Parent:        NoParent,
		State:         symbol.StateOnGoing,
		MaxExpansions: DefaultMaxExpansions,
	})
	return a
}

// Root returns the root node.
func (a *Arena) Root() *Node { return a.nodes[0] }

// Node returns the node at idx, or nil when out of range.
func (a *Arena) Node(idx NodeIndex) *Node {
	if idx < 0 || idx >= len(a.nodes) {
		return nil
	}
	return a.nodes[idx]
}

// Len returns the number of nodes in the arena.
func (a *Arena) Len() int { return len(a.nodes) }

// AddChild appends a new node under parent. Duplicate actions under the same
// parent are linked but flagged, so the selector can penalize them.
func (a *Arena) AddChild(parent NodeIndex, action Action) (*Node, error) {
	p := a.Node(parent)
	if p == nil {
		return nil, fmt.Errorf("no node at index %d", parent)
	}
	if p.State == symbol.StateFinished {
		return nil, ErrNodeFinished
	}
	if len(p.Children) >= p.MaxExpansions {
		return nil, fmt.Errorf("node %d exhausted its %d expansions", parent, p.MaxExpansions)
	}

	n := &Node{
		Index:         len(a.nodes),
		Parent:        parent,
		Action:        &action,
		State:         symbol.StateOnGoing,
		MaxExpansions: DefaultMaxExpansions,
	}
	for _, sib := range p.Children {
		s := a.nodes[sib]
		if s.Action != nil && s.Action.Tool == action.Tool && s.Action.Summary == action.Summary {
			n.Duplicate = true
			break
		}
	}
	a.nodes = append(a.nodes, n)
	p.Children = append(p.Children, n.Index)
	logging.PlannerDebug("node %d: child %d (%s)", parent, n.Index, action.Tool)
	return n, nil
}

// Finish moves a node to Finished with the given reward. Children form an
// unordered set and every one of them must already be Finished; Finished is
// absorbing, so finishing twice is rejected.
func (a *Arena) Finish(idx NodeIndex, reward symbol.Reward) error {
	n := a.Node(idx)
	if n == nil {
		return fmt.Errorf("no node at index %d", idx)
	}
	if n.State == symbol.StateFinished {
		return ErrNodeFinished
	}
	for _, child := range n.Children {
		if a.nodes[child].State != symbol.StateFinished {
			return fmt.Errorf("%w: child %d is %s", ErrUnfinishedChildren, child, a.nodes[child].State)
		}
	}
	n.State = symbol.StateFinished
	n.Reward = &reward
	return nil
}

// SetWaiting marks a node as blocked on outside input. Finished stays put.
func (a *Arena) SetWaiting(idx NodeIndex) {
	if n := a.Node(idx); n != nil && n.State != symbol.StateFinished {
		n.State = symbol.StateWaiting
	}
}

// Trajectory returns the path from the root to idx, inclusive, by walking the
// weak parent edges.
func (a *Arena) Trajectory(idx NodeIndex) []*Node {
	var rev []*Node
	for cur := a.Node(idx); cur != nil; {
		rev = append(rev, cur)
		if cur.Parent == NoParent {
			break
		}
		cur = a.Node(cur.Parent)
	}
	out := make([]*Node, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out
}

// Depth returns the distance from the root to idx.
func (a *Arena) Depth(idx NodeIndex) int {
	return len(a.Trajectory(idx)) - 1
}

// Expandable reports whether the node can take another child.
func (a *Arena) Expandable(idx NodeIndex) bool {
	n := a.Node(idx)
	return n != nil && n.State != symbol.StateFinished && len(n.Children) < n.MaxExpansions
}
