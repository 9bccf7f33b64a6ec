package planner

import (
	"context"
	"errors"
	"math"

	"mecha/internal/logging"
	"mecha/internal/symbol"
)

// ErrNoExpandableNodes ends a search whose tree is fully explored.
var ErrNoExpandableNodes = errors.New("search tree has no expandable nodes")

// RewardModel scores a trajectory of actions. Implementations typically ask
// an LLM to judge the sequence; tests use a table.
type RewardModel interface {
	Evaluate(ctx context.Context, trajectory []*Node) (symbol.Reward, error)
}

// Expander proposes candidate actions under a node. An empty proposal marks
// the node as a dead end for this iteration.
type Expander interface {
	Propose(ctx context.Context, trajectory []*Node) ([]Action, error)
}

// SearchConfig tunes the tree search.
type SearchConfig struct {
	// Iterations bounds select-expand-evaluate cycles; <= 0 selects 32.
	Iterations int
	// ExplorationWeight scales the UCT exploration term; <= 0 selects sqrt(2).
	ExplorationWeight float64
	// DepthPenalty discourages runaway trajectories; applied per level.
	DepthPenalty float64
	// DuplicatePenalty is subtracted from the score of duplicate actions.
	DuplicatePenalty float64
}

func (c SearchConfig) withDefaults() SearchConfig {
	if c.Iterations <= 0 {
		c.Iterations = 32
	}
	if c.ExplorationWeight <= 0 {
		c.ExplorationWeight = math.Sqrt2
	}
	if c.DuplicatePenalty == 0 {
		c.DuplicatePenalty = 25
	}
	return c
}

// SearchTree runs Monte-Carlo tree search over an action arena.
type SearchTree struct {
	arena    *Arena
	expander Expander
	rewards  RewardModel
	cfg      SearchConfig
}

// NewSearchTree wires a search over arena.
func NewSearchTree(arena *Arena, expander Expander, rewards RewardModel, cfg SearchConfig) *SearchTree {
	return &SearchTree{arena: arena, expander: expander, rewards: rewards, cfg: cfg.withDefaults()}
}

// Arena exposes the underlying arena for inspection.
func (t *SearchTree) Arena() *Arena { return t.arena }

// uct scores a candidate node for selection: mean value exploitation plus an
// exploration bonus from the parent's visit count, minus depth and duplicate
// penalties.
func (t *SearchTree) uct(n *Node) float64 {
	if n.Visits == 0 {
		return math.Inf(1)
	}
	exploitation := n.Value / float64(n.Visits)

	parentVisits := 1
	if p := t.arena.Node(n.Parent); p != nil && p.Visits > 0 {
		parentVisits = p.Visits
	}
	exploration := t.cfg.ExplorationWeight * math.Sqrt(math.Log(float64(parentVisits))/float64(n.Visits))

	score := exploitation + exploration
	score -= t.cfg.DepthPenalty * float64(t.arena.Depth(n.Index))
	if n.Duplicate {
		score -= t.cfg.DuplicatePenalty
	}
	return score
}

// selectNode walks from the root picking the best-scoring child until it
// reaches an expandable node.
func (t *SearchTree) selectNode() *Node {
	cur := t.arena.Root()
	for {
		if t.arena.Expandable(cur.Index) {
			return cur
		}
		var best *Node
		bestScore := math.Inf(-1)
		for _, idx := range cur.Children {
			child := t.arena.Node(idx)
			if child.State == symbol.StateFinished && !t.hasExpandableDescendant(child) {
				continue
			}
			if s := t.uct(child); s > bestScore {
				bestScore, best = s, child
			}
		}
		if best == nil {
			return nil
		}
		cur = best
	}
}

func (t *SearchTree) hasExpandableDescendant(n *Node) bool {
	for _, idx := range n.Children {
		child := t.arena.Node(idx)
		if t.arena.Expandable(idx) || t.hasExpandableDescendant(child) {
			return true
		}
	}
	return false
}

// backpropagate adds the reward to every node on the path back to the root.
func (t *SearchTree) backpropagate(idx NodeIndex, value float64) {
	for _, n := range t.arena.Trajectory(idx) {
		n.Visits++
		n.Value += value
	}
}

// Step runs one select-expand-evaluate-backpropagate cycle and returns the
// node it created, if any.
func (t *SearchTree) Step(ctx context.Context) (*Node, error) {
	target := t.selectNode()
	if target == nil {
		return nil, ErrNoExpandableNodes
	}

	actions, err := t.expander.Propose(ctx, t.arena.Trajectory(target.Index))
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		// Dead end: count the visit so selection moves elsewhere.
		t.backpropagate(target.Index, 0)
		return nil, nil
	}

	child, err := t.arena.AddChild(target.Index, actions[0])
	if err != nil {
		return nil, err
	}
	reward, err := t.rewards.Evaluate(ctx, t.arena.Trajectory(child.Index))
	if err != nil {
		return nil, err
	}
	child.Reward = &reward
	t.backpropagate(child.Index, float64(reward.Value))
	return child, nil
}

// Run iterates the search and returns the best-valued trajectory found. The
// search stops at the iteration budget, on context cancellation, or when the
// tree is exhausted.
func (t *SearchTree) Run(ctx context.Context) ([]*Node, error) {
	for i := 0; i < t.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := t.Step(ctx); err != nil {
			if errors.Is(err, ErrNoExpandableNodes) {
				break
			}
			return nil, err
		}
	}

	best := t.bestLeaf()
	if best == nil {
		return nil, ErrNoExpandableNodes
	}
	trajectory := t.arena.Trajectory(best.Index)
	logging.Planner("search done: %d nodes, best leaf %d (mean value %.1f)",
		t.arena.Len(), best.Index, best.Value/math.Max(1, float64(best.Visits)))
	return trajectory, nil
}

// bestLeaf picks the visited node with the highest mean value, preferring
// deeper nodes on ties so the trajectory carries the most actions.
func (t *SearchTree) bestLeaf() *Node {
	var best *Node
	bestScore := math.Inf(-1)
	for i := 1; i < t.arena.Len(); i++ {
		n := t.arena.Node(i)
		if n.Visits == 0 {
			continue
		}
		score := n.Value / float64(n.Visits)
		if score > bestScore || (score == bestScore && best != nil && t.arena.Depth(n.Index) > t.arena.Depth(best.Index)) {
			bestScore, best = score, n
		}
	}
	return best
}
