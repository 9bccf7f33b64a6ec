package planner

import (
	"context"
	"errors"
	"testing"

	"mecha/internal/symbol"
	"mecha/internal/tools"
)

func TestArenaParentChildIndices(t *testing.T) {
	a := NewArena()
	c1, err := a.AddChild(0, Action{Tool: tools.ToolSearch, Summary: "find callers"})
	if err != nil {
		t.Fatalf("add child: %v", err)
	}
	c2, err := a.AddChild(c1.Index, Action{Tool: tools.ToolCodeEditing, Summary: "apply fix"})
	if err != nil {
		t.Fatalf("add grandchild: %v", err)
	}

	if c1.Parent != 0 || c2.Parent != c1.Index {
		t.Fatalf("parent edges c1=%d c2=%d", c1.Parent, c2.Parent)
	}
	traj := a.Trajectory(c2.Index)
	if len(traj) != 3 || traj[0].Index != 0 || traj[2].Index != c2.Index {
		t.Fatalf("trajectory %+v", traj)
	}
	if a.Depth(c2.Index) != 2 {
		t.Fatalf("depth %d", a.Depth(c2.Index))
	}
}

func TestFinishRequiresFinishedChildren(t *testing.T) {
	a := NewArena()
	child, _ := a.AddChild(0, Action{Tool: tools.ToolSearch, Summary: "s"})

	err := a.Finish(0, symbol.NewReward("", "", 10))
	if !errors.Is(err, ErrUnfinishedChildren) {
		t.Fatalf("got %v", err)
	}

	if err := a.Finish(child.Index, symbol.NewReward("", "", 50)); err != nil {
		t.Fatalf("finish child: %v", err)
	}
	if err := a.Finish(0, symbol.NewReward("", "", 10)); err != nil {
		t.Fatalf("finish root: %v", err)
	}
	// Finished is absorbing.
	if err := a.Finish(0, symbol.NewReward("", "", 0)); !errors.Is(err, ErrNodeFinished) {
		t.Fatalf("refinish: %v", err)
	}
	if _, err := a.AddChild(0, Action{Tool: tools.ToolSearch, Summary: "late"}); !errors.Is(err, ErrNodeFinished) {
		t.Fatalf("expand finished: %v", err)
	}
}

func TestDuplicateSiblingFlagged(t *testing.T) {
	a := NewArena()
	act := Action{Tool: tools.ToolTerminal, Summary: "go test ./..."}
	first, _ := a.AddChild(0, act)
	second, _ := a.AddChild(0, act)
	if first.Duplicate || !second.Duplicate {
		t.Fatalf("duplicate flags first=%v second=%v", first.Duplicate, second.Duplicate)
	}
}

func TestExpansionBudget(t *testing.T) {
	a := NewArena()
	for i := 0; i < DefaultMaxExpansions; i++ {
		if _, err := a.AddChild(0, Action{Tool: tools.ToolSearch, Summary: string(rune('a' + i))}); err != nil {
			t.Fatalf("child %d: %v", i, err)
		}
	}
	if _, err := a.AddChild(0, Action{Tool: tools.ToolSearch, Summary: "overflow"}); err == nil {
		t.Fatal("expansion past budget accepted")
	}
}

// scriptedExpander proposes one action per distinct summary until exhausted.
type scriptedExpander struct {
	actions []Action
	next    int
}

func (e *scriptedExpander) Propose(_ context.Context, _ []*Node) ([]Action, error) {
	if e.next >= len(e.actions) {
		return nil, nil
	}
	a := e.actions[e.next]
	e.next++
	return []Action{a}, nil
}

// tableRewards scores actions by summary.
type tableRewards map[string]int

func (r tableRewards) Evaluate(_ context.Context, trajectory []*Node) (symbol.Reward, error) {
	leaf := trajectory[len(trajectory)-1]
	return symbol.NewReward("", "", r[leaf.Action.Summary]), nil
}

func TestSearchPrefersHigherRewards(t *testing.T) {
	arena := NewArena()
	expander := &scriptedExpander{actions: []Action{
		{Tool: tools.ToolSearch, Summary: "weak"},
		{Tool: tools.ToolCodeEditing, Summary: "strong"},
		{Tool: tools.ToolTerminal, Summary: "middling"},
	}}
	rewards := tableRewards{"weak": -20, "strong": 90, "middling": 10}

	tree := NewSearchTree(arena, expander, rewards, SearchConfig{Iterations: 8})
	trajectory, err := tree.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	leaf := trajectory[len(trajectory)-1]
	if leaf.Action == nil || leaf.Action.Summary != "strong" {
		t.Fatalf("best trajectory ends at %+v", leaf.Action)
	}
}

func TestSearchStopsWhenTreeExhausted(t *testing.T) {
	arena := NewArena()
	expander := &scriptedExpander{actions: []Action{{Tool: tools.ToolSearch, Summary: "only"}}}
	tree := NewSearchTree(arena, expander, tableRewards{"only": 5}, SearchConfig{Iterations: 50})

	trajectory, err := tree.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(trajectory) != 2 {
		t.Fatalf("trajectory length %d", len(trajectory))
	}
}

func TestSearchHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tree := NewSearchTree(NewArena(), &scriptedExpander{}, tableRewards{}, SearchConfig{})
	if _, err := tree.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}
