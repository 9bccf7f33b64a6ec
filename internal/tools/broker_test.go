package tools

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeInput struct{ kind ToolType }

func (f fakeInput) Kind() ToolType { return f.kind }

func TestExecuteUnknownTool(t *testing.T) {
	b := NewBroker(0)
	if _, err := b.Execute(context.Background(), fakeInput{kind: "time_travel"}); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if _, err := b.Execute(context.Background(), nil); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("nil input: expected ErrUnknownTool, got %v", err)
	}
}

func TestExecuteUnregisteredHandler(t *testing.T) {
	b := NewBroker(0)
	if _, err := b.Execute(context.Background(), Terminal{Command: "true"}); !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
}

func TestExecuteWrapsHandlerError(t *testing.T) {
	b := NewBroker(0)
	inner := errors.New("disk on fire")
	b.MustRegisterHandler(ToolSearch, func(context.Context, ToolInput) (ToolOutput, error) {
		return ToolOutput{}, inner
	})

	_, err := b.Execute(context.Background(), Search{Pattern: "x", Root: "."})
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("expected ToolError, got %v", err)
	}
	if te.Kind != ToolSearch {
		t.Fatalf("wrapped kind %s", te.Kind)
	}
	if !errors.Is(err, inner) {
		t.Fatal("inner error flattened")
	}
}

func TestExecuteSetsOutputKind(t *testing.T) {
	b := NewBroker(0)
	b.MustRegisterHandler(ToolOpenFile, func(context.Context, ToolInput) (ToolOutput, error) {
		return ToolOutput{Text: "ok"}, nil
	})
	out, err := b.Execute(context.Background(), OpenFile{FSFilePath: "x.go"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out.Kind != ToolOpenFile {
		t.Fatalf("output kind %s", out.Kind)
	}
}

func TestRegisterRejectsUnknownKind(t *testing.T) {
	b := NewBroker(0)
	if err := b.RegisterHandler("summon_demon", func(context.Context, ToolInput) (ToolOutput, error) {
		return ToolOutput{}, nil
	}); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestConcurrencyBound(t *testing.T) {
	const limit = 3
	b := NewBroker(limit)

	var inflight, peak atomic.Int32
	release := make(chan struct{})
	b.MustRegisterHandler(ToolSearch, func(ctx context.Context, _ ToolInput) (ToolOutput, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inflight.Add(-1)
		return ToolOutput{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Execute(context.Background(), Search{Pattern: "x", Root: "."})
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if p := peak.Load(); p > limit {
		t.Fatalf("concurrency bound violated: peak %d > %d", p, limit)
	}
}

func TestExecuteRespectsContextWhileQueued(t *testing.T) {
	b := NewBroker(1)
	release := make(chan struct{})
	defer close(release)
	b.MustRegisterHandler(ToolSearch, func(context.Context, ToolInput) (ToolOutput, error) {
		<-release
		return ToolOutput{}, nil
	})

	started := make(chan struct{})
	go func() {
		close(started)
		b.Execute(context.Background(), Search{Pattern: "x", Root: "."})
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := b.Execute(ctx, Search{Pattern: "y", Root: "."})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("queued execute should observe its context, got %v", err)
	}
}
