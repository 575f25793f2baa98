package dag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fmriflow/internal/config"
)

// recorder collects final node states reported to the observer.
type recorder struct {
	mu     sync.Mutex
	states map[string]State
	order  []string
}

func newRecorder() *recorder { return &recorder{states: make(map[string]State)} }

func (r *recorder) observe(_ context.Context, n *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[n.ID] = n.State()
	r.order = append(r.order, n.ID)
}

func (r *recorder) index(id string) int {
	for i, v := range r.order {
		if v == id {
			return i
		}
	}
	return -1
}

func buildPlan(t *testing.T, subjects []string, steps ...*config.Step) *Plan {
	t.Helper()
	plan, err := Build(context.Background(), &config.Model{Steps: steps}, subjects)
	require.NoError(t, err)
	return plan
}

func TestExecutorRunsInDependencyOrder(t *testing.T) {
	plan := buildPlan(t, []string{"sub001", "sub002"},
		step("a", "x", config.ScopeSubject),
		step("b", "x", config.ScopeSubject, "a.x"),
		step("g", "x", config.ScopeGroup, "b.x"),
	)
	rec := newRecorder()
	var calls atomic.Int32
	exec := NewExecutor(plan, 4, func(ctx context.Context, n *Node) error {
		calls.Add(1)
		return nil
	}, WithObserver(rec.observe))

	require.NoError(t, exec.Run(context.Background()))
	assert.EqualValues(t, 5, calls.Load())
	for _, id := range plan.IDs() {
		assert.Equal(t, Done, plan.Nodes[id].State(), id)
		assert.False(t, plan.Nodes[id].StartedAt().IsZero())
	}
	for _, sub := range []string{"sub001", "sub002"} {
		assert.Less(t, rec.index(sub+"/a.x"), rec.index(sub+"/b.x"))
		assert.Less(t, rec.index(sub+"/b.x"), rec.index("group/g.x"))
	}
}

func TestExecutorSkipsDependentsOfFailure(t *testing.T) {
	plan := buildPlan(t, []string{"sub001", "sub002"},
		step("a", "x", config.ScopeSubject),
		step("b", "x", config.ScopeSubject, "a.x"),
		step("c", "x", config.ScopeSubject, "b.x"),
		step("g", "x", config.ScopeGroup, "c.x"),
	)
	rec := newRecorder()
	boom := errors.New("bet failed")
	exec := NewExecutor(plan, 2, func(ctx context.Context, n *Node) error {
		if n.ID == "sub001/a.x" {
			return boom
		}
		return nil
	}, WithObserver(rec.observe))

	err := exec.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "execution failed for sub001/a.x: bet failed")

	assert.Equal(t, Failed, rec.states["sub001/a.x"])
	assert.Equal(t, Skipped, rec.states["sub001/b.x"])
	assert.Equal(t, Skipped, rec.states["sub001/c.x"])
	assert.Equal(t, Skipped, rec.states["group/g.x"])
	assert.ErrorContains(t, plan.Nodes["sub001/b.x"].Err(), "upstream failure of 'sub001/a.x'")

	// The other subject is unaffected without fail-fast.
	assert.Equal(t, Done, rec.states["sub002/a.x"])
	assert.Equal(t, Done, rec.states["sub002/c.x"])
	assert.Len(t, rec.order, 7, "every node is reported exactly once")
}

func TestExecutorTurnsPanicIntoFailure(t *testing.T) {
	plan := buildPlan(t, []string{"sub001", "sub002"},
		step("quality", "qa", config.ScopeSubject),
		step("b", "x", config.ScopeSubject, "quality.qa"),
	)
	rec := newRecorder()
	exec := NewExecutor(plan, 2, func(ctx context.Context, n *Node) error {
		if n.ID == "sub001/quality.qa" {
			panic("slice bounds out of range [:768] with capacity 160")
		}
		return nil
	}, WithObserver(rec.observe))

	err := exec.Run(context.Background())
	assert.ErrorContains(t, err, "node 'sub001/quality.qa' panicked")
	assert.Equal(t, Failed, rec.states["sub001/quality.qa"])
	assert.Equal(t, Skipped, rec.states["sub001/b.x"])
	assert.Equal(t, Done, rec.states["sub002/b.x"])
}

func TestExecutorFailFastCancelsPendingNodes(t *testing.T) {
	plan := buildPlan(t, []string{"sub001", "sub002"},
		step("a", "x", config.ScopeSubject),
		step("b", "x", config.ScopeSubject, "a.x"),
	)
	rec := newRecorder()
	exec := NewExecutor(plan, 2, func(ctx context.Context, n *Node) error {
		switch n.ID {
		case "sub001/a.x":
			return errors.New("mcflirt failed")
		case "sub002/a.x":
			// Wait for the cancellation triggered by sub001.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		}
		return nil
	}, WithFailFast(true), WithObserver(rec.observe))

	err := exec.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "execution failed for sub001/a.x: mcflirt failed")

	assert.Equal(t, Failed, rec.states["sub001/a.x"])
	assert.Equal(t, Skipped, rec.states["sub001/b.x"])
	assert.Equal(t, Cancelled, rec.states["sub002/a.x"])
	assert.Equal(t, Cancelled, rec.states["sub002/b.x"])
}

func TestExecutorParentCancellation(t *testing.T) {
	plan := buildPlan(t, []string{"sub001"},
		step("a", "x", config.ScopeSubject),
		step("b", "x", config.ScopeSubject, "a.x"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(plan, 1, func(ctx context.Context, n *Node) error {
		cancel()
		return nil
	})

	err := exec.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Done, plan.Nodes["sub001/a.x"].State())
	assert.Equal(t, Cancelled, plan.Nodes["sub001/b.x"].State())
}

func TestExecutorBoundsConcurrency(t *testing.T) {
	subjects := []string{"sub001", "sub002", "sub003", "sub004", "sub005", "sub006"}
	plan := buildPlan(t, subjects, step("a", "x", config.ScopeSubject))

	var running, peak atomic.Int32
	exec := NewExecutor(plan, 2, func(ctx context.Context, n *Node) error {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	require.NoError(t, exec.Run(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecutorEmptyPlan(t *testing.T) {
	plan := buildPlan(t, nil, step("a", "x", config.ScopeSubject))
	exec := NewExecutor(plan, 0, func(context.Context, *Node) error {
		t.Fatal("no node should run")
		return nil
	})
	assert.NoError(t, exec.Run(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "unknown", State(99).String())
}
