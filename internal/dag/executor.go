package dag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vk/fmriflow/internal/ctxlog"
)

// NodeFunc runs the work of a single node.
type NodeFunc func(ctx context.Context, n *Node) error

// Observer is called once for every node when it reaches a final state.
// It may be called from several goroutines at once.
type Observer func(ctx context.Context, n *Node)

// Executor runs a Plan on a bounded worker pool.
type Executor struct {
	plan       *Plan
	numWorkers int
	run        NodeFunc
	failFast   bool
	observers  []Observer
	wg         sync.WaitGroup
	now        func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithFailFast cancels the remaining nodes after the first failure.
func WithFailFast(enabled bool) Option {
	return func(e *Executor) { e.failFast = enabled }
}

// WithObserver registers a callback for final node states.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observers = append(e.observers, o) }
}

// NewExecutor creates an executor running fn for every node of plan.
func NewExecutor(plan *Plan, numWorkers int, fn NodeFunc, opts ...Option) *Executor {
	if numWorkers < 1 {
		numWorkers = 1
	}
	e := &Executor{plan: plan, numWorkers: numWorkers, run: fn, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the entire plan concurrently and returns an error if any node
// fails. It respects the cancellation signal from the provided context.
func (e *Executor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	nodes := e.plan.Nodes
	if len(nodes) == 0 {
		return nil
	}

	readyChan := make(chan *Node, len(nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Debug("Initializing executor, finding root nodes...")
	e.wg.Add(len(nodes))
	rootNodeCount := 0
	for _, id := range e.plan.Order {
		if node := nodes[id]; node.depCount.Load() == 0 {
			readyChan <- node
			rootNodeCount++
		}
	}
	logger.Debug("Found all root nodes.", "count", rootNodeCount)

	logger.Debug("Starting worker pool.", "workers", e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		go e.worker(runCtx, readyChan, cancel, i)
	}

	logger.Info("Waiting for all nodes to complete...", "nodes", len(nodes))
	e.wg.Wait()
	close(readyChan)
	logger.Info("All nodes completed.")

	return e.result(ctx)
}

// result identifies the root causes among the finished nodes. Skipped and
// cancelled nodes are symptoms, not causes.
func (e *Executor) result(ctx context.Context) error {
	var failed []*Node
	cancelled := 0
	for _, node := range e.plan.Nodes {
		switch node.State() {
		case Failed:
			failed = append(failed, node)
		case Cancelled:
			cancelled++
		}
	}

	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool {
			if !failed[i].finishedAt.Equal(failed[j].finishedAt) {
				return failed[i].finishedAt.Before(failed[j].finishedAt)
			}
			return failed[i].ID < failed[j].ID
		})
		ids := make([]string, len(failed))
		for i, n := range failed {
			ids[i] = n.ID
		}
		sort.Strings(ids)
		return fmt.Errorf("execution failed for %s: %w", strings.Join(ids, ", "), failed[0].err)
	}
	if cancelled > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	}
	return nil
}

// finish moves a node into a final state and notifies the observers.
func (e *Executor) finish(ctx context.Context, node *Node, from, to State, err error) bool {
	if !node.transition(from, to) {
		return false
	}
	node.err = err
	node.finishedAt = e.now()
	for _, o := range e.observers {
		o(ctx, node)
	}
	return true
}

// skipDependents recursively moves all downstream nodes into state `to`
// (Skipped or Cancelled) and decrements the WaitGroup for each of them.
func (e *Executor) skipDependents(ctx context.Context, node *Node, to State) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range node.Dependents {
		dependent.skipOnce.Do(func() {
			reason := fmt.Errorf("skipped due to upstream failure of '%s'", node.ID)
			if to == Cancelled {
				reason = fmt.Errorf("cancelled before '%s' finished: %w", node.ID, context.Canceled)
			}
			if e.finish(ctx, dependent, Pending, to, reason) {
				logger.Warn("Skipping dependent node.", "node", dependent.ID, "dependency", node.ID, "state", to)
				e.wg.Done()
				e.skipDependents(ctx, dependent, to)
			}
		})
	}
}

// runNode calls the node function. A panic fails the node instead of the
// whole process.
func (e *Executor) runNode(ctx context.Context, node *Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node '%s' panicked: %v", node.ID, r)
		}
	}()
	return e.run(ctx, node)
}

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, readyChan chan *Node, cancel context.CancelFunc, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	// Observers and skip bookkeeping use the parent context so they still
	// work after a fail-fast cancellation.
	obsCtx := context.WithoutCancel(ctx)

	for node := range readyChan {
		workerLogger := logger.With("workerID", workerID, "node", node.ID)

		if ctx.Err() != nil {
			node.skipOnce.Do(func() {
				if e.finish(obsCtx, node, Pending, Cancelled, ctx.Err()) {
					workerLogger.Warn("Context canceled, skipping node execution.")
					e.wg.Done()
					e.skipDependents(obsCtx, node, Cancelled)
				}
			})
			continue
		}

		if !node.transition(Pending, Running) {
			workerLogger.Warn("Node picked up in unexpected state.", "state", node.State())
			continue
		}
		node.startedAt = e.now()
		workerLogger.Debug("Worker picked up node for execution.")

		err := e.runNode(ctxlog.WithLogger(ctx, workerLogger), node)

		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				workerLogger.Warn("Node interrupted by cancellation.")
				e.finish(obsCtx, node, Running, Cancelled, err)
				e.skipDependents(obsCtx, node, Cancelled)
			} else {
				workerLogger.Error("Node execution failed.", "error", err)
				e.finish(obsCtx, node, Running, Failed, err)
				if e.failFast {
					cancel()
				}
				e.skipDependents(obsCtx, node, Skipped)
			}
			e.wg.Done()
			continue
		}

		workerLogger.Debug("Node execution succeeded.")
		e.finish(obsCtx, node, Running, Done, nil)

		for _, dependent := range node.Dependents {
			if dependent.depCount.Add(-1) == 0 {
				workerLogger.Debug("Unlocking dependent node.", "dependent", dependent.ID)
				readyChan <- dependent
			}
		}

		e.wg.Done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}
