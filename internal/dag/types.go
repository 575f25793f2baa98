package dag

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/fmriflow/internal/config"
)

// Graph holds node IDs and the edges between them. It is safe for
// concurrent use.
type Graph struct {
	mutex sync.RWMutex
	nodes map[string]*vertex
}

type vertex struct {
	id         string
	deps       map[string]*vertex // upstream
	dependents map[string]*vertex // downstream
}

// State is the lifecycle state of a Node.
type State int32

const (
	Pending State = iota
	Running
	Done
	Failed
	Skipped
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// GroupSubject is the subject part of the ID of group-scoped nodes.
const GroupSubject = "group"

// Node is one executable unit: a step applied to a subject, or a
// group-scoped step.
type Node struct {
	// ID is "<subject>/<type>.<name>", e.g. "sub001/brain_extraction.anat"
	// or "group/group_map.acc".
	ID string
	// Subject is the subject ID, or GroupSubject.
	Subject string
	Step    *config.Step

	Deps       []*Node
	Dependents []*Node

	state      atomic.Int32
	depCount   atomic.Int32
	skipOnce   sync.Once
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// IsGroup reports whether the node runs once for the whole study.
func (n *Node) IsGroup() bool { return n.Subject == GroupSubject }

// State returns the current state of the node.
func (n *Node) State() State { return State(n.state.Load()) }

// Err returns the failure, skip or cancellation cause of a finished node.
func (n *Node) Err() error { return n.err }

// StartedAt returns when the node started running. It is zero for nodes
// that never ran.
func (n *Node) StartedAt() time.Time { return n.startedAt }

// FinishedAt returns when the node reached its final state.
func (n *Node) FinishedAt() time.Time { return n.finishedAt }

func (n *Node) transition(from, to State) bool {
	return n.state.CompareAndSwap(int32(from), int32(to))
}
