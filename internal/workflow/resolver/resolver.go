package resolver

import (
	"fmt"
	"sort"

	"github.com/conveyorci/conveyor/internal/workflow"
)

// NodeState represents the resolver's understanding of a job's readiness.
type NodeState string

const (
	NodeStateUnknown NodeState = "unknown"
	NodeStatePending NodeState = "pending"
	NodeStateReady   NodeState = "ready"
	NodeStateBlocked NodeState = "blocked"
	NodeStateRunning NodeState = "running"
	NodeStatePassed  NodeState = "passed"
	NodeStateFailed  NodeState = "failed"
	NodeStateSkipped NodeState = "skipped"
)

// Terminal reports whether the state can no longer change within a run.
func (s NodeState) Terminal() bool {
	switch s {
	case NodeStatePassed, NodeStateFailed, NodeStateSkipped:
		return true
	default:
		return false
	}
}

// Outcome is the recorded result of a job that has started or finished.
type Outcome string

const (
	OutcomeRunning Outcome = "running"
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Node captures one concrete job: a template instantiated with a matrix entry.
type Node struct {
	ID         string
	TemplateID string
	Template   workflow.JobTemplate
	Entry      workflow.Entry

	Dependencies []string
	Dependents   []string

	State     NodeState
	BlockedBy []string
}

// Resolver builds and evaluates the job dependency graph for one workflow.
type Resolver struct {
	definition workflow.Definition
	nodes      map[string]*Node
	orderedIDs []string
}

// JobID names the concrete job a template produces for a matrix entry.
// Templates without a matrix keep their bare id.
func JobID(templateID string, entry workflow.Entry) string {
	slug := entry.Slug()
	if slug == "" {
		return templateID
	}
	return templateID + "/" + slug
}

// New expands the definition's templates through their matrices into concrete
// job nodes and wires the dependency edges. A needs edge on a template fans
// out to every instance of the needed template. Cycles are rejected.
func New(def workflow.Definition) (*Resolver, error) {
	normalized, err := def.Normalized()
	if err != nil {
		return nil, err
	}
	if err := detectCycles(normalized); err != nil {
		return nil, err
	}

	nodes := make(map[string]*Node)
	instancesByTemplate := make(map[string][]string, len(normalized.Jobs))
	ordered := make([]string, 0, len(normalized.Jobs))
	for _, templateID := range normalized.TemplateIDs() {
		tpl := normalized.Jobs[templateID]
		for _, entry := range tpl.Matrix.Expand() {
			id := JobID(templateID, entry)
			if _, dup := nodes[id]; dup {
				return nil, fmt.Errorf("resolver: workflow %s: duplicate job %s", normalized.Name, id)
			}
			nodes[id] = &Node{
				ID:         id,
				TemplateID: templateID,
				Template:   tpl.Clone(),
				Entry:      entry.Clone(),
				State:      NodeStatePending,
			}
			instancesByTemplate[templateID] = append(instancesByTemplate[templateID], id)
			ordered = append(ordered, id)
		}
	}

	for _, node := range nodes {
		for _, neededTemplate := range node.Template.Needs {
			node.Dependencies = append(node.Dependencies, instancesByTemplate[neededTemplate]...)
		}
		sort.Strings(node.Dependencies)
	}
	for _, id := range ordered {
		node := nodes[id]
		for _, depID := range node.Dependencies {
			dep := nodes[depID]
			dep.Dependents = append(dep.Dependents, node.ID)
		}
	}
	for _, node := range nodes {
		sort.Strings(node.Dependents)
	}

	r := &Resolver{
		definition: normalized,
		nodes:      nodes,
		orderedIDs: ordered,
	}
	r.Refresh(nil)
	return r, nil
}

// Definition returns a clone of the resolver's workflow definition.
func (r *Resolver) Definition() workflow.Definition {
	return r.definition.Clone()
}

// Nodes returns the job nodes in expansion order: templates sorted by id,
// matrix entries in axis order.
func (r *Resolver) Nodes() []*Node {
	out := make([]*Node, 0, len(r.orderedIDs))
	for _, id := range r.orderedIDs {
		out = append(out, r.nodes[id])
	}
	return out
}

// Node retrieves a specific job node by its concrete job ID.
func (r *Resolver) Node(id string) (*Node, bool) {
	node, ok := r.nodes[id]
	return node, ok
}

// Refresh re-evaluates every node's state against the recorded outcomes.
// Jobs without an outcome are pending until their dependencies settle: all
// dependencies passed makes a job ready, a failed or skipped dependency
// skips it, anything else blocks it.
func (r *Resolver) Refresh(outcomes map[string]Outcome) {
	for _, node := range r.nodes {
		node.BlockedBy = nil
		switch outcomes[node.ID] {
		case OutcomeRunning:
			node.State = NodeStateRunning
		case OutcomePassed:
			node.State = NodeStatePassed
		case OutcomeFailed:
			node.State = NodeStateFailed
		case OutcomeSkipped:
			node.State = NodeStateSkipped
		default:
			node.State = NodeStatePending
		}
	}
	// Propagate in expansion order; dependencies sort before dependents only
	// template-wise, so iterate until no state changes.
	for changed := true; changed; {
		changed = false
		for _, id := range r.orderedIDs {
			node := r.nodes[id]
			if node.State != NodeStatePending && node.State != NodeStateBlocked {
				continue
			}
			next, blockedBy := r.evaluate(node)
			if next != node.State || len(blockedBy) != len(node.BlockedBy) {
				changed = true
			}
			node.State = next
			node.BlockedBy = blockedBy
		}
	}
}

func (r *Resolver) evaluate(node *Node) (NodeState, []string) {
	if len(node.Dependencies) == 0 {
		return NodeStateReady, nil
	}
	var blockedBy []string
	for _, depID := range node.Dependencies {
		dep := r.nodes[depID]
		switch dep.State {
		case NodeStatePassed:
			continue
		case NodeStateFailed, NodeStateSkipped:
			return NodeStateSkipped, []string{depID}
		default:
			blockedBy = append(blockedBy, depID)
		}
	}
	if len(blockedBy) == 0 {
		return NodeStateReady, nil
	}
	return NodeStateBlocked, blockedBy
}

// Ready returns the jobs whose dependencies have all passed, in expansion
// order.
func (r *Resolver) Ready() []*Node {
	var ready []*Node
	for _, id := range r.orderedIDs {
		if node := r.nodes[id]; node.State == NodeStateReady {
			ready = append(ready, node)
		}
	}
	return ready
}

// Skipped returns the jobs the resolver skipped because a dependency failed
// or was itself skipped.
func (r *Resolver) Skipped() []*Node {
	var skipped []*Node
	for _, id := range r.orderedIDs {
		if node := r.nodes[id]; node.State == NodeStateSkipped {
			skipped = append(skipped, node)
		}
	}
	return skipped
}

// Settled reports whether every job has reached a terminal state.
func (r *Resolver) Settled() bool {
	for _, node := range r.nodes {
		if !node.State.Terminal() {
			return false
		}
	}
	return true
}

// Queue returns the jobs that still have to run to satisfy the requested
// targets, dependencies first. Without explicit targets every unfinished job
// is queued.
func (r *Resolver) Queue(targets ...string) ([]*Node, error) {
	if len(targets) == 0 {
		targets = append([]string{}, r.orderedIDs...)
	}
	visited := make(map[string]bool, len(targets))
	ordered := make([]*Node, 0, len(r.nodes))
	var visit func(string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		node, ok := r.nodes[id]
		if !ok {
			return fmt.Errorf("resolver: unknown job %s", id)
		}
		visited[id] = true
		for _, dep := range node.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		if !node.State.Terminal() {
			ordered = append(ordered, node)
		}
		return nil
	}
	for _, id := range targets {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func detectCycles(def workflow.Definition) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	marks := make(map[string]int, len(def.Jobs))
	var visit func(id string) error
	visit = func(id string) error {
		switch marks[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("resolver: workflow %s: dependency cycle through %s", def.Name, id)
		}
		marks[id] = visiting
		for _, need := range def.Jobs[id].Needs {
			if err := visit(need); err != nil {
				return err
			}
		}
		marks[id] = done
		return nil
	}
	for _, id := range def.TemplateIDs() {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
