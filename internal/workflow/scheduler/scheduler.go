package scheduler

import (
	"fmt"

	"github.com/conveyorci/conveyor/internal/workflow/resolver"
)

// Selector exposes the minimal contract the run engine needs to request
// runnable job batches.
type Selector interface {
	Runnable(RunnableRequest) (RunnableBatch, error)
}

// Scheduler implements Selector on top of a dependency resolver. It examines
// the resolved queue, filters jobs that are truly runnable, and enforces any
// configured constraints.
type Scheduler struct {
	resolver *resolver.Resolver
}

// New wires a Scheduler to a resolver snapshot.
func New(res *resolver.Resolver) (*Scheduler, error) {
	if res == nil {
		return nil, fmt.Errorf("scheduler: resolver is required")
	}
	return &Scheduler{resolver: res}, nil
}

// RunnableRequest captures the current runtime state plus any scheduling
// constraints. The Scheduler produces batches that satisfy these constraints.
type RunnableRequest struct {
	// Targets optionally narrows scheduling to a subset of jobs. When empty,
	// every unfinished job is considered.
	Targets []string
	// BatchSize limits how many runnable jobs are returned at once. Values <= 0
	// are treated as "no limit" (subject to MaxParallel enforcement).
	BatchSize int
	// MaxParallel caps how many jobs may be active at once, including the jobs
	// listed in Running. Values <= 0 disable the limit.
	MaxParallel int
	// Running should list job IDs that are currently executing so the
	// scheduler won't dispatch them twice.
	Running []string
}

// RunnableBatch describes the scheduler's decision.
type RunnableBatch struct {
	Nodes   []*resolver.Node
	Skipped map[string]SkipReason
}

// SkipReason explains why a job was excluded from the runnable set.
type SkipReason struct {
	Reason SkipReasonCode
	Detail string
}

// SkipReasonCode enumerates scheduler skip reasons.
type SkipReasonCode string

const (
	SkipReasonNotReady    SkipReasonCode = "not-ready"
	SkipReasonConcurrency SkipReasonCode = "concurrency"
	SkipReasonActive      SkipReasonCode = "already-running"
)

// Runnable returns a batch of runnable jobs constrained by the request.
func (s *Scheduler) Runnable(req RunnableRequest) (RunnableBatch, error) {
	queue, err := s.resolver.Queue(req.Targets...)
	if err != nil {
		return RunnableBatch{}, err
	}
	running := req.runningSet()
	limit := req.batchLimit(len(queue), len(running))
	result := RunnableBatch{}
	if limit == 0 {
		if req.MaxParallel > 0 && len(running) >= req.MaxParallel {
			for _, node := range s.resolver.Ready() {
				if _, active := running[node.ID]; active {
					continue
				}
				result.addSkip(node.ID, SkipReason{
					Reason: SkipReasonConcurrency,
					Detail: fmt.Sprintf("max parallel %d reached", req.MaxParallel),
				})
				break
			}
		}
		return result, nil
	}
	for _, node := range queue {
		if _, active := running[node.ID]; active {
			result.addSkip(node.ID, SkipReason{Reason: SkipReasonActive, Detail: "job already running"})
			continue
		}
		if node.State != resolver.NodeStateReady {
			result.addSkip(node.ID, SkipReason{Reason: SkipReasonNotReady, Detail: string(node.State)})
			continue
		}
		result.Nodes = append(result.Nodes, node)
		if len(result.Nodes) >= limit {
			break
		}
	}
	return result, nil
}

func (req RunnableRequest) runningSet() map[string]struct{} {
	set := make(map[string]struct{}, len(req.Running))
	for _, id := range req.Running {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

func (req RunnableRequest) batchLimit(queueLen int, runningCount int) int {
	limit := req.BatchSize
	if limit <= 0 || limit > queueLen {
		limit = queueLen
	}
	if req.MaxParallel > 0 {
		remaining := req.MaxParallel - runningCount
		if remaining <= 0 {
			return 0
		}
		if limit > remaining {
			limit = remaining
		}
	}
	return limit
}

func (b *RunnableBatch) addSkip(id string, reason SkipReason) {
	if id == "" {
		return
	}
	if b.Skipped == nil {
		b.Skipped = make(map[string]SkipReason)
	}
	b.Skipped[id] = reason
}
