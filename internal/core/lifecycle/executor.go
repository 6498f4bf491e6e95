package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/stackctl/internal/core/deployment"
	"github.com/artpar/stackctl/internal/core/graph"
)

// Plan is the instance set of one invocation.
type Plan struct {
	// Graph orders services for ordered verbs. Nil for unordered verbs.
	Graph *graph.Graph
	// Instances maps service name to its instances. Graph nodes without an
	// entry still relay signals between their neighbours.
	Instances map[string][]deployment.Instance
	// Orphans run outside the graph with no ordering.
	Orphans []deployment.Instance
}

// Size returns the number of instances in the plan.
func (p Plan) Size() int {
	n := len(p.Orphans)
	for _, insts := range p.Instances {
		n += len(insts)
	}
	return n
}

// Executor runs lifecycle policies.
type Executor struct {
	reporter Reporter
	logger   *slog.Logger
}

// NewExecutor creates an Executor. A nil reporter discards events and a nil
// logger uses slog.Default().
func NewExecutor(reporter Reporter, logger *slog.Logger) *Executor {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{reporter: reporter, logger: logger}
}

// Run executes policy over plan and returns the first error. Ordered verbs
// refuse cyclic graphs before touching any instance.
func (e *Executor) Run(ctx context.Context, policy Policy, plan Plan) error {
	if err := policy.validate(); err != nil {
		return err
	}
	if policy.Ordered {
		if plan.Graph == nil {
			return fmt.Errorf("%w: %s", ErrMissingGraph, policy.Verb)
		}
		if err := plan.Graph.Validate(); err != nil {
			return err
		}
	}

	logger := e.logger.With("verb", string(policy.Verb))
	logger.Debug("lifecycle run starting", "instances", plan.Size(), "ordered", policy.Ordered)

	g, gctx := errgroup.WithContext(ctx)

	if policy.Ordered {
		if err := e.launchGraph(gctx, g, policy, plan); err != nil {
			return err
		}
	} else {
		for _, service := range sortedServices(plan.Instances) {
			for _, inst := range plan.Instances[service] {
				g.Go(func() error {
					return e.runInstance(gctx, policy, inst, nil)
				})
			}
		}
	}

	for _, inst := range plan.Orphans {
		g.Go(func() error {
			return e.runInstance(gctx, policy, inst, nil)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Debug("lifecycle run failed", "error", err)
		return err
	}
	logger.Debug("lifecycle run finished")
	return nil
}

// launchGraph subscribes every receiver up front, then starts one task per
// graph node. Subscribing before any task runs means no publish can precede
// the subscription it targets.
func (e *Executor) launchGraph(ctx context.Context, g *errgroup.Group, policy Policy, plan Plan) error {
	dag := plan.Graph
	nodes := dag.Nodes()
	fabric := NewFabric(nodes, dag.MaxInDegree())

	total := 0
	receivers := make(map[string][]*Receiver, len(nodes))
	for _, node := range nodes {
		n := len(plan.Instances[node])
		total += n
		if n == 0 {
			n = 1 // relay for a node with nothing to act on
		}
		for i := 0; i < n; i++ {
			r, err := fabric.Subscribe(node)
			if err != nil {
				return err
			}
			receivers[node] = append(receivers[node], r)
		}
	}

	var barrier *Barrier
	if policy.Barrier {
		barrier = NewBarrier(total)
	}

	for _, node := range nodes {
		g.Go(func() error {
			return e.runService(ctx, policy, dag, fabric, barrier, node, plan.Instances[node], receivers[node])
		})
	}
	return nil
}

// runService runs every instance of one service, joins them, then publishes
// once to each dependent.
func (e *Executor) runService(
	ctx context.Context,
	policy Policy,
	dag *graph.Graph,
	fabric *Fabric,
	barrier *Barrier,
	service string,
	instances []deployment.Instance,
	receivers []*Receiver,
) error {
	inDegree := dag.InDegree(service)

	var (
		mu       sync.Mutex
		finished []string
	)

	if len(instances) == 0 {
		r := receivers[0]
		_, err := r.Collect(ctx, inDegree)
		r.Close()
		if err != nil {
			return err
		}
	} else {
		sg, sctx := errgroup.WithContext(ctx)
		for i, inst := range instances {
			r := receivers[i]
			sg.Go(func() error {
				defer r.Close()
				if barrier != nil {
					if err := barrier.Wait(sctx); err != nil {
						return err
					}
				}
				requires, err := r.Collect(sctx, inDegree)
				if err != nil {
					return err
				}
				if !policy.Consumes {
					requires = nil
				}
				if err := e.runInstance(sctx, policy, inst, requires); err != nil {
					return err
				}
				mu.Lock()
				finished = append(finished, inst.Name)
				mu.Unlock()
				return nil
			})
		}
		if err := sg.Wait(); err != nil {
			return err
		}
	}

	var payload Payload
	if policy.Consumes {
		sort.Strings(finished)
		payload = finished
	}
	for _, succ := range dag.Successors(service) {
		if err := fabric.Publish(succ, payload); err != nil {
			return &InstanceError{Verb: policy.Verb, Service: service, Err: err}
		}
	}
	return nil
}

// runInstance applies the policy to one instance and reports the outcome.
func (e *Executor) runInstance(ctx context.Context, policy Policy, inst deployment.Instance, requires []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	base := Event{Verb: policy.Verb, Service: inst.Service, Instance: inst.Name}

	started := base
	started.Status = StatusStarted
	started.Message = policy.Progress
	started.Time = start
	e.reporter.Started(started)

	finish := func(status Status, message string, err error) {
		ev := base
		ev.Status = status
		ev.Message = message
		ev.Err = err
		ev.Time = time.Now()
		ev.Duration = ev.Time.Sub(start)
		e.reporter.Finished(ev)
	}

	if policy.Satisfied != nil {
		ok, err := policy.Satisfied(ctx, inst)
		if err != nil {
			finish(StatusError, err.Error(), err)
			return &InstanceError{Verb: policy.Verb, Service: inst.Service, Instance: inst.Name, Err: err}
		}
		if ok {
			finish(StatusNoop, policy.Noop, nil)
			return nil
		}
	}

	if err := policy.Apply(ctx, inst, requires); err != nil {
		finish(StatusError, err.Error(), err)
		return &InstanceError{Verb: policy.Verb, Service: inst.Service, Instance: inst.Name, Err: err}
	}

	finish(StatusOK, policy.Done, nil)
	return nil
}

func sortedServices(m map[string][]deployment.Instance) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
