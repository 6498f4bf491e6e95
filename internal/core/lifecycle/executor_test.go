package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/artpar/stackctl/internal/core/compose"
	"github.com/artpar/stackctl/internal/core/deployment"
	"github.com/artpar/stackctl/internal/core/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func replicas(n int) *int { return &n }

// shopTopology: web -> api -> db (db has 2 replicas), worker (3 replicas) unrelated.
func shopTopology() *compose.Topology {
	return &compose.Topology{Name: "shop", Services: []compose.Service{
		{Name: "api", Image: "api", DependsOn: []string{"db"}},
		{Name: "db", Image: "postgres", Replicas: replicas(2)},
		{Name: "web", Image: "nginx", DependsOn: []string{"api"}},
		{Name: "worker", Image: "busybox", Scale: replicas(3)},
	}}
}

func planFor(t *testing.T, topo *compose.Topology, policy Policy, requested ...string) Plan {
	t.Helper()
	g := graph.Build(topo, policy.EdgeSource()).Restrict(requested)
	instances, err := deployment.Expand(topo, g.Nodes(), nil)
	require.NoError(t, err)
	return Plan{Graph: g, Instances: instances}
}

// recorder is a stub engine that records call order with a logical clock.
type recorder struct {
	mu       sync.Mutex
	tick     int
	starts   map[string]int
	ends     map[string]int
	calls    []string
	requires map[string][]string
	existing map[string]bool
	fail     map[string]error // by service
	delay    time.Duration
}

func newRecorder() *recorder {
	return &recorder{
		starts:   make(map[string]int),
		ends:     make(map[string]int),
		requires: make(map[string][]string),
		existing: make(map[string]bool),
		fail:     make(map[string]error),
		delay:    2 * time.Millisecond,
	}
}

func (r *recorder) apply(_ context.Context, inst deployment.Instance, requires []string) error {
	r.mu.Lock()
	r.tick++
	r.starts[inst.Name] = r.tick
	r.calls = append(r.calls, inst.Name)
	r.requires[inst.Name] = requires
	err := r.fail[inst.Service]
	r.mu.Unlock()

	time.Sleep(r.delay)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.tick++
	r.ends[inst.Name] = r.tick
	r.existing[inst.Name] = true
	r.mu.Unlock()
	return nil
}

func (r *recorder) exists(_ context.Context, inst deployment.Instance) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.existing[inst.Name], nil
}

func (r *recorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// assertOrdered checks every instance of an edge's source ended before any
// instance of its target started.
func (r *recorder) assertOrdered(t *testing.T, plan Plan) {
	t.Helper()
	for _, edge := range plan.Graph.Edges() {
		for _, before := range plan.Instances[edge[0]] {
			for _, after := range plan.Instances[edge[1]] {
				assert.Less(t, r.ends[before.Name], r.starts[after.Name],
					"%s must finish before %s starts", before.Name, after.Name)
			}
		}
	}
}

// eventLog collects reporter events.
type eventLog struct {
	mu       sync.Mutex
	started  []Event
	finished []Event
}

func (l *eventLog) Started(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, ev)
}

func (l *eventLog) Finished(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, ev)
}

func (l *eventLog) countFinished(status Status) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.finished {
		if ev.Status == status {
			n++
		}
	}
	return n
}

func createPolicy(r *recorder) Policy {
	p := PolicyFor(VerbCreate)
	p.Satisfied = r.exists
	p.Apply = r.apply
	return p
}

// =============================================================================
// Ordering Tests
// =============================================================================

func TestRun_CreateRunsDependenciesFirst(t *testing.T) {
	rec := newRecorder()
	events := &eventLog{}
	exec := NewExecutor(events, setupTestLogger())
	policy := createPolicy(rec)
	plan := planFor(t, shopTopology(), policy)

	require.NoError(t, exec.Run(context.Background(), policy, plan))

	assert.Equal(t, 7, rec.callCount())
	rec.assertOrdered(t, plan)
	assert.Len(t, events.started, 7)
	assert.Equal(t, 7, events.countFinished(StatusOK))
}

func TestRun_StopRunsDependentsFirst(t *testing.T) {
	rec := newRecorder()
	exec := NewExecutor(nil, setupTestLogger())
	policy := PolicyFor(VerbStop)
	policy.Apply = rec.apply
	plan := planFor(t, shopTopology(), policy)

	require.NoError(t, exec.Run(context.Background(), policy, plan))

	assert.Equal(t, 7, rec.callCount())
	rec.assertOrdered(t, plan)
	// web before api before db
	assert.Less(t, rec.ends["shop_web_1"], rec.starts["shop_api_1"])
	assert.Less(t, rec.ends["shop_api_1"], rec.starts["shop_db_1"])
}

func TestRun_PauseAndRemoveRunDependentsFirst(t *testing.T) {
	for _, verb := range []Verb{VerbPause, VerbRemove} {
		t.Run(string(verb), func(t *testing.T) {
			rec := newRecorder()
			policy := PolicyFor(verb)
			policy.Apply = rec.apply
			plan := planFor(t, shopTopology(), policy)

			require.NoError(t, NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, plan))
			rec.assertOrdered(t, plan)
			assert.Less(t, rec.ends["shop_web_1"], rec.starts["shop_db_2"])
		})
	}
}

func TestRun_MultipleIncomingEdges(t *testing.T) {
	topo := &compose.Topology{Name: "demo", Services: []compose.Service{
		{Name: "app", DependsOn: []string{"cache", "db"}, Links: []string{"db:database"}},
		{Name: "cache"},
		{Name: "db", Replicas: replicas(2)},
	}}
	rec := newRecorder()
	policy := createPolicy(rec)
	plan := planFor(t, topo, policy)

	require.NoError(t, NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, plan))

	rec.assertOrdered(t, plan)
	assert.ElementsMatch(t, []string{"demo_cache_1", "demo_db_1", "demo_db_2"}, rec.requires["demo_app_1"])
	assert.Empty(t, rec.requires["demo_db_1"])
}

func TestRun_StartPassesNoRequires(t *testing.T) {
	rec := newRecorder()
	policy := PolicyFor(VerbStart)
	policy.Apply = rec.apply
	plan := planFor(t, shopTopology(), policy)

	require.NoError(t, NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, plan))
	assert.Nil(t, rec.requires["shop_api_1"])
	rec.assertOrdered(t, plan)
}

func TestRun_RelayThroughNodeWithoutInstances(t *testing.T) {
	rec := newRecorder()
	policy := PolicyFor(VerbStop)
	policy.Apply = rec.apply
	plan := planFor(t, shopTopology(), policy)
	delete(plan.Instances, "api") // api has no containers

	require.NoError(t, NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, plan))

	assert.Equal(t, 6, rec.callCount())
	assert.Less(t, rec.ends["shop_web_1"], rec.starts["shop_db_1"])
	assert.Less(t, rec.ends["shop_web_1"], rec.starts["shop_db_2"])
}

func TestRun_PartialSelection(t *testing.T) {
	rec := newRecorder()
	policy := createPolicy(rec)
	plan := planFor(t, shopTopology(), policy, "api")

	require.NoError(t, NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, plan))

	assert.ElementsMatch(t, []string{"shop_db_1", "shop_db_2", "shop_api_1"}, rec.calls)
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestRun_CycleMakesNoCalls(t *testing.T) {
	topo := &compose.Topology{Name: "demo", Services: []compose.Service{
		{Name: "a", DependsOn: []string{"c"}},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"b"}},
	}}
	rec := newRecorder()
	policy := createPolicy(rec)
	plan := planFor(t, topo, policy)

	err := NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrCycle))
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
	assert.Equal(t, 0, rec.callCount())
}

func TestRun_InvalidPolicy(t *testing.T) {
	exec := NewExecutor(nil, setupTestLogger())

	err := exec.Run(context.Background(), PolicyFor(VerbStart), Plan{Graph: graph.New()})
	assert.True(t, errors.Is(err, ErrInvalidPolicy))

	p := PolicyFor(VerbStart)
	p.Apply = newRecorder().apply
	err = exec.Run(context.Background(), p, Plan{})
	assert.True(t, errors.Is(err, ErrMissingGraph))
}

// =============================================================================
// Idempotence Tests
// =============================================================================

func TestRun_CreateTwiceIsNoop(t *testing.T) {
	rec := newRecorder()
	policy := createPolicy(rec)
	plan := planFor(t, shopTopology(), policy)
	exec := NewExecutor(nil, setupTestLogger())

	require.NoError(t, exec.Run(context.Background(), policy, plan))
	require.Equal(t, 7, rec.callCount())

	events := &eventLog{}
	second := NewExecutor(events, setupTestLogger())
	require.NoError(t, second.Run(context.Background(), policy, plan))

	assert.Equal(t, 7, rec.callCount(), "second pass must not mutate")
	assert.Equal(t, 7, events.countFinished(StatusNoop))
	for _, ev := range events.finished {
		assert.Equal(t, "Exists", ev.Message)
	}
}

func TestRun_CheckErrorFails(t *testing.T) {
	policy := PolicyFor(VerbStart)
	policy.Satisfied = func(context.Context, deployment.Instance) (bool, error) {
		return false, errors.New("inspect failed")
	}
	policy.Apply = newRecorder().apply
	plan := planFor(t, shopTopology(), policy, "db")

	err := NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inspect failed")
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestRun_ReplicasRunConcurrently(t *testing.T) {
	var (
		mu      sync.Mutex
		entered int
		allIn   = make(chan struct{})
	)
	policy := PolicyFor(VerbStart)
	policy.Apply = func(ctx context.Context, inst deployment.Instance, _ []string) error {
		mu.Lock()
		entered++
		if entered == 3 {
			close(allIn)
		}
		mu.Unlock()

		select {
		case <-allIn:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("replicas were serialized")
		}
	}
	plan := planFor(t, shopTopology(), policy, "worker")
	require.Len(t, plan.Instances["worker"], 3)

	require.NoError(t, NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, plan))
}

func TestRun_UnrelatedServicesRunInParallel(t *testing.T) {
	topo := &compose.Topology{Name: "demo", Services: []compose.Service{{Name: "a"}, {Name: "b"}}}
	var (
		mu      sync.Mutex
		entered int
		bothIn  = make(chan struct{})
	)
	policy := PolicyFor(VerbCreate)
	policy.Apply = func(context.Context, deployment.Instance, []string) error {
		mu.Lock()
		entered++
		if entered == 2 {
			close(bothIn)
		}
		mu.Unlock()
		select {
		case <-bothIn:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("services were serialized")
		}
	}

	require.NoError(t, NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, planFor(t, topo, policy)))
}

func TestRun_FailureUnwindsWithoutDeadlock(t *testing.T) {
	topo := &compose.Topology{Name: "demo", Services: []compose.Service{
		{Name: "x", DependsOn: []string{"y"}},
		{Name: "y"},
	}}
	rec := newRecorder()
	rec.fail["y"] = errors.New("engine exploded")
	events := &eventLog{}
	policy := createPolicy(rec)
	plan := planFor(t, topo, policy)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := NewExecutor(events, setupTestLogger()).Run(ctx, policy, plan)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var instErr *InstanceError
	require.True(t, errors.As(err, &instErr))
	assert.Equal(t, "y", instErr.Service)
	assert.Equal(t, "demo_y_1", instErr.Instance)
	assert.Contains(t, err.Error(), "engine exploded")

	assert.Equal(t, []string{"demo_y_1"}, rec.calls)
	assert.Equal(t, 1, events.countFinished(StatusError))
}

func TestRun_CancelledContext(t *testing.T) {
	rec := newRecorder()
	policy := createPolicy(rec)
	plan := planFor(t, shopTopology(), policy)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewExecutor(nil, setupTestLogger()).Run(ctx, policy, plan)
	require.Error(t, err)
	assert.Equal(t, 0, rec.callCount())
}

// =============================================================================
// Unordered Verb Tests
// =============================================================================

func TestRun_UnorderedWithOrphans(t *testing.T) {
	rec := newRecorder()
	policy := PolicyFor(VerbUnpause)
	policy.Apply = rec.apply

	instances, err := deployment.Expand(shopTopology(), []string{"web", "db"}, nil)
	require.NoError(t, err)
	plan := Plan{
		Instances: instances,
		Orphans:   []deployment.Instance{{Service: "legacy", Index: 1, Name: "shop_legacy_1"}},
	}

	require.NoError(t, NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, plan))
	assert.ElementsMatch(t, []string{"shop_web_1", "shop_db_1", "shop_db_2", "shop_legacy_1"}, rec.calls)
}

func TestRun_OrderedWithOrphans(t *testing.T) {
	rec := newRecorder()
	policy := PolicyFor(VerbRemove)
	policy.Apply = rec.apply
	plan := planFor(t, shopTopology(), policy, "web")
	plan.Orphans = []deployment.Instance{{Service: "legacy", Index: 1, Name: "shop_legacy_1"}}

	require.NoError(t, NewExecutor(nil, setupTestLogger()).Run(context.Background(), policy, plan))
	assert.Contains(t, rec.calls, "shop_legacy_1")
	assert.Equal(t, 2, rec.callCount())
}

func TestPolicyFor_Table(t *testing.T) {
	tests := []struct {
		verb      Verb
		ordered   bool
		direction graph.Direction
		consumes  bool
	}{
		{VerbCreate, true, graph.DependencyFirst, true},
		{VerbStart, true, graph.DependencyFirst, false},
		{VerbStop, true, graph.DependentFirst, false},
		{VerbPause, true, graph.DependentFirst, false},
		{VerbRemove, true, graph.DependentFirst, false},
		{VerbUnpause, false, graph.DependencyFirst, false},
		{VerbKill, false, graph.DependencyFirst, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.verb), func(t *testing.T) {
			p := PolicyFor(tt.verb)
			assert.Equal(t, tt.ordered, p.Ordered)
			assert.Equal(t, tt.consumes, p.Consumes)
			if tt.ordered {
				assert.Equal(t, tt.direction, p.Direction)
				assert.True(t, p.Barrier)
			}
		})
	}
}
