package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/stackd/internal/plan"
	"github.com/example/stackd/pkg/manifest"
)

// fakeRuntime records every call and can be programmed to fail per image or
// container.
type fakeRuntime struct {
	mu sync.Mutex

	pullErrs    map[string]error
	localImages map[string]bool
	initExit    map[string]int
	createErrs  map[string]error
	startErrs   map[string]error
	stopErrs    map[string]error
	running     map[string]bool

	pulled   []string
	created  []string
	started  []string
	stopped  []string
	removed  []string
	networks []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		pullErrs:    map[string]error{},
		localImages: map[string]bool{},
		initExit:    map[string]int{},
		createErrs:  map[string]error{},
		startErrs:   map[string]error{},
		stopErrs:    map[string]error{},
		running:     map[string]bool{},
	}
}

func (f *fakeRuntime) PullImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	return f.pullErrs[ref]
}

func (f *fakeRuntime) ImageExists(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localImages[ref], nil
}

func (f *fakeRuntime) EnsureNetwork(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, name)
	return nil
}

func (f *fakeRuntime) CreateContainer(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErrs[spec.Name]; err != nil {
		return "", err
	}
	f.created = append(f.created, spec.Name)
	return "id-" + spec.Name, nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErrs[id]; err != nil {
		return err
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, nameOrID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.stopErrs[nameOrID]; err != nil {
		return err
	}
	f.stopped = append(f.stopped, nameOrID)
	return nil
}

func (f *fakeRuntime) WaitContainer(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initExit[id], nil
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, nameOrID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, nameOrID)
	return nil
}

func (f *fakeRuntime) InspectStatus(_ context.Context, nameOrID string) (ContainerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := StateExited
	if f.running[nameOrID] {
		state = StateRunning
	}
	return ContainerStatus{ID: "id-" + nameOrID, State: state}, nil
}

func testPlan() *plan.DeploymentPlan {
	return &plan.DeploymentPlan{
		StackName: "shop",
		Networks: map[string]plan.NetworkDefinition{
			"default": {ResolvedName: "shop_default"},
		},
		Steps: []plan.DeploymentStep{
			{ContextName: "db", Image: "postgres:16", ContainerName: "shop_db", Lifecycle: manifest.LifecycleService, Networks: []string{"default"}, Order: 0},
			{ContextName: "cache", Image: "redis:7", ContainerName: "shop_cache", Lifecycle: manifest.LifecycleService, Networks: []string{"default"}, Order: 1},
			{ContextName: "app", Image: "shop/app:1.0", ContainerName: "shop_app", Lifecycle: manifest.LifecycleService, Networks: []string{"default"}, DependsOn: []string{"db"}, Order: 2},
		},
	}
}

func TestExecute_AllStepsSucceed(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime()
	res := New(rt, nil).Execute(context.Background(), testPlan())
	if !res.Success {
		t.Fatalf("expected success, errors: %v", res.Errors)
	}
	if len(res.DeployedContexts) != 3 {
		t.Fatalf("deployed contexts = %v", res.DeployedContexts)
	}
	if len(rt.networks) != 1 || rt.networks[0] != "shop_default" {
		t.Fatalf("networks ensured = %v", rt.networks)
	}
}

func TestExecute_PullFailureWithLocalCopyWarns(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime()
	rt.pullErrs["postgres:16"] = errors.New("registry unreachable")
	rt.localImages["postgres:16"] = true

	res := New(rt, nil).Execute(context.Background(), testPlan())
	if !res.Success {
		t.Fatalf("local fallback should keep the deployment successful: %v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %v", res.Warnings)
	}
	if !strings.Contains(res.Warnings[0], "postgres:16") || !strings.Contains(res.Warnings[0], "using existing local image") {
		t.Fatalf("warning should name the image and the fallback: %q", res.Warnings[0])
	}
}

func TestExecute_PullFailureWithoutLocalCopyFailsStep(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime()
	rt.pullErrs["postgres:16"] = errors.New("registry unreachable")

	res := New(rt, nil).Execute(context.Background(), testPlan())
	if res.Success {
		t.Fatal("expected failure")
	}
	var sawDB, sawApp bool
	for _, msg := range res.Errors {
		if strings.Contains(msg, "no local copy exists") {
			sawDB = true
		}
		if strings.Contains(msg, "step app skipped: dependency db failed") {
			sawApp = true
		}
	}
	if !sawDB || !sawApp {
		t.Fatalf("errors = %v", res.Errors)
	}
	// cache does not depend on db and must still be attempted.
	if len(res.DeployedContexts) != 1 || res.DeployedContexts[0] != "cache" {
		t.Fatalf("deployed contexts = %v", res.DeployedContexts)
	}
}

func TestExecute_InitFailureSkipsDependents(t *testing.T) {
	t.Parallel()

	p := &plan.DeploymentPlan{
		StackName: "shop",
		Networks:  map[string]plan.NetworkDefinition{"default": {ResolvedName: "shop_default"}},
		Steps: []plan.DeploymentStep{
			{ContextName: "migrate", Image: "m:1", ContainerName: "shop_migrate", Lifecycle: manifest.LifecycleInit, Networks: []string{"default"}, Order: 0},
			{ContextName: "app", Image: "a:1", ContainerName: "shop_app", Lifecycle: manifest.LifecycleService, Networks: []string{"default"}, DependsOn: []string{"migrate"}, Order: 1},
		},
	}
	rt := newFakeRuntime()
	rt.initExit["id-shop_migrate"] = 3

	res := New(rt, nil).Execute(context.Background(), p)
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(strings.Join(res.Errors, "\n"), "exited with code 3") {
		t.Fatalf("errors = %v", res.Errors)
	}
	for _, name := range rt.created {
		if name == "shop_app" {
			t.Fatal("dependent of a failed init step must not be created")
		}
	}
}

func TestExecute_CanceledBetweenSteps(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rt := newFakeRuntime()
	res := New(rt, nil).Execute(ctx, testPlan())
	if res.Success {
		t.Fatal("expected failure on canceled context")
	}
	if !strings.Contains(res.Errors[0], "execution canceled before step db") {
		t.Fatalf("errors = %v", res.Errors)
	}
	if len(rt.created) != 0 {
		t.Fatalf("no container should be created after cancel, got %v", rt.created)
	}
}

func TestExecute_NetworkErrorAborts(t *testing.T) {
	t.Parallel()

	rt := &failingNetworkRuntime{fakeRuntime: newFakeRuntime()}
	res := New(rt, nil).Execute(context.Background(), testPlan())
	if res.Success || len(rt.created) != 0 {
		t.Fatalf("network failure must abort before any step, created=%v", rt.created)
	}
}

type failingNetworkRuntime struct{ *fakeRuntime }

func (f *failingNetworkRuntime) EnsureNetwork(context.Context, string, bool) error {
	return fmt.Errorf("network driver unavailable")
}

func TestStopStack_ReverseOrderSkipsInitAndIgnored(t *testing.T) {
	t.Parallel()

	p := testPlan()
	p.Steps = append(p.Steps, plan.DeploymentStep{
		ContextName: "seed", Image: "s:1", ContainerName: "shop_seed",
		Lifecycle: manifest.LifecycleInit, Networks: []string{"default"}, Order: 3,
	})
	p.Steps[1].IgnoreDuringMaintenance = true // cache

	rt := newFakeRuntime()
	res := New(rt, nil).StopStack(context.Background(), p, true)
	if !res.Success {
		t.Fatalf("stop: %v", res.Errors)
	}
	want := []string{"shop_app", "shop_db"}
	if len(rt.stopped) != len(want) {
		t.Fatalf("stopped = %v", rt.stopped)
	}
	for i, name := range want {
		if rt.stopped[i] != name {
			t.Fatalf("stopped = %v, want %v", rt.stopped, want)
		}
	}
}

func TestStartStack_SkipsRunningContainers(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime()
	rt.running["shop_db"] = true

	res := New(rt, nil).StartStack(context.Background(), testPlan(), false)
	if !res.Success {
		t.Fatalf("start: %v", res.Errors)
	}
	want := []string{"id-shop_cache", "id-shop_app"}
	if len(rt.started) != len(want) || rt.started[0] != want[0] || rt.started[1] != want[1] {
		t.Fatalf("started = %v, want %v", rt.started, want)
	}
}

func TestRemoveStack_ReverseOrder(t *testing.T) {
	t.Parallel()

	rt := newFakeRuntime()
	res := New(rt, nil).RemoveStack(context.Background(), testPlan())
	if !res.Success {
		t.Fatalf("remove: %v", res.Errors)
	}
	want := []string{"shop_app", "shop_cache", "shop_db"}
	for i, name := range want {
		if rt.removed[i] != name {
			t.Fatalf("removed = %v, want %v", rt.removed, want)
		}
	}
}
