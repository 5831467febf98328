package plan

import (
	"errors"
	"testing"

	"github.com/example/stackd/pkg/manifest"
)

func stackOf(services map[string]manifest.ServiceDef) *manifest.ResolvedStack {
	return &manifest.ResolvedStack{Key: "test", Services: services}
}

func TestCompile_DependencyOrder(t *testing.T) {
	t.Parallel()

	rs := stackOf(map[string]manifest.ServiceDef{
		"app":     {Image: "shop/app:1.0", DependsOn: []string{"db", "cache"}},
		"db":      {Image: "postgres:16"},
		"cache":   {Image: "redis:7", DependsOn: []string{"db"}},
		"migrate": {Image: "shop/migrate:1.0", Lifecycle: manifest.LifecycleInit, DependsOn: []string{"db"}},
	})
	p, err := Compile(rs, nil, "shop")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(p.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(p.Steps))
	}
	pos := map[string]int{}
	for i, step := range p.Steps {
		if step.Order != i {
			t.Fatalf("step %s has order %d at position %d", step.ContextName, step.Order, i)
		}
		pos[step.ContextName] = i
	}
	for _, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if pos[dep] >= pos[step.ContextName] {
				t.Fatalf("dependency %s ordered after %s", dep, step.ContextName)
			}
		}
	}
}

func TestCompile_CycleNamesService(t *testing.T) {
	t.Parallel()

	rs := stackOf(map[string]manifest.ServiceDef{
		"a": {Image: "x", DependsOn: []string{"b"}},
		"b": {Image: "y", DependsOn: []string{"a"}},
	})
	_, err := Compile(rs, nil, "s")
	var cerr *CircularDependencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CircularDependencyError, got %v", err)
	}
	if cerr.Service != "a" && cerr.Service != "b" {
		t.Fatalf("cycle error should name a service on the cycle, got %q", cerr.Service)
	}
}

func TestCompile_StackScopedNames(t *testing.T) {
	t.Parallel()

	rs := &manifest.ResolvedStack{
		Key: "test",
		Services: map[string]manifest.ServiceDef{
			"web": {
				Image:    "nginx:1.27",
				Networks: []string{"frontend", "shared"},
				Volumes:  []string{"webdata:/var/www", "/etc/ssl:/etc/ssl:ro"},
			},
		},
		Networks: map[string]manifest.NetworkDef{
			"frontend": {},
			"shared":   {External: true, Name: "corp-net"},
		},
		Volumes: map[string]manifest.VolumeDef{
			"webdata": {},
		},
	}

	for _, stack := range []string{"s1", "s2"} {
		p, err := Compile(rs, nil, stack)
		if err != nil {
			t.Fatalf("compile %s: %v", stack, err)
		}
		if got := p.Networks["frontend"].ResolvedName; got != stack+"_frontend" {
			t.Fatalf("frontend resolved to %q in stack %s", got, stack)
		}
		if got := p.Networks["shared"].ResolvedName; got != "corp-net" {
			t.Fatalf("external network must keep its fixed name, got %q", got)
		}
		step := p.Steps[0]
		if step.ContainerName != stack+"_web" {
			t.Fatalf("container name = %q, want %s_web", step.ContainerName, stack)
		}
		named := step.Volumes[0]
		if !named.Named || named.Source != stack+"_webdata" {
			t.Fatalf("named volume should be stack scoped, got %+v", named)
		}
		bind := step.Volumes[1]
		if bind.Named || bind.Source != "/etc/ssl" || !bind.ReadOnly {
			t.Fatalf("bind mount mishandled: %+v", bind)
		}
	}
}

func TestCompile_ImplicitDefaultNetwork(t *testing.T) {
	t.Parallel()

	rs := stackOf(map[string]manifest.ServiceDef{
		"app": {Image: "app:1"},
	})
	p, err := Compile(rs, nil, "solo")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	def, ok := p.Networks["default"]
	if !ok || def.ResolvedName != "solo_default" {
		t.Fatalf("implicit default network missing or unscoped: %+v", p.Networks)
	}
	if got := p.Steps[0].Networks; len(got) != 1 || got[0] != "default" {
		t.Fatalf("unattached service should land on default, got %v", got)
	}
}

func TestCompile_UnattachedServiceGetsFirstNetwork(t *testing.T) {
	t.Parallel()

	rs := &manifest.ResolvedStack{
		Key:      "test",
		Services: map[string]manifest.ServiceDef{"app": {Image: "app:1"}},
		Networks: map[string]manifest.NetworkDef{"backend": {}, "frontend": {}},
	}
	p, err := Compile(rs, nil, "s")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got := p.Steps[0].Networks; len(got) != 1 || got[0] != "backend" {
		t.Fatalf("expected first declared network, got %v", got)
	}
}

func TestCompile_UndeclaredNetworkRejected(t *testing.T) {
	t.Parallel()

	rs := &manifest.ResolvedStack{
		Key:      "test",
		Services: map[string]manifest.ServiceDef{"app": {Image: "app:1", Networks: []string{"ghost"}}},
		Networks: map[string]manifest.NetworkDef{"backend": {}},
	}
	if _, err := Compile(rs, nil, "s"); err == nil {
		t.Fatal("expected error for undeclared network")
	}
}

func TestCompile_SubstitutionAndVersion(t *testing.T) {
	t.Parallel()

	rs := stackOf(map[string]manifest.ServiceDef{
		"app": {
			Image:       "shop/app:${APP_TAG}",
			Environment: map[string]string{"DB_URL": "postgres://db:${DB_PORT}/shop", "PLAIN": "x"},
			Ports:       []string{"${HTTP_PORT}:8080"},
		},
		"db": {Image: "postgres"},
	})
	values := map[string]string{"APP_TAG": "2.3.1", "DB_PORT": "5432", "HTTP_PORT": "80"}

	p, err := Compile(rs, values, "shop")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	app := p.Step("app")
	if app == nil {
		t.Fatal("app step missing")
	}
	if app.Image != "shop/app:2.3.1" || app.Version != "2.3.1" {
		t.Fatalf("image/version = %q/%q", app.Image, app.Version)
	}
	if got := app.EnvVars["DB_URL"]; got != "postgres://db:5432/shop" {
		t.Fatalf("env substitution = %q", got)
	}
	if got := app.Ports[0]; got != "80:8080" {
		t.Fatalf("port substitution = %q", got)
	}
	db := p.Step("db")
	if db.Version != "latest" {
		t.Fatalf("untagged image should default to latest, got %q", db.Version)
	}
}

func TestCompile_InvalidImageReference(t *testing.T) {
	t.Parallel()

	rs := stackOf(map[string]manifest.ServiceDef{
		"bad": {Image: "UPPER CASE:tag"},
	})
	if _, err := Compile(rs, nil, "s"); err == nil {
		t.Fatal("expected error for invalid image reference")
	}
}

func TestCompile_InitNeverRestarts(t *testing.T) {
	t.Parallel()

	rs := stackOf(map[string]manifest.ServiceDef{
		"seed": {Image: "seed:1", Lifecycle: manifest.LifecycleInit, Restart: "always"},
		"app":  {Image: "app:1", Restart: "unless-stopped"},
	})
	p, err := Compile(rs, nil, "s")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got := p.Step("seed").Restart; got != "" {
		t.Fatalf("init restart policy should be stripped, got %q", got)
	}
	if got := p.Step("app").Restart; got != "unless-stopped" {
		t.Fatalf("service restart policy should pass through, got %q", got)
	}
}
