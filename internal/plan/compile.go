// File: internal/plan/compile.go
// Brief: Topological ordering, resource name scoping, and step assembly.

package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/distribution/reference"
	"github.com/example/stackd/pkg/manifest"
)

// CircularDependencyError reports a cycle in the service dependency graph,
// naming a service on the cycle. Compilation aborts with no partial plan.
type CircularDependencyError struct {
	Service string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected at service %s", e.Service)
}

// Compile turns a resolved stack into an ordered, name-scoped deployment plan.
// Every logical network and named volume is prefixed with stackName unless
// marked external, so multiple instances of the same manifest coexist while
// shared infrastructure keeps its fixed name.
func Compile(rs *manifest.ResolvedStack, values map[string]string, stackName string) (*DeploymentPlan, error) {
	if stackName == "" {
		return nil, fmt.Errorf("stack name is required")
	}

	order, err := topoSort(rs.Services)
	if err != nil {
		return nil, err
	}

	p := &DeploymentPlan{
		StackName:     stackName,
		StackVersion:  values["STACK_VERSION"],
		GlobalEnvVars: map[string]string{},
		Networks:      map[string]NetworkDefinition{},
	}

	networkOrder := declaredNetworkOrder(rs.Networks)
	if len(networkOrder) == 0 {
		// No declared networks: a single implicit default carries everything.
		networkOrder = []string{"default"}
		p.Networks["default"] = NetworkDefinition{ResolvedName: scopedName(stackName, "default")}
	} else {
		for _, name := range networkOrder {
			def := rs.Networks[name]
			resolved := def.Name
			if resolved == "" {
				resolved = name
			}
			if !def.External {
				resolved = scopedName(stackName, resolved)
			}
			p.Networks[name] = NetworkDefinition{External: def.External, ResolvedName: resolved, Driver: def.Driver}
		}
	}

	for i, svcName := range order {
		svc := rs.Services[svcName]
		step, err := compileStep(rs, svc, svcName, values, stackName, networkOrder)
		if err != nil {
			return nil, err
		}
		step.Order = i
		p.Steps = append(p.Steps, *step)
	}
	return p, nil
}

func compileStep(rs *manifest.ResolvedStack, svc manifest.ServiceDef, svcName string, values map[string]string, stackName string, networkOrder []string) (*DeploymentStep, error) {
	image, err := manifest.Substitute(svc.Image, values)
	if err != nil {
		return nil, err
	}
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return nil, fmt.Errorf("service %s: invalid image reference %q: %w", svcName, image, err)
	}
	version := "latest"
	if tagged, ok := named.(reference.Tagged); ok {
		version = tagged.Tag()
	}

	containerName := svc.ContainerName
	if containerName == "" {
		containerName = scopedName(stackName, svcName)
	} else if containerName, err = manifest.Substitute(containerName, values); err != nil {
		return nil, err
	}

	env := make(map[string]string, len(svc.Environment))
	for k, v := range svc.Environment {
		sub, err := manifest.Substitute(v, values)
		if err != nil {
			return nil, err
		}
		env[k] = sub
	}

	ports, err := manifest.SubstituteAll(svc.Ports, values)
	if err != nil {
		return nil, err
	}

	volumes, err := compileVolumes(rs, svc.Volumes, values, stackName, svcName)
	if err != nil {
		return nil, err
	}

	networks := svc.Networks
	if len(networks) == 0 {
		// Unattached services land on the first network known to the plan.
		networks = networkOrder[:1]
	}
	for _, nw := range networks {
		if !containsString(networkOrder, nw) {
			return nil, fmt.Errorf("service %s: references undeclared network %q", svcName, nw)
		}
	}

	lifecycle := svc.Lifecycle
	if lifecycle == "" {
		lifecycle = manifest.LifecycleService
	}
	restart := svc.Restart
	if lifecycle == manifest.LifecycleInit {
		// Init containers run once and never restart automatically.
		restart = ""
	}

	return &DeploymentStep{
		ContextName:             svcName,
		Image:                   image,
		Version:                 version,
		ContainerName:           containerName,
		Lifecycle:               lifecycle,
		Networks:                append([]string(nil), networks...),
		EnvVars:                 env,
		Ports:                   ports,
		Volumes:                 volumes,
		DependsOn:               append([]string(nil), svc.DependsOn...),
		Restart:                 restart,
		HealthCheck:             svc.HealthCheck,
		IgnoreDuringMaintenance: svc.IgnoreDuringMaintenance,
	}, nil
}

func compileVolumes(rs *manifest.ResolvedStack, specs []string, values map[string]string, stackName, svcName string) ([]VolumeMount, error) {
	mounts := make([]VolumeMount, 0, len(specs))
	for _, raw := range specs {
		spec, err := manifest.Substitute(raw, values)
		if err != nil {
			return nil, err
		}
		parts := strings.Split(spec, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("service %s: invalid volume spec %q", svcName, raw)
		}
		mount := VolumeMount{Source: parts[0], Target: parts[1]}
		if len(parts) > 2 && parts[2] == "ro" {
			mount.ReadOnly = true
		}
		if !isBindPath(mount.Source) {
			// Named volume: scope it unless declared external.
			mount.Named = true
			if def, ok := rs.Volumes[mount.Source]; ok && def.External {
				if def.Name != "" {
					mount.Source = def.Name
				}
			} else {
				mount.Source = scopedName(stackName, mount.Source)
			}
		}
		mounts = append(mounts, mount)
	}
	if len(mounts) == 0 {
		return nil, nil
	}
	return mounts, nil
}

// topoSort orders services depth-first so every dependency lands at a lower
// order. Revisiting a service still on the current DFS path is a cycle.
func topoSort(services map[string]manifest.ServiceDef) ([]string, error) {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(services))
	order := make([]string, 0, len(services))

	var visit func(string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return &CircularDependencyError{Service: name}
		}
		state[name] = visiting
		svc := services[name]
		deps := append([]string(nil), svc.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := services[dep]; !ok {
				return fmt.Errorf("service %s: depends on unknown service %q", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func declaredNetworkOrder(networks map[string]manifest.NetworkDef) []string {
	if len(networks) == 0 {
		return nil
	}
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func scopedName(stackName, logical string) string {
	return stackName + "_" + logical
}

func isBindPath(src string) bool {
	return strings.HasPrefix(src, "/") || strings.HasPrefix(src, "./") ||
		strings.HasPrefix(src, "../") || strings.HasPrefix(src, "~")
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
