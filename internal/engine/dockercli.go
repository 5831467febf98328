// File: internal/engine/dockercli.go
// Brief: ContainerRuntime implementation shelling out to the docker binary.

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DockerCLI implements ContainerRuntime against a docker-compatible binary.
// Host, when set, is passed as DOCKER_HOST via the -H flag so one process can
// target a remote runtime endpoint.
type DockerCLI struct {
	Bin  string
	Host string
}

// NewDockerCLI returns a runtime client for the given endpoint. An empty
// endpoint uses the binary's own default.
func NewDockerCLI(endpoint string) *DockerCLI {
	return &DockerCLI{Bin: "docker", Host: endpoint}
}

func (d *DockerCLI) command(ctx context.Context, args ...string) *exec.Cmd {
	bin := d.Bin
	if bin == "" {
		bin = "docker"
	}
	if d.Host != "" {
		args = append([]string{"-H", d.Host}, args...)
	}
	return exec.CommandContext(ctx, bin, args...)
}

func (d *DockerCLI) run(ctx context.Context, args ...string) (string, error) {
	cmd := d.command(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("docker %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (d *DockerCLI) PullImage(ctx context.Context, ref string) error {
	_, err := d.run(ctx, "pull", ref)
	return err
}

func (d *DockerCLI) ImageExists(ctx context.Context, ref string) (bool, error) {
	out, err := d.run(ctx, "image", "ls", "--format", "{{.Repository}}:{{.Tag}}", ref)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (d *DockerCLI) EnsureNetwork(ctx context.Context, name string, external bool) error {
	out, err := d.run(ctx, "network", "ls", "--filter", "name=^"+name+"$", "--format", "{{.Name}}")
	if err != nil {
		return err
	}
	if out == name {
		return nil
	}
	if external {
		return fmt.Errorf("external network %s does not exist", name)
	}
	_, err = d.run(ctx, "network", "create", name)
	return err
}

func (d *DockerCLI) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	args := []string{"create", "--name", spec.Name}
	for k, v := range spec.Labels {
		args = append(args, "--label", k+"="+v)
	}
	for k, v := range spec.Env {
		args = append(args, "--env", k+"="+v)
	}
	for _, p := range spec.Ports {
		args = append(args, "--publish", p)
	}
	for _, v := range spec.Volumes {
		mount := v.Source + ":" + v.Target
		if v.ReadOnly {
			mount += ":ro"
		}
		args = append(args, "--volume", mount)
	}
	if len(spec.Networks) > 0 {
		args = append(args, "--network", spec.Networks[0])
	}
	if spec.Restart != "" {
		args = append(args, "--restart", spec.Restart)
	}
	if hc := spec.HealthCheck; hc != nil && len(hc.Test) > 0 {
		args = append(args, "--health-cmd", strings.Join(hc.Test, " "))
		if hc.Interval != "" {
			args = append(args, "--health-interval", hc.Interval)
		}
		if hc.Timeout != "" {
			args = append(args, "--health-timeout", hc.Timeout)
		}
		if hc.Retries > 0 {
			args = append(args, "--health-retries", strconv.Itoa(hc.Retries))
		}
	}
	args = append(args, spec.Image)

	id, err := d.run(ctx, args...)
	if err != nil {
		return "", err
	}
	// docker create only honors one --network flag; connect the rest once
	// the container exists.
	for _, nw := range spec.Networks[min(1, len(spec.Networks)):] {
		if _, err := d.run(ctx, "network", "connect", nw, id); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (d *DockerCLI) StartContainer(ctx context.Context, id string) error {
	_, err := d.run(ctx, "start", id)
	return err
}

func (d *DockerCLI) StopContainer(ctx context.Context, nameOrID string, timeout time.Duration) error {
	_, err := d.run(ctx, "stop", "--time", strconv.Itoa(int(timeout.Seconds())), nameOrID)
	return err
}

func (d *DockerCLI) WaitContainer(ctx context.Context, id string) (int, error) {
	out, err := d.run(ctx, "wait", id)
	if err != nil {
		return -1, err
	}
	code, err := strconv.Atoi(out)
	if err != nil {
		return -1, fmt.Errorf("unexpected wait output %q", out)
	}
	return code, nil
}

func (d *DockerCLI) RemoveContainer(ctx context.Context, nameOrID string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, nameOrID)
	_, err := d.run(ctx, args...)
	return err
}

func (d *DockerCLI) InspectStatus(ctx context.Context, nameOrID string) (ContainerStatus, error) {
	out, err := d.run(ctx, "inspect", "--format", "{{json .}}", nameOrID)
	if err != nil {
		return ContainerStatus{}, err
	}
	var payload struct {
		ID    string `json:"Id"`
		State struct {
			Status   string `json:"Status"`
			ExitCode int    `json:"ExitCode"`
		} `json:"State"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		return ContainerStatus{}, fmt.Errorf("decode inspect output: %w", err)
	}
	status := ContainerStatus{ID: payload.ID, ExitCode: payload.State.ExitCode}
	switch payload.State.Status {
	case "running":
		status.State = StateRunning
	case "exited":
		status.State = StateExited
	case "created":
		status.State = StateCreated
	default:
		status.State = StateUnknown
	}
	return status, nil
}
