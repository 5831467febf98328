// app.go wires the lifecycle core for the CLI commands.
package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/example/stackd/internal/config"
	"github.com/example/stackd/internal/control"
	"github.com/example/stackd/internal/engine"
	"github.com/example/stackd/internal/logging"
	"github.com/example/stackd/internal/store"
	"github.com/example/stackd/pkg/manifest"
	"go.uber.org/zap"
)

type app struct {
	service *control.Service
	store   *store.Store
	log     *zap.Logger
}

func newApp(opts *config.Options) (*app, error) {
	log, err := logging.New(opts.LogLevel)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(opts.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	runtime := engine.NewDockerCLI(opts.RuntimeEndpoint)
	eng := engine.New(runtime, log)
	eng.SetStopTimeout(opts.StopTimeout)
	resolver := manifest.NewResolver(nil)
	svc := control.NewService(resolver, eng, st, nil, resolveConnectionURL, log)
	return &app{service: svc, store: st, log: log}, nil
}

func (a *app) close() {
	a.service.Close()
	_ = a.store.Close()
	_ = a.log.Sync()
}

// resolveConnectionURL maps a literal connection URL to a database/sql driver
// by scheme, for observer connections not backed by a typed variable.
func resolveConnectionURL(ref string) (string, string, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" {
		return "", "", fmt.Errorf("connection %q is not a URL with a scheme", ref)
	}
	switch u.Scheme {
	case "sqlserver", "mysql", "postgres", "oracle", "sqlite":
		return u.Scheme, ref, nil
	}
	return "", "", fmt.Errorf("unsupported connection scheme %q", u.Scheme)
}

func readManifest(path string) ([]byte, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return doc, nil
}

func parseVariables(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q (expected KEY=VALUE)", pair)
		}
		vars[key] = value
	}
	return vars, nil
}
