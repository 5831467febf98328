package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/example/stackd/internal/deployment"
	"github.com/example/stackd/internal/observer"
	"github.com/example/stackd/internal/plan"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord() *Record {
	d := deployment.New("env-1", "shop", "shop", "1.0.0", map[string]string{"APP_TAG": "1.0.0"})
	return &Record{
		Deployment: d,
		Plan: &plan.DeploymentPlan{
			StackName:    "shop",
			StackVersion: "1.0.0",
			Networks:     map[string]plan.NetworkDefinition{"default": {ResolvedName: "shop_default"}},
			Steps: []plan.DeploymentStep{
				{ContextName: "app", Image: "shop/app:1.0.0", ContainerName: "shop_app", Networks: []string{"default"}},
			},
		},
		Observers: []observer.Config{{
			Name: "flag", Type: observer.TypeFile, Enabled: true,
			FilePath: "/var/run/flag", MaintenanceValue: "1", NormalValue: "0",
		}},
	}
}

func TestStore_SaveAndGetRoundtrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	rec := sampleRecord()
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, rec.Deployment.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Deployment.StackName != "shop" || got.Deployment.OperationMode != deployment.ModeNormal {
		t.Fatalf("deployment = %+v", got.Deployment)
	}
	if got.Deployment.Variables["APP_TAG"] != "1.0.0" {
		t.Fatalf("variables = %v", got.Deployment.Variables)
	}
	if got.Plan == nil || len(got.Plan.Steps) != 1 || got.Plan.Steps[0].ContainerName != "shop_app" {
		t.Fatalf("plan = %+v", got.Plan)
	}
	if len(got.Observers) != 1 || got.Observers[0].Name != "flag" {
		t.Fatalf("observers = %+v", got.Observers)
	}
	if !got.Deployment.CreatedAt.Equal(rec.Deployment.CreatedAt) {
		t.Fatalf("created at %v != %v", got.Deployment.CreatedAt, rec.Deployment.CreatedAt)
	}
}

func TestStore_GetUnknownID(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SaveUpserts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	rec := sampleRecord()
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec.Deployment.MarkRunning()
	if err := rec.Deployment.SetMode(deployment.ModeMaintenance); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, err := s.Get(ctx, rec.Deployment.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Deployment.Status != deployment.StatusRunning || got.Deployment.OperationMode != deployment.ModeMaintenance {
		t.Fatalf("upsert lost state: %+v", got.Deployment)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert must not duplicate rows, got %d", len(all))
	}
}

func TestStore_RemovedRowPersists(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	rec := sampleRecord()
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec.Deployment.MarkRemoved()
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("save removed: %v", err)
	}

	got, err := s.Get(ctx, rec.Deployment.ID)
	if err != nil {
		t.Fatalf("removed deployment must stay retrievable: %v", err)
	}
	if got.Deployment.Status != deployment.StatusRemoved {
		t.Fatalf("status = %s", got.Deployment.Status)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first := sampleRecord()
	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	second := sampleRecord()
	second.Deployment.CreatedAt = first.Deployment.CreatedAt.Add(1)
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].Deployment.ID != second.Deployment.ID {
		t.Fatalf("list order wrong: %v", ids(all))
	}
}

func ids(recs []*Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Deployment.ID
	}
	return out
}
