package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedInstance writes a deployment with one definition and one running
// instance holding a variable, a task, a job and history rows.
func seedInstance(t *testing.T, s *Store, deploymentID string) {
	t.Helper()
	ctx := context.Background()
	defID := deploymentID + "-def"
	piID := deploymentID + "-pi"

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.InsertDeployment(ctx, Deployment{ID: deploymentID, Name: "test", DeployedAt: testTime}); err != nil {
			return err
		}
		if err := tx.InsertResource(ctx, Resource{DeploymentID: deploymentID, Name: "a.process.yaml", Content: []byte("key: a")}); err != nil {
			return err
		}
		version, err := tx.NextDefinitionVersion(ctx, "a")
		if err != nil {
			return err
		}
		if err := tx.InsertDefinition(ctx, ProcessDefinition{
			ID: defID, Key: "a", Version: version, DeploymentID: deploymentID, ResourceName: "a.process.yaml",
		}); err != nil {
			return err
		}
		if err := tx.InsertExecution(ctx, Execution{ID: piID, DefinitionID: defID, NodeID: "wait", StartedAt: testTime}); err != nil {
			return err
		}
		if err := tx.UpsertVariable(ctx, Variable{ProcessInstanceID: piID, Name: "x", TypeName: "integer", Value: "1"}); err != nil {
			return err
		}
		if err := tx.InsertTask(ctx, Task{ID: piID + "-task", ProcessInstanceID: piID, NodeID: "wait", CreatedAt: testTime}); err != nil {
			return err
		}
		if err := tx.InsertJob(ctx, Job{ID: piID + "-job", ProcessInstanceID: piID, NodeID: "wait", Kind: JobBoundary, Target: "end", DueAt: testTime.Add(time.Hour)}); err != nil {
			return err
		}
		if err := tx.InsertHistoricProcessInstance(ctx, HistoricProcessInstance{ID: piID, DefinitionID: defID, StartTime: testTime}); err != nil {
			return err
		}
		return tx.UpsertHistoricVariable(ctx, HistoricVariable{
			ID: piID + "-hv", ProcessInstanceID: piID, Name: "x", TypeName: "integer", Value: "1",
			CreatedAt: testTime, UpdatedAt: testTime,
		})
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func tableCounts(t *testing.T, s *Store) map[string]int64 {
	t.Helper()
	var counts map[string]int64
	err := s.View(context.Background(), func(tx *Tx) error {
		var err error
		counts, err = tx.TableCounts(context.Background())
		return err
	})
	if err != nil {
		t.Fatalf("TableCounts() failed: %v", err)
	}
	return counts
}
