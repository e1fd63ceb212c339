package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/testutil"
	"github.com/leapstack-labs/leapgraph/pkg/core"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_InitSchema(t *testing.T) {
	store := setupTestStore(t)

	tables := []string{"extraction_runs", "extraction_results", "etl_runs", "script_runs", "load_runs"}
	for _, table := range tables {
		rows, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		if err != nil {
			t.Errorf("table %s does not exist: %v", table, err)
			continue
		}
		_ = rows.Close()
	}

	version, err := store.GetMigrationVersion()
	if err != nil {
		t.Fatalf("GetMigrationVersion: %v", err)
	}
	if version != 1 {
		t.Errorf("expected migration version 1, got %d", version)
	}

	// Migrating twice is a no-op.
	if err := store.InitSchema(); err != nil {
		t.Errorf("second InitSchema failed: %v", err)
	}
}

func TestSQLiteStore_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store := NewSQLiteStore(nil)
	if err := store.Open(path); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	run, err := store.CreateRun()
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	_ = store.Close()

	reopened := NewSQLiteStore(nil)
	if err := reopened.Open(path); err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if _, err := reopened.GetRun(run.ID); err != nil {
		t.Errorf("run not persisted: %v", err)
	}
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)
	if _, err := store.CreateRun(); err == nil {
		t.Error("expected error from unopened store")
	}
	if _, err := store.HasSuccessfulExtraction("a", "b"); err == nil {
		t.Error("expected error from unopened store")
	}
	if err := store.Close(); err != nil {
		t.Errorf("closing an unopened store should succeed: %v", err)
	}
}

func TestSQLiteStore_Extractions(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.CreateExtractionRun("v1_basic", 3)
	if err != nil {
		t.Fatalf("CreateExtractionRun: %v", err)
	}
	if run.Status != core.RunStatusRunning {
		t.Errorf("expected running status, got %s", run.Status)
	}

	results := []*core.ExtractionResult{
		{RunID: run.ID, SQLFile: "dim_customer.sql", SQLHash: "s1", TemplateHash: "t1", AnswerFile: "out/answer.json", PromptTokens: 120, AnswerTokens: 80, Status: core.RunStatusCompleted},
		{RunID: run.ID, SQLFile: "fact_sales.sql", SQLHash: "s2", TemplateHash: "t1", Status: core.RunStatusFailed, Error: "quota exceeded"},
	}
	for _, r := range results {
		if err := store.RecordExtractionResult(r); err != nil {
			t.Fatalf("RecordExtractionResult: %v", err)
		}
		if r.ID == "" {
			t.Error("result ID should be assigned")
		}
	}

	got, err := store.GetExtractionResults(run.ID)
	if err != nil {
		t.Fatalf("GetExtractionResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].SQLFile != "dim_customer.sql" || got[0].PromptTokens != 120 || got[0].AnswerFile != "out/answer.json" {
		t.Errorf("unexpected first result %+v", got[0])
	}
	if got[1].Error != "quota exceeded" || got[1].AnswerFile != "" {
		t.Errorf("unexpected second result %+v", got[1])
	}

	tests := []struct {
		sqlHash, templateHash string
		want                  bool
	}{
		{"s1", "t1", true},
		{"s2", "t1", false}, // failed
		{"s1", "t2", false}, // template changed
		{"s3", "t1", false},
	}
	for _, tt := range tests {
		ok, err := store.HasSuccessfulExtraction(tt.sqlHash, tt.templateHash)
		if err != nil {
			t.Fatalf("HasSuccessfulExtraction: %v", err)
		}
		if ok != tt.want {
			t.Errorf("HasSuccessfulExtraction(%s, %s) = %v, want %v", tt.sqlHash, tt.templateHash, ok, tt.want)
		}
	}

	if err := store.CompleteExtractionRun(run.ID, core.RunStatusCompleted); err != nil {
		t.Fatalf("CompleteExtractionRun: %v", err)
	}
	stored, err := store.GetExtractionRun(run.ID)
	if err != nil {
		t.Fatalf("GetExtractionRun: %v", err)
	}
	if stored.Status != core.RunStatusCompleted || stored.CompletedAt == nil || stored.ExecutionNumber != 3 {
		t.Errorf("unexpected run %+v", stored)
	}

	if err := store.CompleteExtractionRun("missing", core.RunStatusCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.CreateRun()
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	sr := &core.ScriptRun{RunID: run.ID, Script: "dim_customer.sql"}
	if err := store.RecordScriptRun(sr); err != nil {
		t.Fatalf("RecordScriptRun: %v", err)
	}
	if sr.Status != core.RunStatusRunning {
		t.Errorf("expected default running status, got %s", sr.Status)
	}
	if err := store.SetScriptRunLineageID(sr.ID, "0190-abc"); err != nil {
		t.Fatalf("SetScriptRunLineageID: %v", err)
	}
	if err := store.UpdateScriptRun(sr.ID, core.RunStatusCompleted, 42, ""); err != nil {
		t.Fatalf("UpdateScriptRun: %v", err)
	}

	failed := &core.ScriptRun{RunID: run.ID, Script: "fact_sales.sql"}
	if err := store.RecordScriptRun(failed); err != nil {
		t.Fatalf("RecordScriptRun: %v", err)
	}
	if err := store.UpdateScriptRun(failed.ID, core.RunStatusFailed, 0, "boom"); err != nil {
		t.Fatalf("UpdateScriptRun: %v", err)
	}

	if err := store.CompleteRun(run.ID, core.RunStatusFailed, "1 script failed"); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != core.RunStatusFailed || got.Error != "1 script failed" || got.CompletedAt == nil {
		t.Errorf("unexpected run %+v", got)
	}

	scripts, err := store.GetScriptRunsForRun(run.ID)
	if err != nil {
		t.Fatalf("GetScriptRunsForRun: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected 2 script runs, got %d", len(scripts))
	}
	first := scripts[0]
	if first.Script != "dim_customer.sql" || first.RowsAffected != 42 || first.OpenLineageRunID != "0190-abc" || first.CompletedAt == nil {
		t.Errorf("unexpected script run %+v", first)
	}
	if scripts[1].Error != "boom" {
		t.Errorf("expected error on failed script, got %+v", scripts[1])
	}

	if _, err := store.GetRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateScriptRun("missing", core.RunStatusCompleted, 0, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ScriptRunRequiresRun(t *testing.T) {
	store := setupTestStore(t)
	err := store.RecordScriptRun(&core.ScriptRun{RunID: "no-such-run", Script: "x.sql"})
	if err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestSQLiteStore_ListRecentRuns(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.CreateExtractionRun("v1", 1); err != nil {
		t.Fatalf("CreateExtractionRun: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	run, err := store.CreateRun()
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := store.RecordScriptRun(&core.ScriptRun{RunID: run.ID, Script: "a.sql"}); err != nil {
		t.Fatalf("RecordScriptRun: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	started := time.Now().UTC()
	if err := store.RecordLoadRun(&core.LoadRun{StartedAt: started, CompletedAt: started.Add(time.Second), Loaded: 3, Skipped: 1, Failed: 1}); err != nil {
		t.Fatalf("RecordLoadRun: %v", err)
	}

	runs, err := store.ListRecentRuns(10)
	if err != nil {
		t.Fatalf("ListRecentRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}

	wantKinds := []string{KindLoad, KindETL, KindExtraction}
	for i, want := range wantKinds {
		if runs[i].Kind != want {
			t.Errorf("runs[%d].Kind = %s, want %s", i, runs[i].Kind, want)
		}
	}
	if runs[0].Label != "3 loaded, 1 skipped, 1 failed" || runs[0].Status != core.RunStatusFailed {
		t.Errorf("unexpected load summary %+v", runs[0])
	}
	if runs[1].Label != "1 scripts" {
		t.Errorf("unexpected run label %q", runs[1].Label)
	}
	if runs[2].Label != "v1 #1" {
		t.Errorf("unexpected extraction label %q", runs[2].Label)
	}

	limited, err := store.ListRecentRuns(2)
	if err != nil {
		t.Fatalf("ListRecentRuns: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 runs, got %d", len(limited))
	}
}
