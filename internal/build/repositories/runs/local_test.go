package runs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/proofbench/proofbench/internal/build"
)

func newTestRecord(id string, startedAt time.Time, status build.RunStatus) build.RunRecord {
	return build.RunRecord{
		ID:        id,
		Status:    status,
		StartedAt: startedAt.UTC(),
		Steps: []build.StepResult{
			{Image: "proofbench_base", Status: build.StepStatusSucceeded, Duration: 2 * time.Second},
		},
	}
}

func TestLocalRunStoreSaveAndGet(t *testing.T) {
	t.Parallel()

	store := LocalRunStore{BaseDir: t.TempDir()}
	want := newTestRecord("run-123", time.Unix(1_700_000_000, 0), build.RunStatusSucceeded)

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(want.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil, want record")
	}
	if got.ID != want.ID || got.Status != want.Status {
		t.Fatalf("Get() = %+v, want %+v", got, want)
	}
	if len(got.Steps) != 1 || got.Steps[0].Image != "proofbench_base" {
		t.Fatalf("Steps = %+v", got.Steps)
	}
}

func TestLocalRunStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := LocalRunStore{BaseDir: t.TempDir()}

	got, err := store.Get("absent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Get() = %+v, want nil", got)
	}
}

func TestLocalRunStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store := LocalRunStore{BaseDir: t.TempDir()}

	records := []build.RunRecord{
		newTestRecord("run-old", time.Unix(1_700_000_000, 0), build.RunStatusFailed),
		newTestRecord("run-new", time.Unix(1_800_000_000, 0), build.RunStatusSucceeded),
		newTestRecord("run-mid", time.Unix(1_750_000_000, 0), build.RunStatusSucceeded),
	}
	for _, record := range records {
		if err := store.Save(record); err != nil {
			t.Fatalf("Save(%q) error = %v", record.ID, err)
		}
	}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	wantOrder := []string{"run-new", "run-mid", "run-old"}
	if len(got) != len(wantOrder) {
		t.Fatalf("List() returned %d records, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Fatalf("List()[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestLocalRunStoreListMissingDir(t *testing.T) {
	t.Parallel()

	store := LocalRunStore{BaseDir: filepath.Join(t.TempDir(), "missing")}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got != nil {
		t.Fatalf("List() = %v, want nil", got)
	}
}

func TestLocalRunStoreRequiresID(t *testing.T) {
	t.Parallel()

	store := LocalRunStore{BaseDir: t.TempDir()}
	if err := store.Save(build.RunRecord{}); err == nil {
		t.Fatal("Save() expected error for a record without id")
	}
}
