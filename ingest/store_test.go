package ingest

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "import.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func personWithUnit(booklet, unit, variable, value string) *Person {
	return &Person{
		WorkspaceID: "ws1", Group: "G1", Login: "l1", Code: "c1",
		Booklets: []*Booklet{{
			ID: booklet,
			Units: []*Unit{{
				ID: unit, Alias: unit,
				Subforms: []SubForm{{ID: "sf1", Responses: []Response{
					{ID: variable, Value: value, Status: "VALUE_CHANGED", Code: 3, TS: 1},
				}}},
			}},
		}},
	}
}

func TestGormStore_WorkspaceStatsEmpty(t *testing.T) {
	store := openTestStore(t)
	stats, err := store.WorkspaceStats("ws1")
	if err != nil {
		t.Fatal(err)
	}
	if stats != (Stats{}) {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}

func TestGormStore_ProcessPersonBooklets_InsertAndStats(t *testing.T) {
	store := openTestStore(t)
	issues := &Issues{}
	persons := []*Person{personWithUnit("B1", "U1", "v1", "a")}
	if err := store.ProcessPersonBooklets(persons, "ws1", ModeMerge, ScopeWorkspace, issues); err != nil {
		t.Fatal(err)
	}
	stats, err := store.WorkspaceStats("ws1")
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{TestPersons: 1, TestGroups: 1, Booklets: 1, Units: 1, Responses: 1}
	if stats != want {
		t.Fatalf("got %+v, want %+v", stats, want)
	}

	// Other workspaces stay invisible.
	other, err := store.WorkspaceStats("ws2")
	if err != nil {
		t.Fatal(err)
	}
	if other != (Stats{}) {
		t.Fatalf("expected zero stats for other workspace, got %+v", other)
	}
}

func TestGormStore_OverwriteModeSkip(t *testing.T) {
	store := openTestStore(t)
	issues := &Issues{}
	if err := store.ProcessPersonBooklets([]*Person{personWithUnit("B1", "U1", "v1", "original")}, "ws1", ModeMerge, ScopeWorkspace, issues); err != nil {
		t.Fatal(err)
	}
	if err := store.ProcessPersonBooklets([]*Person{personWithUnit("B1", "U2", "v2", "ignored")}, "ws1", ModeSkip, ScopeWorkspace, issues); err != nil {
		t.Fatal(err)
	}
	stats, err := store.WorkspaceStats("ws1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Units != 1 || stats.Responses != 1 {
		t.Fatalf("skip mode must leave existing booklet untouched, got %+v", stats)
	}
}

func TestGormStore_OverwriteModeMergeReplacesMatchingUnits(t *testing.T) {
	store := openTestStore(t)
	issues := &Issues{}
	if err := store.ProcessPersonBooklets([]*Person{personWithUnit("B1", "U1", "v1", "old")}, "ws1", ModeMerge, ScopeWorkspace, issues); err != nil {
		t.Fatal(err)
	}
	// Same unit name: replaced. New unit name: appended.
	update := personWithUnit("B1", "U1", "v1", "new")
	update.Booklets[0].Units = append(update.Booklets[0].Units, &Unit{
		ID: "U2", Alias: "U2",
		Subforms: []SubForm{{ID: "sf1", Responses: []Response{{ID: "v9", Value: "z", Status: "DISPLAYED", Code: 2, TS: 2}}}},
	})
	if err := store.ProcessPersonBooklets([]*Person{update}, "ws1", ModeMerge, ScopeWorkspace, issues); err != nil {
		t.Fatal(err)
	}
	stats, err := store.WorkspaceStats("ws1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Units != 2 || stats.Responses != 2 {
		t.Fatalf("merge mode mismatch, got %+v", stats)
	}
	var rec ResponseRecord
	if err := store.db.Where("variable_id = ?", "v1").First(&rec).Error; err != nil {
		t.Fatal(err)
	}
	if rec.Value != "new" {
		t.Fatalf("expected merged value replaced, got %q", rec.Value)
	}
}

func TestGormStore_OverwriteModeReplaceDropsSubtree(t *testing.T) {
	store := openTestStore(t)
	issues := &Issues{}
	first := personWithUnit("B1", "U1", "v1", "old")
	first.Booklets[0].Units = append(first.Booklets[0].Units, &Unit{ID: "U2", Alias: "U2"})
	if err := store.ProcessPersonBooklets([]*Person{first}, "ws1", ModeMerge, ScopeWorkspace, issues); err != nil {
		t.Fatal(err)
	}
	if err := store.ProcessPersonBooklets([]*Person{personWithUnit("B1", "U3", "v3", "only")}, "ws1", ModeReplace, ScopeWorkspace, issues); err != nil {
		t.Fatal(err)
	}
	stats, err := store.WorkspaceStats("ws1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Units != 1 || stats.Responses != 1 {
		t.Fatalf("replace mode must drop prior subtree, got %+v", stats)
	}
	var rec ResponseRecord
	if err := store.db.First(&rec).Error; err != nil {
		t.Fatal(err)
	}
	if rec.VariableID != "v3" {
		t.Fatalf("expected only replacement data, got %+v", rec)
	}
}

func logPersonFixture() *Person {
	return &Person{
		WorkspaceID: "ws1", Group: "G1", Login: "l1", Code: "c1",
		Booklets: []*Booklet{{
			ID:   "B1",
			Logs: []LogEntry{{TS: "1", Key: "CONNECTION", Parameter: "LOST"}, {TS: "2", Key: "CONNECTION", Parameter: "RESUMED"}},
			Sessions: []Session{
				{Browser: "Firefox 128.0", OS: "MacOS", Screen: "1920 x 1080", TS: "3", LoadCompleteMS: 500},
			},
			Units: []*Unit{{ID: "U1", Alias: "U1", Logs: []LogEntry{{TS: "4", Key: "PLAYER", Parameter: "running"}}}},
		}},
	}
}

func TestGormStore_ProcessPersonLogs_SaveThenSkip(t *testing.T) {
	store := openTestStore(t)
	result, err := store.ProcessPersonLogs([]*Person{logPersonFixture()}, "ws1", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalBooklets != 1 || result.TotalLogsSaved != 3 || result.TotalLogsSkipped != 0 {
		t.Fatalf("unexpected first save: %+v", result)
	}

	// Second import without overwrite: everything skipped.
	result, err = store.ProcessPersonLogs([]*Person{logPersonFixture()}, "ws1", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalLogsSaved != 0 || result.TotalLogsSkipped != 3 {
		t.Fatalf("expected skip without overwrite: %+v", result)
	}

	// With overwrite: replaced, not duplicated.
	result, err = store.ProcessPersonLogs([]*Person{logPersonFixture()}, "ws1", true)
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalLogsSaved != 3 || result.TotalLogsSkipped != 0 {
		t.Fatalf("expected overwrite to save: %+v", result)
	}
	var bookletLogs int64
	if err := store.db.Model(&BookletLogRecord{}).Count(&bookletLogs).Error; err != nil {
		t.Fatal(err)
	}
	if bookletLogs != 2 {
		t.Fatalf("expected 2 booklet logs after overwrite, got %d", bookletLogs)
	}
	var sessions int64
	if err := store.db.Model(&SessionRecord{}).Count(&sessions).Error; err != nil {
		t.Fatal(err)
	}
	if sessions != 1 {
		t.Fatalf("expected 1 session after overwrite, got %d", sessions)
	}
}

func TestGormStore_LogCoverageStats(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.ProcessPersonLogs([]*Person{logPersonFixture()}, "ws1", false); err != nil {
		t.Fatal(err)
	}
	// A booklet without any logs.
	bare := &Person{WorkspaceID: "ws1", Group: "G1", Login: "l2", Code: "c2", Booklets: []*Booklet{{ID: "B2", Units: []*Unit{{ID: "U9", Alias: "U9"}}}}}
	if err := store.ProcessPersonBooklets([]*Person{bare}, "ws1", ModeMerge, ScopeWorkspace, &Issues{}); err != nil {
		t.Fatal(err)
	}
	metrics, err := store.LogCoverageStats("ws1")
	if err != nil {
		t.Fatal(err)
	}
	if metrics.TotalBooklets != 2 || metrics.BookletsWithLogs != 1 {
		t.Fatalf("unexpected booklet coverage: %+v", metrics)
	}
	if metrics.TotalUnits != 2 || metrics.UnitsWithLogs != 1 {
		t.Fatalf("unexpected unit coverage: %+v", metrics)
	}
}
