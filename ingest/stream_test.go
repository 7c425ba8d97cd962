package ingest

import (
	"errors"
	"testing"
)

type mockStore struct {
	bookletCalls [][]*Person
	logCalls     [][]*Person
	stats        Stats
	failBooklets error
	failLogs     error
	logResult    LogSaveResult
}

func (m *mockStore) WorkspaceStats(workspaceID string) (Stats, error) {
	return m.stats, nil
}

func (m *mockStore) ProcessPersonBooklets(persons []*Person, workspaceID string, mode OverwriteMode, scope Scope, issues *Issues) error {
	if m.failBooklets != nil {
		return m.failBooklets
	}
	m.bookletCalls = append(m.bookletCalls, persons)
	return nil
}

func (m *mockStore) ProcessPersonLogs(persons []*Person, workspaceID string, overwrite bool) (LogSaveResult, error) {
	if m.failLogs != nil {
		return LogSaveResult{}, m.failLogs
	}
	m.logCalls = append(m.logCalls, persons)
	return m.logResult, nil
}

func responseRowFixture(unit, originalUnitID string) ResponseRow {
	return ResponseRow{
		GroupName:      "G1",
		LoginName:      "l1",
		Code:           "c1",
		BookletName:    "B1",
		UnitName:       unit,
		OriginalUnitID: originalUnitID,
		Responses:      `[{"id":"c1","ts":10,"subForm":"sf1","content":"[{\"id\":\"v1\",\"value\":\"a\",\"status\":\"VALUE_CHANGED\",\"ts\":11}]"}]`,
		LastState:      `{"PLAYER":"running"}`,
	}
}

func TestIngestionStream_BatchesAndPersistsInOrder(t *testing.T) {
	store := &mockStore{}
	stream := NewIngestionStream(store, "ws1", &Issues{})
	stream.BatchSize = 2

	rows := []ResponseRow{
		responseRowFixture("U1", ""),
		responseRowFixture("U2", ""),
		responseRowFixture("U3", ""),
	}
	if err := stream.ConsumeResponses(&ResponseSliceSource{Rows: rows}); err != nil {
		t.Fatal(err)
	}
	if len(store.bookletCalls) != 2 {
		t.Fatalf("expected 2 persist calls (2+1 rows), got %d", len(store.bookletCalls))
	}
	if stream.RowsRead() != 3 {
		t.Fatalf("expected 3 rows read, got %d", stream.RowsRead())
	}
	// First batch carries U1+U2, the trailing partial batch U3.
	firstUnits := store.bookletCalls[0][0].Booklets[0].Units
	if len(firstUnits) != 2 {
		t.Fatalf("expected 2 units in first batch, got %d", len(firstUnits))
	}
}

func TestIngestionStream_UnitIdentityIgnoresOriginalUnitID(t *testing.T) {
	store := &mockStore{}
	stream := NewIngestionStream(store, "ws1", &Issues{})
	rows := []ResponseRow{
		responseRowFixture("U1", "orig-a"),
		responseRowFixture("U1", "orig-b"),
	}
	if err := stream.ConsumeResponses(&ResponseSliceSource{Rows: rows}); err != nil {
		t.Fatal(err)
	}
	expected := stream.Expected()
	if expected.Units != 1 {
		t.Fatalf("expected 1 unique unit (originalUnitId excluded), got %d", expected.Units)
	}
	if expected.TestPersons != 1 || expected.TestGroups != 1 || expected.Booklets != 1 {
		t.Fatalf("unexpected expected stats: %+v", expected)
	}
	if expected.Responses != 1 {
		t.Fatalf("expected 1 unique response, got %d", expected.Responses)
	}
}

func TestIngestionStream_MissingStatusCountsAndIssue(t *testing.T) {
	issues := &Issues{}
	store := &mockStore{}
	stream := NewIngestionStream(store, "ws1", issues)
	row := responseRowFixture("U1", "")
	row.Responses = `[{"id":"c1","ts":10,"subForm":"sf1","content":"[{\"id\":\"v1\",\"value\":\"a\",\"ts\":11}]"}]`
	if err := stream.ConsumeResponses(&ResponseSliceSource{Rows: []ResponseRow{row}}); err != nil {
		t.Fatal(err)
	}
	if got := stream.StatusCounts()[StatusInvalid]; got != 1 {
		t.Fatalf("expected 1 INVALID response, got %d", got)
	}
	var missing int
	for _, issue := range issues.Items() {
		if issue.Category == "missing_status" {
			missing++
		}
	}
	if missing != 1 {
		t.Fatalf("expected exactly 1 missing_status issue, got %d", missing)
	}
}

func TestIngestionStream_StoreFailureAbortsImport(t *testing.T) {
	store := &mockStore{failBooklets: errors.New("db gone")}
	stream := NewIngestionStream(store, "ws1", &Issues{})
	err := stream.ConsumeResponses(&ResponseSliceSource{Rows: []ResponseRow{responseRowFixture("U1", "")}})
	if err == nil {
		t.Fatal("expected persistence failure to propagate")
	}
}

func TestIngestionStream_ScopeFilterAppliedBeforePersist(t *testing.T) {
	store := &mockStore{}
	stream := NewIngestionStream(store, "ws1", &Issues{})
	stream.Scope = ScopeGroup
	stream.Filters = ScopeFilters{Group: "G2"}
	if err := stream.ConsumeResponses(&ResponseSliceSource{Rows: []ResponseRow{responseRowFixture("U1", "")}}); err != nil {
		t.Fatal(err)
	}
	if len(store.bookletCalls) != 0 {
		t.Fatalf("expected no persist call for fully filtered batch, got %d", len(store.bookletCalls))
	}
}

func TestIngestionStream_LogCoverageMetrics(t *testing.T) {
	store := &mockStore{logResult: LogSaveResult{TotalBooklets: 1, TotalLogsSaved: 2}}
	stream := NewIngestionStream(store, "ws1", &Issues{})
	rows := []LogRow{
		{GroupName: "G1", LoginName: "l1", Code: "c1", BookletName: "B1", Timestamp: "1", LogEntry: "CONNECTION:LOST"},
		{GroupName: "G1", LoginName: "l1", Code: "c1", BookletName: "B1", UnitName: "U1", Timestamp: "2", LogEntry: "PLAYER:running"},
		// B2 appears but only with an unparseable entry: counted in the
		// totals, absent from the with-logs set.
		{GroupName: "G1", LoginName: "l1", Code: "c1", BookletName: "B2", Timestamp: "3", LogEntry: "NOSEP"},
	}
	if err := stream.ConsumeLogs(&LogSliceSource{Rows: rows}); err != nil {
		t.Fatal(err)
	}
	metrics := stream.Metrics()
	if metrics.TotalBooklets != 2 || metrics.BookletsWithLogs != 1 {
		t.Fatalf("unexpected booklet coverage: %+v", metrics)
	}
	if metrics.TotalUnits != 1 || metrics.UnitsWithLogs != 1 {
		t.Fatalf("unexpected unit coverage: %+v", metrics)
	}
	if metrics.BookletsRatio != 0.5 || metrics.UnitsRatio != 1 {
		t.Fatalf("unexpected ratios: %+v", metrics)
	}
	if len(metrics.BookletDetails) != 2 {
		t.Fatalf("expected drill-down details, got %+v", metrics.BookletDetails)
	}
	totals := stream.LogTotals()
	if totals.TotalLogsSaved != 2 {
		t.Fatalf("unexpected log totals: %+v", totals)
	}
}

func TestIngestionStream_UnitLogsWithoutBookletRowsStillLand(t *testing.T) {
	store := &mockStore{}
	stream := NewIngestionStream(store, "ws1", &Issues{})
	rows := []LogRow{
		{GroupName: "G1", LoginName: "l1", Code: "c1", BookletName: "B1", UnitName: "U1", Timestamp: "1", LogEntry: "PLAYER:running"},
	}
	if err := stream.ConsumeLogs(&LogSliceSource{Rows: rows}); err != nil {
		t.Fatal(err)
	}
	if len(store.logCalls) != 1 {
		t.Fatalf("expected 1 persist call, got %d", len(store.logCalls))
	}
	persons := store.logCalls[0]
	if len(persons) != 1 || len(persons[0].Booklets) != 1 {
		t.Fatalf("unexpected tree: %+v", persons)
	}
	units := persons[0].Booklets[0].Units
	if len(units) != 1 || len(units[0].Logs) != 1 {
		t.Fatalf("unit logs lost: %+v", units)
	}
}
