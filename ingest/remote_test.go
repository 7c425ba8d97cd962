package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func TestSplitGroupList(t *testing.T) {
	got := SplitGroupList("g1, g2,g3 ,,g4", 2)
	want := [][]string{{"g1", "g2"}, {"g3", "g4"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got := SplitGroupList("", 2); got != nil {
		t.Fatalf("expected no chunks for empty list, got %+v", got)
	}
	if got := SplitGroupList("g1,g2,g3", 0); len(got) != 2 {
		t.Fatalf("expected default chunk size 2, got %+v", got)
	}
}

func TestRemoteFetcher_ChunksAndConcatenatesInOrder(t *testing.T) {
	var mu sync.Mutex
	var dataIDs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authtoken") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/api/workspace/tc1/report/response") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		ids := r.URL.Query().Get("dataIds")
		mu.Lock()
		dataIDs = append(dataIDs, ids)
		mu.Unlock()
		var rows []ResponseRow
		for _, g := range strings.Split(ids, ",") {
			rows = append(rows, ResponseRow{GroupName: g, LoginName: "l1", Code: "c1", BookletName: "B1"})
		}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer server.Close()

	fetcher := NewRemoteFetcher(RemoteConfig{
		BaseURL:   server.URL,
		Workspace: "tc1",
		Token:     "secret",
	})
	rows, err := fetcher.FetchResponseRows(context.Background(), "g1,g2,g3,g4,g5")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	var gotGroups []string
	for _, row := range rows {
		gotGroups = append(gotGroups, row.GroupName)
	}
	if !reflect.DeepEqual(gotGroups, []string{"g1", "g2", "g3", "g4", "g5"}) {
		t.Fatalf("row order not preserved: %+v", gotGroups)
	}
	if !reflect.DeepEqual(dataIDs, []string{"g1,g2", "g3,g4", "g5"}) {
		t.Fatalf("unexpected chunking: %+v", dataIDs)
	}
}

func TestRemoteFetcher_ChunkFailureAbortsWholeFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("dataIds"), "g3") {
			// 4xx is permanent: no retry, whole fetch aborts.
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	fetcher := NewRemoteFetcher(RemoteConfig{BaseURL: server.URL, Workspace: "tc1", Token: "t"})
	if _, err := fetcher.FetchResponseRows(context.Background(), "g1,g2,g3,g4"); err == nil {
		t.Fatal("expected fetch to abort on chunk failure")
	}
}

func TestRemoteFetcher_LogReportPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/workspace/tc1/report/log") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rows := []LogRow{{GroupName: "g1", LoginName: "l1", Code: "c1", BookletName: "B1", Timestamp: "170", LogEntry: "K:V"}}
		_ = json.NewEncoder(w).Encode(rows)
	}))
	defer server.Close()

	fetcher := NewRemoteFetcher(RemoteConfig{BaseURL: server.URL, Workspace: "tc1", Token: "t"})
	rows, err := fetcher.FetchLogRows(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Timestamp != "170" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestRemoteFetcher_NumericTimestampDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"groupname":"g1","loginname":"l1","code":"c1","bookletname":"B1","unitname":"","timestamp":1700000000,"logentry":"K:V"}]`))
	}))
	defer server.Close()

	fetcher := NewRemoteFetcher(RemoteConfig{BaseURL: server.URL, Workspace: "tc1", Token: "t"})
	rows, err := fetcher.FetchLogRows(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].Timestamp.String() != "1700000000" {
		t.Fatalf("expected numeric timestamp kept as string, got %q", rows[0].Timestamp)
	}
}
