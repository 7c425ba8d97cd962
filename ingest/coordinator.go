package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
)

// ImportTypes selects which kinds of data an import run touches.
type ImportTypes struct {
	Responses bool
	Logs      bool
	Files     bool
}

func (t ImportTypes) none() bool {
	return !t.Responses && !t.Logs && !t.Files
}

// ImportRequest describes one import run. Exactly one source feeds it:
// a CSV path per selected type, or a remote group list.
type ImportRequest struct {
	WorkspaceID string
	Types       ImportTypes

	// CSV sources. Used when Groups is empty.
	ResponsesCSV string
	LogsCSV      string

	// Remote source: comma-separated group ids pulled via the fetcher.
	Groups string

	Scope         Scope
	Filters       ScopeFilters
	Mode          OverwriteMode
	OverwriteLogs bool
	BatchSize     int
}

// ImportResult is the unified report returned to the caller. Success
// false with all-zero counters means a top-level failure; success true
// with issues means a partially-clean import.
type ImportResult struct {
	Success              bool           `json:"success"`
	Expected             Stats          `json:"expected"`
	Before               Stats          `json:"before"`
	After                Stats          `json:"after"`
	Delta                Stats          `json:"delta"`
	ResponseStatusCounts map[string]int `json:"responseStatusCounts,omitempty"`
	Issues               []Issue        `json:"issues,omitempty"`
	LogMetrics           *LogMetrics    `json:"logMetrics,omitempty"`
	LogTotals            *LogSaveResult `json:"logTotals,omitempty"`
	RowsRead             int            `json:"rowsRead"`
}

// Coordinator sequences one import: optional remote fetch, build and
// merge, scope filtering, persistence, stats diff, issue aggregation.
type Coordinator struct {
	Store      Store
	Fetcher    *RemoteFetcher
	StatusCode StatusCodeFunc
	Debug      bool
}

func (c *Coordinator) debugf(format string, args ...any) {
	if c == nil || !c.Debug {
		return
	}
	log.Printf(format, args...)
}

// Run executes the import. Selecting zero import types is a valid no-op
// that succeeds with all-zero counters.
func (c *Coordinator) Run(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	result := &ImportResult{}
	if req.Types.none() {
		result.Success = true
		return result, nil
	}
	if req.WorkspaceID == "" {
		return result, fmt.Errorf("workspace id is required")
	}
	if req.Scope == "" {
		req.Scope = ScopeWorkspace
	}
	if req.Mode == "" {
		req.Mode = ModeMerge
	}

	issues := &Issues{}
	if req.Types.Files {
		// Definition files travel through the upload pipeline, not this
		// engine; the selection is acknowledged but contributes nothing.
		c.debugf("import: file type selected, nothing to do here")
	}

	before, err := c.Store.WorkspaceStats(req.WorkspaceID)
	if err != nil {
		return result, fmt.Errorf("capture before stats: %w", err)
	}
	result.Before = before

	stream := NewIngestionStream(c.Store, req.WorkspaceID, issues)
	stream.Scope = req.Scope
	stream.Filters = req.Filters
	stream.Mode = req.Mode
	stream.OverwriteLogs = req.OverwriteLogs
	if req.BatchSize > 0 {
		stream.BatchSize = req.BatchSize
	}
	if c.StatusCode != nil {
		stream.StatusCode = c.StatusCode
	}

	if req.Types.Responses {
		if err := c.runResponses(ctx, req, stream); err != nil {
			result.Issues = issues.Items()
			return result, err
		}
		result.ResponseStatusCounts = stream.StatusCounts()
	}
	if req.Types.Logs {
		if err := c.runLogs(ctx, req, stream); err != nil {
			result.Issues = issues.Items()
			return result, err
		}
		metrics := stream.Metrics()
		result.LogMetrics = metrics
		totals := stream.LogTotals()
		result.LogTotals = &totals
	}

	after, err := c.Store.WorkspaceStats(req.WorkspaceID)
	if err != nil {
		return result, fmt.Errorf("capture after stats: %w", err)
	}
	result.After = after
	result.Delta = Delta(before, after)
	result.Expected = stream.Expected()
	result.Issues = issues.Items()
	result.RowsRead = stream.RowsRead()
	result.Success = true
	c.debugf("import done: workspace=%s rows=%d issues=%d delta=%+v",
		req.WorkspaceID, result.RowsRead, len(result.Issues), result.Delta)
	return result, nil
}

func (c *Coordinator) runResponses(ctx context.Context, req ImportRequest, stream *IngestionStream) error {
	if req.Groups != "" {
		if c.Fetcher == nil {
			return fmt.Errorf("remote import requested but no fetcher configured")
		}
		c.debugf("fetch responses: groups=%q", req.Groups)
		rows, err := c.Fetcher.FetchResponseRows(ctx, req.Groups)
		if err != nil {
			return err
		}
		stream.FileName = "remote:responses"
		return stream.ConsumeResponses(&ResponseSliceSource{Rows: rows})
	}
	if req.ResponsesCSV == "" {
		return fmt.Errorf("responses import requested but no source given")
	}
	return withCSVFile(req.ResponsesCSV, stream, func(r io.Reader) error {
		src, err := NewResponseCSVReader(r)
		if err != nil {
			return err
		}
		return stream.ConsumeResponses(src)
	})
}

func (c *Coordinator) runLogs(ctx context.Context, req ImportRequest, stream *IngestionStream) error {
	if req.Groups != "" {
		if c.Fetcher == nil {
			return fmt.Errorf("remote import requested but no fetcher configured")
		}
		c.debugf("fetch logs: groups=%q", req.Groups)
		rows, err := c.Fetcher.FetchLogRows(ctx, req.Groups)
		if err != nil {
			return err
		}
		stream.FileName = "remote:logs"
		return stream.ConsumeLogs(&LogSliceSource{Rows: rows})
	}
	if req.LogsCSV == "" {
		return fmt.Errorf("logs import requested but no source given")
	}
	return withCSVFile(req.LogsCSV, stream, func(r io.Reader) error {
		src, err := NewLogCSVReader(r)
		if err != nil {
			return err
		}
		return stream.ConsumeLogs(src)
	})
}

func withCSVFile(path string, stream *IngestionStream, consume func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	stream.FileName = path
	return consume(f)
}
