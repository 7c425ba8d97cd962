package ingest

import "fmt"

// DefaultBatchSize is the number of rows merged and persisted per batch.
const DefaultBatchSize = 500

// ResponseSource yields response rows one at a time. ok=false with a nil
// error marks the end of the source.
type ResponseSource interface {
	Next() (ResponseRow, bool, error)
}

// LogSource yields log rows one at a time.
type LogSource interface {
	Next() (LogRow, bool, error)
}

// ResponseSliceSource adapts an already-fetched row list (the remote
// pull path) to the streaming interface used by CSV files.
type ResponseSliceSource struct {
	Rows []ResponseRow
	pos  int
}

func (s *ResponseSliceSource) Next() (ResponseRow, bool, error) {
	if s.pos >= len(s.Rows) {
		return ResponseRow{}, false, nil
	}
	row := s.Rows[s.pos]
	s.pos++
	return row, true, nil
}

// LogSliceSource adapts an already-fetched log row list.
type LogSliceSource struct {
	Rows []LogRow
	pos  int
}

func (s *LogSliceSource) Next() (LogRow, bool, error) {
	if s.pos >= len(s.Rows) {
		return LogRow{}, false, nil
	}
	row := s.Rows[s.pos]
	s.pos++
	return row, true, nil
}

// IngestionStream consumes a row source in fixed-size batches. Each
// batch is built into a person tree, scope-filtered and persisted before
// the next batch is read, so the source is never drained faster than the
// store can absorb. A malformed row never aborts a batch; a failing
// store call aborts the whole import.
type IngestionStream struct {
	Store         Store
	WorkspaceID   string
	BatchSize     int
	StatusCode    StatusCodeFunc
	Scope         Scope
	Filters       ScopeFilters
	Mode          OverwriteMode
	OverwriteLogs bool
	FileName      string

	issues       *Issues
	expected     *expectedSets
	coverage     *coverageSets
	statusCounts map[string]int
	logTotals    LogSaveResult
	rowsRead     int
}

func NewIngestionStream(store Store, workspaceID string, issues *Issues) *IngestionStream {
	return &IngestionStream{
		Store:        store,
		WorkspaceID:  workspaceID,
		BatchSize:    DefaultBatchSize,
		StatusCode:   DefaultStatusCode,
		Scope:        ScopeWorkspace,
		Mode:         ModeMerge,
		issues:       issues,
		expected:     newExpectedSets(),
		coverage:     newCoverageSets(),
		statusCounts: map[string]int{},
	}
}

func (s *IngestionStream) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return DefaultBatchSize
}

// Expected returns the distinct-identity counters collected from the raw
// rows so far.
func (s *IngestionStream) Expected() Stats { return s.expected.stats() }

// StatusCounts returns per-status response counts collected so far.
func (s *IngestionStream) StatusCounts() map[string]int { return s.statusCounts }

// Metrics returns the log coverage metrics collected so far.
func (s *IngestionStream) Metrics() *LogMetrics { return s.coverage.metrics() }

// LogTotals returns the accumulated log persistence totals.
func (s *IngestionStream) LogTotals() LogSaveResult { return s.logTotals }

// RowsRead returns the number of rows consumed, for progress reporting.
func (s *IngestionStream) RowsRead() int { return s.rowsRead }

// ConsumeResponses reads the source to exhaustion in batches, merging
// and persisting each batch before reading further.
func (s *IngestionStream) ConsumeResponses(src ResponseSource) error {
	batch := make([]ResponseRow, 0, s.batchSize())
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.processResponseBatch(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	for {
		row, ok, err := src.Next()
		if err != nil {
			return err
		}
		if !ok {
			return flush()
		}
		s.rowsRead++
		batch = append(batch, row)
		if len(batch) >= s.batchSize() {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// ConsumeLogs reads the log source to exhaustion in batches.
func (s *IngestionStream) ConsumeLogs(src LogSource) error {
	batch := make([]LogRow, 0, s.batchSize())
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.processLogBatch(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	for {
		row, ok, err := src.Next()
		if err != nil {
			return err
		}
		if !ok {
			return flush()
		}
		s.rowsRead++
		batch = append(batch, row)
		if len(batch) >= s.batchSize() {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

func (s *IngestionStream) processResponseBatch(batch []ResponseRow) error {
	persons := s.buildResponseBatch(batch)
	filtered := FilterImportedPersons(persons, s.Scope, s.Filters)
	if len(filtered) == 0 {
		return nil
	}
	if err := s.Store.ProcessPersonBooklets(filtered, s.WorkspaceID, s.Mode, s.Scope, s.issues); err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}
	return nil
}

// buildResponseBatch never lets a bad row take the batch down: parsers
// report through the issue accumulator, and a panic is demoted to an
// error-level issue for the batch.
func (s *IngestionStream) buildResponseBatch(batch []ResponseRow) (persons []*Person) {
	defer func() {
		if r := recover(); r != nil {
			s.issues.Errorf(s.FileName, 0, "batch processing failed: %v", r)
			persons = nil
		}
	}()

	for _, row := range batch {
		chunks := ParseResponses(row.Responses.String())
		var variableIDs []string
		for _, meta := range ChunkSummaries(chunks) {
			variableIDs = append(variableIDs, meta.Variables...)
		}
		s.expected.addResponseRow(row, variableIDs)
	}

	persons = CreatePersonList(batch, s.WorkspaceID)
	for _, person := range persons {
		AssignBookletsToPerson(person, batch, s.issues, s.FileName)
		AssignUnitsToBookletAndPerson(person, batch, s.issues)
		for status, n := range NormalizeResponseStatuses(person, s.StatusCode, s.issues, s.FileName) {
			s.statusCounts[status] += n
		}
	}
	return persons
}

func (s *IngestionStream) processLogBatch(batch []LogRow) error {
	persons := s.buildLogBatch(batch)
	filtered := FilterImportedPersons(persons, s.Scope, s.Filters)
	if len(filtered) == 0 {
		return nil
	}
	result, err := s.Store.ProcessPersonLogs(filtered, s.WorkspaceID, s.OverwriteLogs)
	if err != nil {
		return fmt.Errorf("persist log batch: %w", err)
	}
	s.logTotals.TotalBooklets += result.TotalBooklets
	s.logTotals.TotalLogsSaved += result.TotalLogsSaved
	s.logTotals.TotalLogsSkipped += result.TotalLogsSkipped
	return nil
}

func (s *IngestionStream) buildLogBatch(batch []LogRow) (persons []*Person) {
	defer func() {
		if r := recover(); r != nil {
			s.issues.Errorf(s.FileName, 0, "batch processing failed: %v", r)
			persons = nil
		}
	}()

	for _, row := range batch {
		s.expected.addLogRow(row)
		s.coverage.addLogRow(row)
	}

	persons = CreatePersonListFromLogs(batch, s.WorkspaceID)
	for _, person := range persons {
		matching := make([]LogRow, 0, len(batch))
		for _, row := range batch {
			if row.matchesPerson(person) {
				matching = append(matching, row)
			}
		}
		AssignBookletLogsToPerson(person, matching, s.issues, s.FileName)

		// Unit logs may reference booklets that had no booklet-level
		// rows; those booklets come into existence here.
		seen := map[string]bool{}
		for _, row := range matching {
			if row.UnitName == "" || row.BookletName == "" || seen[row.BookletName] {
				continue
			}
			seen[row.BookletName] = true
			booklet := person.findBooklet(row.BookletName)
			if booklet == nil {
				booklet = &Booklet{ID: row.BookletName}
				person.Booklets = append(person.Booklets, booklet)
			}
			AssignUnitLogsToBooklet(booklet, matching, s.issues, s.FileName)
		}

		for _, booklet := range person.Booklets {
			if len(booklet.Logs) > 0 {
				s.coverage.markBooklet(booklet.ID)
			}
			for _, unit := range booklet.Units {
				if len(unit.Logs) > 0 {
					s.coverage.markUnit(booklet.ID, unit.ID)
				}
			}
		}
	}
	return persons
}
