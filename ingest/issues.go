package ingest

import "fmt"

type IssueLevel string

const (
	IssueWarning IssueLevel = "warning"
	IssueError   IssueLevel = "error"
)

// Issue is one reportable problem found during parsing or merging.
// Issues accumulate; they are never thrown and never discarded.
type Issue struct {
	Level    IssueLevel `json:"level"`
	Message  string     `json:"message"`
	Category string     `json:"category,omitempty"`
	FileName string     `json:"fileName,omitempty"`
	RowIndex int        `json:"rowIndex,omitempty"`
}

// Issues is an append-only accumulator threaded through every parsing
// and merge call of one import.
type Issues struct {
	items []Issue
}

func (s *Issues) Add(issue Issue) {
	s.items = append(s.items, issue)
}

func (s *Issues) Warnf(fileName string, rowIndex int, format string, args ...any) {
	s.items = append(s.items, Issue{
		Level:    IssueWarning,
		Message:  fmt.Sprintf(format, args...),
		FileName: fileName,
		RowIndex: rowIndex,
	})
}

func (s *Issues) WarnCategory(category, fileName string, rowIndex int, format string, args ...any) {
	s.items = append(s.items, Issue{
		Level:    IssueWarning,
		Message:  fmt.Sprintf(format, args...),
		Category: category,
		FileName: fileName,
		RowIndex: rowIndex,
	})
}

func (s *Issues) Errorf(fileName string, rowIndex int, format string, args ...any) {
	s.items = append(s.items, Issue{
		Level:    IssueError,
		Message:  fmt.Sprintf(format, args...),
		FileName: fileName,
		RowIndex: rowIndex,
	})
}

func (s *Issues) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items returns a copy so callers cannot mutate the accumulator.
func (s *Issues) Items() []Issue {
	if s == nil || len(s.items) == 0 {
		return nil
	}
	out := make([]Issue, len(s.items))
	copy(out, s.items)
	return out
}
