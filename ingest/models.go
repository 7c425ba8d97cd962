package ingest

import (
	"encoding/json"
	"strings"
)

// Person is one test taker, identified by the composite key
// (workspace, group, login, code). Group, login and code may be empty
// but are never absent: a missing CSV column yields "".
type Person struct {
	WorkspaceID string
	Group       string
	Login       string
	Code        string
	Booklets    []*Booklet
}

// Key joins the identity triple with hyphens. Embedded hyphens in the
// parts are not escaped; this matches upstream behavior.
func (p *Person) Key() string {
	return p.Group + "-" + p.Login + "-" + p.Code
}

func (p *Person) findBooklet(id string) *Booklet {
	for _, b := range p.Booklets {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Booklet is a named test instance. Its ID is never empty; rows with an
// empty booklet name are rejected with a warning issue.
type Booklet struct {
	ID       string
	Logs     []LogEntry
	Units    []*Unit
	Sessions []Session
}

// Unit is one task inside a booklet. On the response import path units
// are appended without id dedup; on the log import path they are merged
// by id. Both behaviors are intentional (see AssignUnitsToBookletAndPerson
// and AssignUnitLogsToBooklet).
type Unit struct {
	ID        string
	Alias     string
	LastState []KeyValue
	Subforms  []SubForm
	Chunks    []ChunkMeta
	Logs      []LogEntry
}

type KeyValue struct {
	Key   string
	Value string
}

// SubForm groups the variable responses of one sub-form of a unit.
type SubForm struct {
	ID        string
	Responses []Response
}

// Response is one variable value. A blank status is normalized to
// StatusInvalid during unit assignment and reported as an issue.
type Response struct {
	ID     string
	Value  string
	Status string
	TS     int64
	Code   int
}

// ChunkMeta is summary metadata for one raw response chunk.
type ChunkMeta struct {
	ID        string
	Type      string
	TS        int64
	Variables []string
}

// LogEntry keeps the row timestamp as an opaque string; it is never
// parsed into a date.
type LogEntry struct {
	TS        string
	Key       string
	Parameter string
}

// Session describes the technical environment of one test run, derived
// exclusively from LOADCOMPLETE log entries.
type Session struct {
	Browser        string
	OS             string
	Screen         string
	TS             string
	LoadCompleteMS int64
}

// StatusInvalid is substituted for responses that arrive without a status.
const StatusInvalid = "INVALID"

// UnknownKey is substituted when a log line yields no recoverable key.
const UnknownKey = "UNKNOWN"

// StatusCodeFunc maps a response status string to its numeric code. The
// mapping itself is owned by the coding layer; DefaultStatusCode is used
// when no mapper is supplied.
type StatusCodeFunc func(status string) int

var defaultStatusCodes = map[string]int{
	"UNSET":           0,
	"NOT_REACHED":     1,
	"DISPLAYED":       2,
	"VALUE_CHANGED":   3,
	"DERIVE_ERROR":    4,
	"CODING_COMPLETE": 5,
	StatusInvalid:     -1,
}

func DefaultStatusCode(status string) int {
	if code, ok := defaultStatusCodes[strings.ToUpper(strings.TrimSpace(status))]; ok {
		return code
	}
	return 0
}

// ResponseRow is one row of a responses import, from CSV or from the
// remote report API. Missing fields decode to "".
type ResponseRow struct {
	GroupName      string     `json:"groupname"`
	LoginName      string     `json:"loginname"`
	Code           string     `json:"code"`
	BookletName    string     `json:"bookletname"`
	UnitName       string     `json:"unitname"`
	OriginalUnitID string     `json:"originalUnitId"`
	Responses      FlexString `json:"responses"`
	LastState      FlexString `json:"laststate"`
}

func (r ResponseRow) matchesPerson(p *Person) bool {
	return r.GroupName == p.Group && r.LoginName == p.Login && r.Code == p.Code
}

// LogRow is one row of a logs import. Rows with an empty unit name carry
// booklet-level logs; the rest carry unit-level logs.
type LogRow struct {
	GroupName   string     `json:"groupname"`
	LoginName   string     `json:"loginname"`
	Code        string     `json:"code"`
	BookletName string     `json:"bookletname"`
	UnitName    string     `json:"unitname"`
	Timestamp   FlexString `json:"timestamp"`
	LogEntry    string     `json:"logentry"`
}

func (r LogRow) matchesPerson(p *Person) bool {
	return r.GroupName == p.Group && r.LoginName == p.Login && r.Code == p.Code
}

// FlexString decodes a JSON string as-is and any other JSON value as its
// raw text. The remote API delivers the responses column either as a
// JSON-encoded string (like the CSV path) or as an inline array; both
// collapse to one string here.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(trimmed)
	return nil
}

func (f FlexString) String() string { return string(f) }
