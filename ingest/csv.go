package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CSV exports are semicolon separated with a mandatory header row.
// Responses imports keep '"' as the quote character; log imports strip
// every double quote during transform, which is lossy for embedded
// quotes but matches the upstream exports.

var responseHeaderRequired = []string{"groupname", "loginname", "code", "bookletname", "unitname"}
var logHeaderRequired = []string{"groupname", "loginname", "code", "bookletname", "unitname", "timestamp", "logentry"}

type headerIndex map[string]int

func readHeader(r *csv.Reader, required []string) (headerIndex, error) {
	record, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := headerIndex{}
	for i, name := range record {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("csv header is missing required column %q", name)
		}
	}
	return index, nil
}

func (h headerIndex) field(record []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

// ResponseCSVReader streams response rows from a semicolon CSV.
type ResponseCSVReader struct {
	r      *csv.Reader
	header headerIndex
}

func NewResponseCSVReader(r io.Reader) (*ResponseCSVReader, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := readHeader(cr, responseHeaderRequired)
	if err != nil {
		return nil, err
	}
	return &ResponseCSVReader{r: cr, header: header}, nil
}

// Next returns the next row. ok=false with a nil error marks the end of
// the stream.
func (s *ResponseCSVReader) Next() (ResponseRow, bool, error) {
	record, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return ResponseRow{}, false, nil
	}
	if err != nil {
		return ResponseRow{}, false, fmt.Errorf("read csv row: %w", err)
	}
	return ResponseRow{
		GroupName:      s.header.field(record, "groupname"),
		LoginName:      s.header.field(record, "loginname"),
		Code:           s.header.field(record, "code"),
		BookletName:    s.header.field(record, "bookletname"),
		UnitName:       s.header.field(record, "unitname"),
		OriginalUnitID: s.header.field(record, "originalunitid"),
		Responses:      FlexString(s.header.field(record, "responses")),
		LastState:      FlexString(s.header.field(record, "laststate")),
	}, true, nil
}

// LogCSVReader streams log rows from a semicolon CSV, with all double
// quotes removed before parsing.
type LogCSVReader struct {
	r      *csv.Reader
	header headerIndex
}

func NewLogCSVReader(r io.Reader) (*LogCSVReader, error) {
	cr := csv.NewReader(&quoteStrippingReader{src: r})
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := readHeader(cr, logHeaderRequired)
	if err != nil {
		return nil, err
	}
	return &LogCSVReader{r: cr, header: header}, nil
}

func (s *LogCSVReader) Next() (LogRow, bool, error) {
	record, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return LogRow{}, false, nil
	}
	if err != nil {
		return LogRow{}, false, fmt.Errorf("read csv row: %w", err)
	}
	return LogRow{
		GroupName:   s.header.field(record, "groupname"),
		LoginName:   s.header.field(record, "loginname"),
		Code:        s.header.field(record, "code"),
		BookletName: s.header.field(record, "bookletname"),
		UnitName:    s.header.field(record, "unitname"),
		Timestamp:   FlexString(s.header.field(record, "timestamp")),
		LogEntry:    s.header.field(record, "logentry"),
	}, true, nil
}

// quoteStrippingReader removes every 0x22 byte from the stream.
type quoteStrippingReader struct {
	src io.Reader
	buf []byte
}

func (q *quoteStrippingReader) Read(p []byte) (int, error) {
	if q.buf == nil {
		q.buf = make([]byte, 4096)
	}
	for {
		max := len(q.buf)
		if len(p) < max {
			max = len(p)
		}
		n, err := q.src.Read(q.buf[:max])
		kept := 0
		for _, b := range q.buf[:n] {
			if b == '"' {
				continue
			}
			p[kept] = b
			kept++
		}
		if kept > 0 || err != nil {
			return kept, err
		}
		if n == 0 && err == nil {
			return 0, nil
		}
	}
}
