package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ResponseChunk is one raw response-group wrapper from the responses
// column. Content holds the JSON-encoded response array.
type ResponseChunk struct {
	ID      string     `json:"id"`
	Type    string     `json:"responseType"`
	TS      int64      `json:"ts"`
	SubForm string     `json:"subForm"`
	Content FlexString `json:"content"`
}

// ParseResponses decodes the raw responses column into chunks. A decode
// failure is a silent recoverable condition: the result is empty, no
// issue is raised, and the owning unit is still created. This asymmetry
// with log-line parsing is deliberate.
func ParseResponses(raw string) []ResponseChunk {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	var chunks []ResponseChunk
	if err := json.Unmarshal([]byte(trimmed), &chunks); err != nil {
		return nil
	}
	return chunks
}

type rawResponse struct {
	ID     string          `json:"id"`
	Value  json.RawMessage `json:"value"`
	Status string          `json:"status"`
	TS     int64           `json:"ts"`
}

func decodeChunkContent(chunk ResponseChunk) []Response {
	content := strings.TrimSpace(chunk.Content.String())
	if content == "" {
		return nil
	}
	var raw []rawResponse
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil
	}
	out := make([]Response, 0, len(raw))
	for _, r := range raw {
		out = append(out, Response{
			ID:     r.ID,
			Value:  stringifyRaw(r.Value),
			Status: r.Status,
			TS:     r.TS,
		})
	}
	return out
}

// ExtractSubforms builds one subform per distinct subForm id, from the
// first chunk carrying that id. A chunk whose content fails to decode
// still yields its subform, just with zero responses.
func ExtractSubforms(chunks []ResponseChunk) []SubForm {
	seen := map[string]bool{}
	var out []SubForm
	for _, chunk := range chunks {
		if seen[chunk.SubForm] {
			continue
		}
		seen[chunk.SubForm] = true
		out = append(out, SubForm{
			ID:        chunk.SubForm,
			Responses: decodeChunkContent(chunk),
		})
	}
	return out
}

// ChunkSummaries reduces chunks to their id/type/timestamp plus the
// variable ids found in their content.
func ChunkSummaries(chunks []ResponseChunk) []ChunkMeta {
	out := make([]ChunkMeta, 0, len(chunks))
	for _, chunk := range chunks {
		meta := ChunkMeta{ID: chunk.ID, Type: chunk.Type, TS: chunk.TS}
		for _, r := range decodeChunkContent(chunk) {
			meta.Variables = append(meta.Variables, r.ID)
		}
		out = append(out, meta)
	}
	return out
}

// ParseLastState decodes the last-state column into ordered key/value
// pairs. Anything that is not a JSON object (arrays, primitives, bad
// JSON, blank input) yields an empty result, silently. Document key
// order is preserved via token-level decoding; values are stringified
// unconditionally.
func ParseLastState(raw string) []KeyValue {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}
	var out []KeyValue
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil
		}
		out = append(out, KeyValue{Key: key, Value: stringifyValue(value)})
	}
	return out
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// stringifyRaw renders a raw JSON value the way the last-state values
// are rendered: strings lose their quotes, everything else keeps its
// literal JSON form.
func stringifyRaw(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return trimmed
}
