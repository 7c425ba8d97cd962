package ingest

import (
	"strconv"
	"strings"
)

// ParseLogEntry splits one raw log line into key and value. The line is
// split on the first ':' when present, else on the first '='. One layer
// of surrounding double quotes is stripped from key and value
// independently; a quoted value additionally gets \" and \\ unescaped
// (in that order) so JSON-as-string values round-trip. Returns ok=false
// for an empty line or a line with no separator; callers must report
// that as a warning issue, not drop it silently.
func ParseLogEntry(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", "", false
	}
	sep := strings.Index(trimmed, ":")
	if sep < 0 {
		sep = strings.Index(trimmed, "=")
	}
	if sep < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(trimmed[:sep])
	value = strings.TrimSpace(trimmed[sep+1:])

	key, _ = stripOuterQuotes(key)
	var wasQuoted bool
	value, wasQuoted = stripOuterQuotes(value)
	if wasQuoted {
		value = strings.ReplaceAll(value, `\"`, `"`)
		value = strings.ReplaceAll(value, `\\`, `\`)
	}
	return key, value, true
}

func stripOuterQuotes(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], true
	}
	return s, false
}

// ParseLoadCompleteLog parses the payload of a LOADCOMPLETE log entry.
// The value arrives with its outer braces; the content between them is
// split on commas (no bracket-depth tracking) and each key:value pair is
// cleaned of backslashes and quotes, with numeric coercion attempted on
// the value. Missing string fields default to "Unknown", missing numbers
// to 0. Returns ok=false when the payload has no brace-wrapped body.
func ParseLoadCompleteLog(value string) (Session, bool) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return Session{}, false
	}
	inner := trimmed[1 : len(trimmed)-1]

	fields := map[string]string{}
	for _, part := range strings.Split(inner, ",") {
		colon := strings.Index(part, ":")
		if colon < 0 {
			continue
		}
		k := cleanLoadCompleteToken(part[:colon])
		if k == "" {
			continue
		}
		fields[k] = cleanLoadCompleteToken(part[colon+1:])
	}

	str := func(name string) string {
		if v, ok := fields[name]; ok && v != "" {
			return v
		}
		return "Unknown"
	}
	num := func(name string) float64 {
		n, err := strconv.ParseFloat(fields[name], 64)
		if err != nil {
			return 0
		}
		return n
	}

	return Session{
		Browser:        str("browserName") + " " + str("browserVersion"),
		OS:             str("osName"),
		Screen:         formatNumber(num("screenSizeWidth")) + " x " + formatNumber(num("screenSizeHeight")),
		LoadCompleteMS: int64(num("loadTime")),
	}, true
}

func cleanLoadCompleteToken(s string) string {
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.ReplaceAll(s, `"`, "")
	return strings.TrimSpace(s)
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
