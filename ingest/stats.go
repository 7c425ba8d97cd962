package ingest

import "sort"

// Stats are the five aggregate counters reported around an import.
type Stats struct {
	TestPersons int `json:"testPersons"`
	TestGroups  int `json:"testGroups"`
	Booklets    int `json:"booklets"`
	Units       int `json:"units"`
	Responses   int `json:"responses"`
}

// Delta returns after minus before, field-wise. Counters can go negative
// when an overwrite shrinks the persisted data.
func Delta(before, after Stats) Stats {
	return Stats{
		TestPersons: after.TestPersons - before.TestPersons,
		TestGroups:  after.TestGroups - before.TestGroups,
		Booklets:    after.Booklets - before.Booklets,
		Units:       after.Units - before.Units,
		Responses:   after.Responses - before.Responses,
	}
}

// expectedSets collect distinct identities from the raw rows during
// ingestion, purely for statistics. Unit identity deliberately excludes
// originalUnitId: for counting, a unit is its unitname.
type expectedSets struct {
	persons   map[string]bool
	groups    map[string]bool
	booklets  map[string]bool
	units     map[string]bool
	responses map[string]bool
}

func newExpectedSets() *expectedSets {
	return &expectedSets{
		persons:   map[string]bool{},
		groups:    map[string]bool{},
		booklets:  map[string]bool{},
		units:     map[string]bool{},
		responses: map[string]bool{},
	}
}

func (e *expectedSets) addResponseRow(row ResponseRow, variableIDs []string) {
	personKey := row.GroupName + "-" + row.LoginName + "-" + row.Code
	e.persons[personKey] = true
	e.groups[row.GroupName] = true
	if row.BookletName == "" {
		return
	}
	bookletKey := personKey + "-" + row.BookletName
	e.booklets[bookletKey] = true
	if row.UnitName == "" {
		return
	}
	unitKey := bookletKey + "-" + row.UnitName
	e.units[unitKey] = true
	for _, id := range variableIDs {
		e.responses[unitKey+"-"+id] = true
	}
}

func (e *expectedSets) addLogRow(row LogRow) {
	personKey := row.GroupName + "-" + row.LoginName + "-" + row.Code
	e.persons[personKey] = true
	e.groups[row.GroupName] = true
	if row.BookletName != "" {
		e.booklets[personKey+"-"+row.BookletName] = true
		if row.UnitName != "" {
			e.units[personKey+"-"+row.BookletName+"-"+row.UnitName] = true
		}
	}
}

func (e *expectedSets) stats() Stats {
	return Stats{
		TestPersons: len(e.persons),
		TestGroups:  len(e.groups),
		Booklets:    len(e.booklets),
		Units:       len(e.units),
		Responses:   len(e.responses),
	}
}

const unitKeySep = "@@@"

// coverageSets track which booklets and units received at least one log.
type coverageSets struct {
	allBooklets      map[string]bool
	bookletsWithLogs map[string]bool
	allUnits         map[string]bool
	unitsWithLogs    map[string]bool
}

func newCoverageSets() *coverageSets {
	return &coverageSets{
		allBooklets:      map[string]bool{},
		bookletsWithLogs: map[string]bool{},
		allUnits:         map[string]bool{},
		unitsWithLogs:    map[string]bool{},
	}
}

func (c *coverageSets) addLogRow(row LogRow) {
	if row.BookletName == "" {
		return
	}
	c.allBooklets[row.BookletName] = true
	if row.UnitName != "" {
		c.allUnits[row.BookletName+unitKeySep+row.UnitName] = true
	}
}

func (c *coverageSets) markBooklet(booklet string) {
	c.bookletsWithLogs[booklet] = true
}

func (c *coverageSets) markUnit(booklet, unit string) {
	c.unitsWithLogs[booklet+unitKeySep+unit] = true
}

// CoverageDetail is one per-entity row for UI drill-down.
type CoverageDetail struct {
	ID      string `json:"id"`
	HasLogs bool   `json:"hasLogs"`
}

// LogMetrics reports log coverage ratios for a logs import.
type LogMetrics struct {
	TotalBooklets    int              `json:"totalBooklets"`
	BookletsWithLogs int              `json:"bookletsWithLogs"`
	BookletsRatio    float64          `json:"bookletsRatio"`
	TotalUnits       int              `json:"totalUnits"`
	UnitsWithLogs    int              `json:"unitsWithLogs"`
	UnitsRatio       float64          `json:"unitsRatio"`
	BookletDetails   []CoverageDetail `json:"bookletDetails,omitempty"`
	UnitDetails      []CoverageDetail `json:"unitDetails,omitempty"`
}

func (c *coverageSets) metrics() *LogMetrics {
	m := &LogMetrics{
		TotalBooklets:    len(c.allBooklets),
		BookletsWithLogs: len(c.bookletsWithLogs),
		TotalUnits:       len(c.allUnits),
		UnitsWithLogs:    len(c.unitsWithLogs),
	}
	if m.TotalBooklets > 0 {
		m.BookletsRatio = float64(m.BookletsWithLogs) / float64(m.TotalBooklets)
	}
	if m.TotalUnits > 0 {
		m.UnitsRatio = float64(m.UnitsWithLogs) / float64(m.TotalUnits)
	}
	m.BookletDetails = coverageDetails(c.allBooklets, c.bookletsWithLogs)
	m.UnitDetails = coverageDetails(c.allUnits, c.unitsWithLogs)
	return m
}

func coverageDetails(all, withLogs map[string]bool) []CoverageDetail {
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]CoverageDetail, 0, len(keys))
	for _, k := range keys {
		out = append(out, CoverageDetail{ID: k, HasLogs: withLogs[k]})
	}
	return out
}
