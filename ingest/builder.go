package ingest

// CreatePersonList collapses rows to one Person per distinct
// (group, login, code) triple, first occurrence wins. Booklets are
// attached by the later assignment passes, not here.
func CreatePersonList(rows []ResponseRow, workspaceID string) []*Person {
	index := map[string]bool{}
	var out []*Person
	for _, row := range rows {
		key := row.GroupName + "-" + row.LoginName + "-" + row.Code
		if index[key] {
			continue
		}
		index[key] = true
		out = append(out, &Person{
			WorkspaceID: workspaceID,
			Group:       row.GroupName,
			Login:       row.LoginName,
			Code:        row.Code,
		})
	}
	return out
}

// CreatePersonListFromLogs is the log-import counterpart of
// CreatePersonList.
func CreatePersonListFromLogs(rows []LogRow, workspaceID string) []*Person {
	index := map[string]bool{}
	var out []*Person
	for _, row := range rows {
		key := row.GroupName + "-" + row.LoginName + "-" + row.Code
		if index[key] {
			continue
		}
		index[key] = true
		out = append(out, &Person{
			WorkspaceID: workspaceID,
			Group:       row.GroupName,
			Login:       row.LoginName,
			Code:        row.Code,
		})
	}
	return out
}

// AssignBookletsToPerson attaches one booklet per distinct booklet name
// found in the person's rows. An empty booklet name yields a warning
// issue and no booklet. The person's booklet list is replaced wholesale;
// callers must sequence this against the other assignment passes.
func AssignBookletsToPerson(person *Person, rows []ResponseRow, issues *Issues, fileName string) {
	seen := map[string]bool{}
	var booklets []*Booklet
	for i, row := range rows {
		if !row.matchesPerson(person) {
			continue
		}
		if row.BookletName == "" {
			issues.Warnf(fileName, i, "row for person %q has an empty bookletname; row skipped", person.Key())
			continue
		}
		if seen[row.BookletName] {
			continue
		}
		seen[row.BookletName] = true
		booklets = append(booklets, &Booklet{ID: row.BookletName})
	}
	person.Booklets = booklets
}

// AssignUnitsToBookletAndPerson parses each matching row's responses and
// last state and appends a new unit to the referenced booklet. Rows
// referencing a booklet that is not already attached are skipped
// silently. Units are appended without id dedup here; only the log
// import path merges units by id.
func AssignUnitsToBookletAndPerson(person *Person, rows []ResponseRow, issues *Issues) {
	for _, row := range rows {
		if !row.matchesPerson(person) {
			continue
		}
		booklet := person.findBooklet(row.BookletName)
		if booklet == nil {
			continue
		}
		chunks := ParseResponses(row.Responses.String())
		unit := &Unit{
			ID:        row.UnitName,
			Alias:     row.UnitName,
			LastState: ParseLastState(row.LastState.String()),
			Subforms:  ExtractSubforms(chunks),
			Chunks:    ChunkSummaries(chunks),
		}
		booklet.Units = append(booklet.Units, unit)
	}
}

// AssignBookletLogsToPerson builds the person's booklets from booklet-level
// log rows (unit name empty). Booklets are created on demand and deduped
// by id; the person's booklet list is replaced at the end, so this is the
// second destructive assignment a caller must order correctly.
// LOADCOMPLETE entries become sessions and are never added to the plain
// log list; every other parsed entry becomes a LogEntry.
func AssignBookletLogsToPerson(person *Person, rows []LogRow, issues *Issues, fileName string) {
	index := map[string]*Booklet{}
	var order []*Booklet
	get := func(id string) *Booklet {
		if b, ok := index[id]; ok {
			return b
		}
		b := &Booklet{ID: id}
		index[id] = b
		order = append(order, b)
		return b
	}

	for i, row := range rows {
		if !row.matchesPerson(person) || row.UnitName != "" {
			continue
		}
		if row.BookletName == "" {
			issues.Warnf(fileName, i, "log row for person %q has an empty bookletname; row skipped", person.Key())
			continue
		}
		key, value, ok := ParseLogEntry(row.LogEntry)
		if !ok {
			issues.Warnf(fileName, i, "unparseable log entry %q; expected KEY:VALUE or KEY=VALUE", row.LogEntry)
			continue
		}
		if key == "" {
			key = UnknownKey
		}
		booklet := get(row.BookletName)
		if key == "LOADCOMPLETE" {
			session, ok := ParseLoadCompleteLog(value)
			if !ok {
				issues.Warnf(fileName, i, "invalid LOADCOMPLETE payload %q", value)
				continue
			}
			session.TS = row.Timestamp.String()
			booklet.Sessions = append(booklet.Sessions, session)
			continue
		}
		booklet.Logs = append(booklet.Logs, LogEntry{
			TS:        row.Timestamp.String(),
			Key:       key,
			Parameter: value,
		})
	}
	person.Booklets = order
}

// AssignUnitLogsToBooklet merges unit-level log rows into the booklet.
// Unlike the response path, unit identity is respected here: a repeated
// unit name updates the existing unit, and prior units keep their logs.
func AssignUnitLogsToBooklet(booklet *Booklet, rows []LogRow, issues *Issues, fileName string) {
	index := map[string]*Unit{}
	var order []*Unit
	for _, u := range booklet.Units {
		if _, ok := index[u.ID]; ok {
			continue
		}
		index[u.ID] = u
		order = append(order, u)
	}

	for i, row := range rows {
		if row.BookletName != booklet.ID || row.UnitName == "" {
			continue
		}
		key, value, ok := ParseLogEntry(row.LogEntry)
		if !ok {
			issues.Warnf(fileName, i, "unparseable log entry %q; expected KEY:VALUE or KEY=VALUE", row.LogEntry)
			continue
		}
		if key == "" {
			key = UnknownKey
		}
		unit, exists := index[row.UnitName]
		if !exists {
			unit = &Unit{ID: row.UnitName, Alias: row.UnitName}
			index[row.UnitName] = unit
			order = append(order, unit)
		}
		unit.Logs = append(unit.Logs, LogEntry{
			TS:        row.Timestamp.String(),
			Key:       key,
			Parameter: value,
		})
	}
	booklet.Units = order
}

// NormalizeResponseStatuses walks every response under the person,
// substitutes StatusInvalid for blank statuses (one warning issue each,
// category missing_status), derives numeric codes via the supplied
// mapper, and returns per-status counts.
func NormalizeResponseStatuses(person *Person, statusCode StatusCodeFunc, issues *Issues, fileName string) map[string]int {
	if statusCode == nil {
		statusCode = DefaultStatusCode
	}
	counts := map[string]int{}
	for _, booklet := range person.Booklets {
		for _, unit := range booklet.Units {
			for si := range unit.Subforms {
				for ri := range unit.Subforms[si].Responses {
					resp := &unit.Subforms[si].Responses[ri]
					if resp.Status == "" {
						resp.Status = StatusInvalid
						issues.WarnCategory("missing_status", fileName, 0,
							"response %q in unit %q of booklet %q has no status; defaulting to %s",
							resp.ID, unit.ID, booklet.ID, StatusInvalid)
					}
					resp.Code = statusCode(resp.Status)
					counts[resp.Status]++
				}
			}
		}
	}
	return counts
}
