package ingest

// Scope is the granularity at which an overwrite is applied.
type Scope string

const (
	ScopePerson    Scope = "person"
	ScopeWorkspace Scope = "workspace"
	ScopeGroup     Scope = "group"
	ScopeBooklet   Scope = "booklet"
	ScopeUnit      Scope = "unit"
	ScopeResponse  Scope = "response"
)

// OverwriteMode is the reconciliation policy against persisted data.
type OverwriteMode string

const (
	ModeSkip    OverwriteMode = "skip"
	ModeMerge   OverwriteMode = "merge"
	ModeReplace OverwriteMode = "replace"
)

// ScopeFilters narrow the imported tree before persistence. Which fields
// are required depends on the scope; a missing required field yields an
// empty result for that scope rather than an error.
type ScopeFilters struct {
	Group    string
	Booklet  string
	Unit     string
	Variable string
}

// FilterImportedPersons narrows persons to the requested scope so the
// persistence merge cannot touch unrelated data. Person and workspace
// scopes pass through unfiltered; the distinction only matters to the
// downstream merge mode. The function is pure and total: it never
// mutates its input and never fails.
func FilterImportedPersons(persons []*Person, scope Scope, filters ScopeFilters) []*Person {
	switch scope {
	case ScopeGroup:
		if filters.Group == "" {
			return nil
		}
		var out []*Person
		for _, p := range persons {
			if p.Group == filters.Group {
				out = append(out, p)
			}
		}
		return out
	case ScopeBooklet, ScopeUnit, ScopeResponse:
		if filters.Booklet == "" {
			return nil
		}
		if (scope == ScopeUnit || scope == ScopeResponse) && filters.Unit == "" {
			return nil
		}
		if scope == ScopeResponse && filters.Variable == "" {
			return nil
		}
		var out []*Person
		for _, p := range persons {
			if narrowed := narrowPerson(p, scope, filters); narrowed != nil {
				out = append(out, narrowed)
			}
		}
		return out
	default:
		return persons
	}
}

func narrowPerson(p *Person, scope Scope, filters ScopeFilters) *Person {
	var booklets []*Booklet
	for _, b := range p.Booklets {
		if b.ID != filters.Booklet {
			continue
		}
		narrowed := narrowBooklet(b, scope, filters)
		if narrowed != nil {
			booklets = append(booklets, narrowed)
		}
	}
	if len(booklets) == 0 {
		return nil
	}
	return &Person{
		WorkspaceID: p.WorkspaceID,
		Group:       p.Group,
		Login:       p.Login,
		Code:        p.Code,
		Booklets:    booklets,
	}
}

func narrowBooklet(b *Booklet, scope Scope, filters ScopeFilters) *Booklet {
	if scope == ScopeBooklet {
		return b
	}
	var units []*Unit
	for _, u := range b.Units {
		if u.ID != filters.Unit && u.Alias != filters.Unit {
			continue
		}
		narrowed := narrowUnit(u, scope, filters)
		if narrowed != nil {
			units = append(units, narrowed)
		}
	}
	if len(units) == 0 {
		return nil
	}
	return &Booklet{
		ID:       b.ID,
		Logs:     b.Logs,
		Units:    units,
		Sessions: b.Sessions,
	}
}

func narrowUnit(u *Unit, scope Scope, filters ScopeFilters) *Unit {
	if scope == ScopeUnit {
		return u
	}
	var subforms []SubForm
	for _, sf := range u.Subforms {
		var responses []Response
		for _, r := range sf.Responses {
			if r.ID == filters.Variable {
				responses = append(responses, r)
			}
		}
		if len(responses) == 0 {
			continue
		}
		subforms = append(subforms, SubForm{ID: sf.ID, Responses: responses})
	}
	if len(subforms) == 0 {
		return nil
	}
	return &Unit{
		ID:        u.ID,
		Alias:     u.Alias,
		LastState: u.LastState,
		Subforms:  subforms,
		Chunks:    u.Chunks,
		Logs:      u.Logs,
	}
}
