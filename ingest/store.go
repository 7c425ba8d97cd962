package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Store is the narrow persistence seam the merge engine works against.
// A failing store call is fatal to the import; partial-commit handling
// is the store's own responsibility.
type Store interface {
	WorkspaceStats(workspaceID string) (Stats, error)
	ProcessPersonBooklets(persons []*Person, workspaceID string, mode OverwriteMode, scope Scope, issues *Issues) error
	ProcessPersonLogs(persons []*Person, workspaceID string, overwrite bool) (LogSaveResult, error)
}

// LogSaveResult reports what a log persistence call actually did.
type LogSaveResult struct {
	TotalBooklets    int `json:"totalBooklets"`
	TotalLogsSaved   int `json:"totalLogsSaved"`
	TotalLogsSkipped int `json:"totalLogsSkipped"`
}

// GormStore is the sqlite-backed Store.
type GormStore struct {
	db *gorm.DB
}

func OpenStore(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.AutoMigrate(
		&PersonRecord{}, &BookletRecord{}, &UnitRecord{}, &ResponseRecord{},
		&BookletLogRecord{}, &UnitLogRecord{}, &SessionRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) WorkspaceStats(workspaceID string) (Stats, error) {
	var persons, groups, booklets, units, responses int64
	if err := s.db.Model(&PersonRecord{}).Where("workspace_id = ?", workspaceID).Count(&persons).Error; err != nil {
		return Stats{}, err
	}
	if err := s.db.Model(&PersonRecord{}).Where("workspace_id = ?", workspaceID).Distinct("group_name").Count(&groups).Error; err != nil {
		return Stats{}, err
	}
	if err := s.db.Model(&BookletRecord{}).
		Joins("JOIN person_records ON person_records.id = booklet_records.person_id").
		Where("person_records.workspace_id = ?", workspaceID).Count(&booklets).Error; err != nil {
		return Stats{}, err
	}
	if err := s.db.Model(&UnitRecord{}).
		Joins("JOIN booklet_records ON booklet_records.id = unit_records.booklet_id").
		Joins("JOIN person_records ON person_records.id = booklet_records.person_id").
		Where("person_records.workspace_id = ?", workspaceID).Count(&units).Error; err != nil {
		return Stats{}, err
	}
	if err := s.db.Model(&ResponseRecord{}).
		Joins("JOIN unit_records ON unit_records.id = response_records.unit_id").
		Joins("JOIN booklet_records ON booklet_records.id = unit_records.booklet_id").
		Joins("JOIN person_records ON person_records.id = booklet_records.person_id").
		Where("person_records.workspace_id = ?", workspaceID).Count(&responses).Error; err != nil {
		return Stats{}, err
	}
	return Stats{
		TestPersons: int(persons),
		TestGroups:  int(groups),
		Booklets:    int(booklets),
		Units:       int(units),
		Responses:   int(responses),
	}, nil
}

func (s *GormStore) findOrCreatePerson(tx *gorm.DB, workspaceID string, p *Person) (PersonRecord, error) {
	var rec PersonRecord
	err := tx.Where("workspace_id = ? AND group_name = ? AND login_name = ? AND code = ?",
		workspaceID, p.Group, p.Login, p.Code).First(&rec).Error
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, err
	}
	rec = PersonRecord{
		WorkspaceID: workspaceID,
		GroupName:   p.Group,
		LoginName:   p.Login,
		Code:        p.Code,
	}
	return rec, tx.Create(&rec).Error
}

func (s *GormStore) findOrCreateBooklet(tx *gorm.DB, personID uint, name string) (BookletRecord, bool, error) {
	var rec BookletRecord
	err := tx.Where("person_id = ? AND name = ?", personID, name).First(&rec).Error
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, false, err
	}
	rec = BookletRecord{PersonID: personID, Name: name}
	return rec, false, tx.Create(&rec).Error
}

// ProcessPersonBooklets merges the built person trees into the store
// under the requested overwrite mode. Skip leaves already-persisted
// booklets untouched, merge replaces matching units and keeps the rest,
// replace drops the persisted booklet subtree first.
func (s *GormStore) ProcessPersonBooklets(persons []*Person, workspaceID string, mode OverwriteMode, scope Scope, issues *Issues) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, person := range persons {
			personRec, err := s.findOrCreatePerson(tx, workspaceID, person)
			if err != nil {
				return err
			}
			for _, booklet := range person.Booklets {
				bookletRec, existed, err := s.findOrCreateBooklet(tx, personRec.ID, booklet.ID)
				if err != nil {
					return err
				}
				if existed {
					switch mode {
					case ModeSkip:
						continue
					case ModeReplace:
						if err := deleteBookletUnits(tx, bookletRec.ID); err != nil {
							return err
						}
					case ModeMerge:
						for _, unit := range booklet.Units {
							if err := deleteUnitsByName(tx, bookletRec.ID, unit.ID); err != nil {
								return err
							}
						}
					}
				}
				for _, unit := range booklet.Units {
					if err := insertUnit(tx, bookletRec.ID, unit); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

func deleteBookletUnits(tx *gorm.DB, bookletID uint) error {
	var unitIDs []uint
	if err := tx.Model(&UnitRecord{}).Where("booklet_id = ?", bookletID).Pluck("id", &unitIDs).Error; err != nil {
		return err
	}
	if len(unitIDs) > 0 {
		if err := tx.Where("unit_id IN ?", unitIDs).Delete(&ResponseRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("unit_id IN ?", unitIDs).Delete(&UnitLogRecord{}).Error; err != nil {
			return err
		}
	}
	return tx.Where("booklet_id = ?", bookletID).Delete(&UnitRecord{}).Error
}

func deleteUnitsByName(tx *gorm.DB, bookletID uint, name string) error {
	var unitIDs []uint
	if err := tx.Model(&UnitRecord{}).Where("booklet_id = ? AND name = ?", bookletID, name).Pluck("id", &unitIDs).Error; err != nil {
		return err
	}
	if len(unitIDs) == 0 {
		return nil
	}
	if err := tx.Where("unit_id IN ?", unitIDs).Delete(&ResponseRecord{}).Error; err != nil {
		return err
	}
	if err := tx.Where("unit_id IN ?", unitIDs).Delete(&UnitLogRecord{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", unitIDs).Delete(&UnitRecord{}).Error
}

func insertUnit(tx *gorm.DB, bookletID uint, unit *Unit) error {
	lastState := ""
	if len(unit.LastState) > 0 {
		b, err := json.Marshal(unit.LastState)
		if err != nil {
			return err
		}
		lastState = string(b)
	}
	unitRec := UnitRecord{
		BookletID:     bookletID,
		Name:          unit.ID,
		Alias:         unit.Alias,
		LastStateJSON: lastState,
	}
	if err := tx.Create(&unitRec).Error; err != nil {
		return err
	}
	for _, sf := range unit.Subforms {
		for _, r := range sf.Responses {
			rec := ResponseRecord{
				UnitID:     unitRec.ID,
				SubForm:    sf.ID,
				VariableID: r.ID,
				Value:      r.Value,
				Status:     r.Status,
				Code:       r.Code,
				TS:         r.TS,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessPersonLogs upserts booklet logs, sessions and unit logs. With
// overwrite=false an entity that already carries logs keeps them and the
// incoming ones are counted as skipped; with overwrite=true the existing
// logs are replaced.
func (s *GormStore) ProcessPersonLogs(persons []*Person, workspaceID string, overwrite bool) (LogSaveResult, error) {
	var result LogSaveResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, person := range persons {
			personRec, err := s.findOrCreatePerson(tx, workspaceID, person)
			if err != nil {
				return err
			}
			for _, booklet := range person.Booklets {
				bookletRec, _, err := s.findOrCreateBooklet(tx, personRec.ID, booklet.ID)
				if err != nil {
					return err
				}
				result.TotalBooklets++

				saved, skipped, err := saveBookletLogs(tx, bookletRec.ID, booklet, overwrite)
				if err != nil {
					return err
				}
				result.TotalLogsSaved += saved
				result.TotalLogsSkipped += skipped

				for _, unit := range booklet.Units {
					if len(unit.Logs) == 0 {
						continue
					}
					unitRec, err := findOrCreateUnit(tx, bookletRec.ID, unit)
					if err != nil {
						return err
					}
					saved, skipped, err := saveUnitLogs(tx, unitRec.ID, unit, overwrite)
					if err != nil {
						return err
					}
					result.TotalLogsSaved += saved
					result.TotalLogsSkipped += skipped
				}
			}
		}
		return nil
	})
	if err != nil {
		return LogSaveResult{}, err
	}
	return result, nil
}

func saveBookletLogs(tx *gorm.DB, bookletID uint, booklet *Booklet, overwrite bool) (saved, skipped int, err error) {
	var existing int64
	if err := tx.Model(&BookletLogRecord{}).Where("booklet_id = ?", bookletID).Count(&existing).Error; err != nil {
		return 0, 0, err
	}
	if existing > 0 && !overwrite {
		return 0, len(booklet.Logs), nil
	}
	if existing > 0 {
		if err := tx.Where("booklet_id = ?", bookletID).Delete(&BookletLogRecord{}).Error; err != nil {
			return 0, 0, err
		}
		if err := tx.Where("booklet_id = ?", bookletID).Delete(&SessionRecord{}).Error; err != nil {
			return 0, 0, err
		}
	}
	for _, entry := range booklet.Logs {
		rec := BookletLogRecord{BookletID: bookletID, TS: entry.TS, Key: entry.Key, Parameter: entry.Parameter}
		if err := tx.Create(&rec).Error; err != nil {
			return 0, 0, err
		}
		saved++
	}
	for _, session := range booklet.Sessions {
		rec := SessionRecord{
			BookletID:      bookletID,
			Browser:        session.Browser,
			OS:             session.OS,
			Screen:         session.Screen,
			TS:             session.TS,
			LoadCompleteMS: session.LoadCompleteMS,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return 0, 0, err
		}
	}
	return saved, 0, nil
}

func findOrCreateUnit(tx *gorm.DB, bookletID uint, unit *Unit) (UnitRecord, error) {
	var rec UnitRecord
	err := tx.Where("booklet_id = ? AND name = ?", bookletID, unit.ID).First(&rec).Error
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, err
	}
	rec = UnitRecord{BookletID: bookletID, Name: unit.ID, Alias: unit.Alias}
	return rec, tx.Create(&rec).Error
}

func saveUnitLogs(tx *gorm.DB, unitID uint, unit *Unit, overwrite bool) (saved, skipped int, err error) {
	var existing int64
	if err := tx.Model(&UnitLogRecord{}).Where("unit_id = ?", unitID).Count(&existing).Error; err != nil {
		return 0, 0, err
	}
	if existing > 0 && !overwrite {
		return 0, len(unit.Logs), nil
	}
	if existing > 0 {
		if err := tx.Where("unit_id = ?", unitID).Delete(&UnitLogRecord{}).Error; err != nil {
			return 0, 0, err
		}
	}
	for _, entry := range unit.Logs {
		rec := UnitLogRecord{UnitID: unitID, TS: entry.TS, Key: entry.Key, Parameter: entry.Parameter}
		if err := tx.Create(&rec).Error; err != nil {
			return 0, 0, err
		}
		saved++
	}
	return saved, 0, nil
}

// LogCoverageStats recomputes coverage from persisted data: how many
// booklets and units carry at least one log.
func (s *GormStore) LogCoverageStats(workspaceID string) (*LogMetrics, error) {
	var totalBooklets, bookletsWithLogs, totalUnits, unitsWithLogs int64
	if err := s.db.Model(&BookletRecord{}).
		Joins("JOIN person_records ON person_records.id = booklet_records.person_id").
		Where("person_records.workspace_id = ?", workspaceID).Count(&totalBooklets).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&BookletRecord{}).
		Joins("JOIN person_records ON person_records.id = booklet_records.person_id").
		Where("person_records.workspace_id = ?", workspaceID).
		Where("EXISTS (SELECT 1 FROM booklet_log_records WHERE booklet_log_records.booklet_id = booklet_records.id)").
		Count(&bookletsWithLogs).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&UnitRecord{}).
		Joins("JOIN booklet_records ON booklet_records.id = unit_records.booklet_id").
		Joins("JOIN person_records ON person_records.id = booklet_records.person_id").
		Where("person_records.workspace_id = ?", workspaceID).Count(&totalUnits).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&UnitRecord{}).
		Joins("JOIN booklet_records ON booklet_records.id = unit_records.booklet_id").
		Joins("JOIN person_records ON person_records.id = booklet_records.person_id").
		Where("person_records.workspace_id = ?", workspaceID).
		Where("EXISTS (SELECT 1 FROM unit_log_records WHERE unit_log_records.unit_id = unit_records.id)").
		Count(&unitsWithLogs).Error; err != nil {
		return nil, err
	}
	m := &LogMetrics{
		TotalBooklets:    int(totalBooklets),
		BookletsWithLogs: int(bookletsWithLogs),
		TotalUnits:       int(totalUnits),
		UnitsWithLogs:    int(unitsWithLogs),
	}
	if m.TotalBooklets > 0 {
		m.BookletsRatio = float64(m.BookletsWithLogs) / float64(m.TotalBooklets)
	}
	if m.TotalUnits > 0 {
		m.UnitsRatio = float64(m.UnitsWithLogs) / float64(m.TotalUnits)
	}
	return m, nil
}
