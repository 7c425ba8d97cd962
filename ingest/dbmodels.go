package ingest

import "time"

type PersonRecord struct {
	ID          uint   `gorm:"primaryKey"`
	WorkspaceID string `gorm:"uniqueIndex:uniq_person;size:64"`
	GroupName   string `gorm:"uniqueIndex:uniq_person;size:255"`
	LoginName   string `gorm:"uniqueIndex:uniq_person;size:255"`
	Code        string `gorm:"uniqueIndex:uniq_person;size:255"`
	CreatedAt   time.Time
}

type BookletRecord struct {
	ID       uint   `gorm:"primaryKey"`
	PersonID uint   `gorm:"uniqueIndex:uniq_booklet"`
	Name     string `gorm:"uniqueIndex:uniq_booklet;size:255"`
}

type UnitRecord struct {
	ID        uint   `gorm:"primaryKey"`
	BookletID uint   `gorm:"index"`
	Name      string `gorm:"index;size:255"`
	Alias     string `gorm:"size:255"`
	// LastStateJSON is the ordered key/value list, JSON encoded.
	LastStateJSON string `gorm:"type:text"`
}

type ResponseRecord struct {
	ID         uint   `gorm:"primaryKey"`
	UnitID     uint   `gorm:"index"`
	SubForm    string `gorm:"size:255"`
	VariableID string `gorm:"index;size:255"`
	Value      string `gorm:"type:text"`
	Status     string `gorm:"size:64"`
	Code       int
	TS         int64
}

type BookletLogRecord struct {
	ID        uint   `gorm:"primaryKey"`
	BookletID uint   `gorm:"index"`
	TS        string `gorm:"size:64"`
	Key       string `gorm:"column:log_key;size:255"`
	Parameter string `gorm:"type:text"`
}

type UnitLogRecord struct {
	ID        uint   `gorm:"primaryKey"`
	UnitID    uint   `gorm:"index"`
	TS        string `gorm:"size:64"`
	Key       string `gorm:"column:log_key;size:255"`
	Parameter string `gorm:"type:text"`
}

type SessionRecord struct {
	ID             uint   `gorm:"primaryKey"`
	BookletID      uint   `gorm:"index"`
	Browser        string `gorm:"size:255"`
	OS             string `gorm:"size:255"`
	Screen         string `gorm:"size:64"`
	TS             string `gorm:"size:64"`
	LoadCompleteMS int64
}
