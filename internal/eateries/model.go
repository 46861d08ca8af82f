package eateries

import "time"

// Eatery is one candidate destination. Records are append-only: ids are
// assigned sequentially starting at 0 and neither name nor distance ever
// changes once stored.
type Eatery struct {
	ID        uint64    `gorm:"column:eatery_id;primaryKey;autoIncrement:false"`
	Name      string    `gorm:"column:name;size:190;not null"`
	Distance  int64     `gorm:"column:distance;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing the eatery catalog.
func (Eatery) TableName() string {
	return "eateries"
}

// Details is the read model returned for catalog lookups.
type Details struct {
	ID       uint64
	Name     string
	Distance int64
}
