package eaters

import (
	"strings"
	"time"
)

// State enumerates the lifecycle of a registered eater. Identities are never
// deleted; the state is the only mutable field.
type State string

const (
	// StateUnknown is the implicit state of any identity never registered.
	StateUnknown State = "unknown"
	// StateRegistered marks an identity allowed to propose and vote.
	StateRegistered State = "registered"
	// StateSuspended marks an identity whose participation is on hold.
	StateSuspended State = "suspended"
)

// Eater captures the registry record for one participant identity.
type Eater struct {
	Address   string    `gorm:"column:address;primaryKey;size:190;not null"`
	State     State     `gorm:"column:state;size:16;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing the eater registry.
func (Eater) TableName() string {
	return "eaters"
}

func normalizeAddress(value string) string {
	return strings.TrimSpace(value)
}
