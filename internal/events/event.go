package events

import "encoding/json"

// Event is one committed engine event. Rows are append-only and ordered by
// the autoincrement sequence, which follows commit order.
type Event struct {
	Seq                uint64 `gorm:"column:seq;primaryKey;autoIncrement"`
	EventID            string `gorm:"column:event_id;size:190;not null;uniqueIndex"`
	Type               string `gorm:"column:event_type;size:64;not null;index"`
	AttributesJSON     string `gorm:"column:attributes_json;type:text;not null"`
	CommittedAtSeconds int64  `gorm:"column:committed_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "engine_events"
}

// Attributes decodes the stored attribute map. A malformed payload yields an
// empty map rather than an error; the log is written by this process only.
func (e Event) Attributes() map[string]string {
	attrs := map[string]string{}
	if e.AttributesJSON == "" {
		return attrs
	}
	_ = json.Unmarshal([]byte(e.AttributesJSON), &attrs)
	return attrs
}

func encodeAttributes(attributes map[string]string) (string, error) {
	if len(attributes) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
