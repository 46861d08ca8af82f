package events

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	errMissingIDProvider = errors.New("events: id provider is required")
	errMissingEventType  = errors.New("events: event type is required")
)

// IDProvider issues unique event identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// RecorderConfig describes the dependencies of a Recorder.
type RecorderConfig struct {
	Clock      func() time.Time
	IDProvider IDProvider
	Dispatcher *Dispatcher
}

// Recorder appends events to the engine_events log inside the caller's
// transaction and publishes them to live subscribers once the caller has
// committed. The two steps are split so an aborted transaction never leaks
// an event to a subscriber.
type Recorder struct {
	clock      func() time.Time
	idProvider IDProvider
	dispatcher *Dispatcher
}

// NewRecorder constructs a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{
		clock:      clock,
		idProvider: cfg.IDProvider,
		dispatcher: cfg.Dispatcher,
	}, nil
}

// Append writes one event row using the provided transaction handle and
// returns the stored record.
func (r *Recorder) Append(tx *gorm.DB, eventType string, attributes map[string]string) (Event, error) {
	if eventType == "" {
		return Event{}, errMissingEventType
	}
	encoded, err := encodeAttributes(attributes)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode attributes: %w", err)
	}
	eventID, err := r.idProvider.NewID()
	if err != nil {
		return Event{}, fmt.Errorf("events: allocate id: %w", err)
	}
	record := Event{
		EventID:            eventID,
		Type:               eventType,
		AttributesJSON:     encoded,
		CommittedAtSeconds: r.clock().UTC().Unix(),
	}
	if err := tx.Create(&record).Error; err != nil {
		return Event{}, err
	}
	return record, nil
}

// Publish fans committed events out to subscribers. Safe to call with zero
// events and with a nil dispatcher.
func (r *Recorder) Publish(committed ...Event) {
	if r.dispatcher == nil {
		return
	}
	for _, event := range committed {
		r.dispatcher.Publish(event)
	}
}
