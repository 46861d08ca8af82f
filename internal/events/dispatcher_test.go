package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestDispatcherFansOutToAllSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx := context.Background()

	first, cancelFirst := dispatcher.Subscribe(ctx)
	defer cancelFirst()
	second, cancelSecond := dispatcher.Subscribe(ctx)
	defer cancelSecond()

	dispatcher.Publish(Event{EventID: "e-1", Type: "proposal.created"})

	for name, stream := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case event := <-stream:
			if event.EventID != "e-1" {
				t.Fatalf("%s subscriber: unexpected event %+v", name, event)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber never received the event", name)
		}
	}
}

func TestDispatcherDropsEventsForSlowSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cancel := dispatcher.Subscribe(context.Background())
	defer cancel()

	// Overfill the buffer without draining; the excess must be dropped, not
	// block the publisher.
	for index := 0; index < 40; index++ {
		dispatcher.Publish(Event{EventID: fmt.Sprintf("e-%d", index), Type: "proposal.joined"})
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
		default:
			if received == 0 || received > 16 {
				t.Fatalf("expected between 1 and 16 buffered events, got %d", received)
			}
			return
		}
	}
}

func TestDispatcherUnsubscribesOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	stream, _ := dispatcher.Subscribe(ctx)
	cancel()

	// The unregistration runs in a goroutine; give it a moment.
	deadline := time.Now().Add(time.Second)
	for {
		dispatcher.Publish(Event{EventID: "late", Type: "proposal.voted"})
		select {
		case <-stream:
			if time.Now().After(deadline) {
				t.Fatal("subscriber still attached after context cancel")
			}
			time.Sleep(10 * time.Millisecond)
		default:
			return
		}
	}
}

func TestRecorderAppendsWithinTransaction(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Event{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	recorder, err := NewRecorder(RecorderConfig{
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		event, err := recorder.Append(tx, "proposal.created", map[string]string{"proposer": "alice"})
		if err != nil {
			return err
		}
		if event.EventID == "" {
			t.Fatal("expected a generated event id")
		}
		if event.CommittedAtSeconds != 1700000000 {
			t.Fatalf("expected clocked timestamp, got %d", event.CommittedAtSeconds)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	var stored Event
	if err := db.Take(&stored).Error; err != nil {
		t.Fatalf("failed to load event: %v", err)
	}
	if stored.Type != "proposal.created" {
		t.Fatalf("unexpected type %s", stored.Type)
	}
	if attrs := stored.Attributes(); attrs["proposer"] != "alice" {
		t.Fatalf("unexpected attributes %v", attrs)
	}

	// An aborted transaction leaves no event behind.
	sentinel := fmt.Errorf("rollback")
	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := recorder.Append(tx, "proposal.joined", nil); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected sentinel rollback error, got %v", err)
	}
	var count int64
	if err := db.Model(&Event{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to discard the event, got %d rows", count)
	}
}

func TestRecorderRejectsEmptyEventType(t *testing.T) {
	recorder, err := NewRecorder(RecorderConfig{IDProvider: NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}
	if _, err := recorder.Append(nil, "", nil); err == nil {
		t.Fatal("expected empty event type to be rejected")
	}
}
