package eaters

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/scarvalhojr/dlunch/internal/events"
)

const testOwner = "owner"

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Eater{}, &events.Event{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	recorder, err := events.NewRecorder(events.RecorderConfig{IDProvider: events.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build recorder: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Owner:    testOwner,
		Recorder: recorder,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db
}

func eventTypes(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var stored []events.Event
	if err := db.Order("seq ASC").Find(&stored).Error; err != nil {
		t.Fatalf("failed to load events: %v", err)
	}
	types := make([]string, 0, len(stored))
	for _, event := range stored {
		types = append(types, event.Type)
	}
	return types
}

func TestRegistryLifecycle(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	state, err := service.State(ctx, "alice")
	if err != nil || state != StateUnknown {
		t.Fatalf("expected unknown state for new identity, got %v %v", state, err)
	}

	state, err = service.Register(ctx, testOwner, "alice")
	if err != nil || state != StateRegistered {
		t.Fatalf("expected registered, got %v %v", state, err)
	}
	active, err := service.IsActive(ctx, "alice")
	if err != nil || !active {
		t.Fatalf("expected alice to be active, got %v %v", active, err)
	}

	state, err = service.Suspend(ctx, testOwner, "alice")
	if err != nil || state != StateSuspended {
		t.Fatalf("expected suspended, got %v %v", state, err)
	}
	active, err = service.IsActive(ctx, "alice")
	if err != nil || active {
		t.Fatalf("expected alice to be inactive while suspended, got %v %v", active, err)
	}

	state, err = service.Unsuspend(ctx, testOwner, "alice")
	if err != nil || state != StateRegistered {
		t.Fatalf("expected registered after unsuspend, got %v %v", state, err)
	}
}

// Registering a suspended identity must not lift the suspension.
func TestRegisterDoesNotUnsuspend(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := service.Suspend(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}

	state, err := service.Register(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	if state != StateSuspended {
		t.Fatalf("expected alice to stay suspended, got %v", state)
	}

	// The silent no-op emits nothing.
	types := eventTypes(t, db)
	expected := []string{EventTypeRegistered, EventTypeSuspended}
	if len(types) != len(expected) {
		t.Fatalf("expected %d events, got %v", len(expected), types)
	}
	for index, eventType := range expected {
		if types[index] != eventType {
			t.Fatalf("event %d: expected %s, got %s", index, eventType, types[index])
		}
	}
}

func TestUselessTransitionsAreSilentNoOps(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	// Suspending or unsuspending an unknown identity changes nothing.
	if state, err := service.Suspend(ctx, testOwner, "ghost"); err != nil || state != StateUnknown {
		t.Fatalf("expected unknown after suspending a stranger, got %v %v", state, err)
	}
	if state, err := service.Unsuspend(ctx, testOwner, "ghost"); err != nil || state != StateUnknown {
		t.Fatalf("expected unknown after unsuspending a stranger, got %v %v", state, err)
	}

	if _, err := service.Register(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if state, err := service.Register(ctx, testOwner, "alice"); err != nil || state != StateRegistered {
		t.Fatalf("expected double register to be a no-op, got %v %v", state, err)
	}
	if state, err := service.Unsuspend(ctx, testOwner, "alice"); err != nil || state != StateRegistered {
		t.Fatalf("expected unsuspend of a registered identity to be a no-op, got %v %v", state, err)
	}

	if types := eventTypes(t, db); len(types) != 1 || types[0] != EventTypeRegistered {
		t.Fatalf("expected a single registered event, got %v", types)
	}
}

func TestMutationsRequireOwner(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, "mallory", "alice"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner on register, got %v", err)
	}
	if _, err := service.Register(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := service.Suspend(ctx, "alice", "alice"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner on self-suspend, got %v", err)
	}
	if _, err := service.Unsuspend(ctx, "mallory", "alice"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner on unsuspend, got %v", err)
	}
}

func TestBlankAddressesAreRejected(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Register(ctx, testOwner, "   "); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := service.State(ctx, ""); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress on state lookup, got %v", err)
	}
}
