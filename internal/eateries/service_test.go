package eateries

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testOwner = "owner"

func newTestService(t *testing.T) *Service {
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

	if err := db.AutoMigrate(&Eatery{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db, Owner: testOwner})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestAddAssignsSequentialIDsFromZero(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if valid, err := service.IsValidID(ctx, 0); err != nil || valid {
		t.Fatalf("expected id 0 to be invalid in an empty catalog, got %v %v", valid, err)
	}

	for index, name := range []string{"Pizza Corner", "Sushi Bar", "Taco Stand"} {
		id, err := service.Add(ctx, testOwner, name, int64(100*(index+1)))
		if err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
		if id != uint64(index) {
			t.Fatalf("expected id %d for %s, got %d", index, name, id)
		}
	}

	count, err := service.Count(ctx)
	if err != nil || count != 3 {
		t.Fatalf("expected count 3, got %d %v", count, err)
	}
	if valid, err := service.IsValidID(ctx, 2); err != nil || !valid {
		t.Fatalf("expected id 2 to be valid, got %v %v", valid, err)
	}
	if valid, err := service.IsValidID(ctx, 3); err != nil || valid {
		t.Fatalf("expected id 3 to be invalid, got %v %v", valid, err)
	}
}

func TestDetailsAndList(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Add(ctx, testOwner, "Pizza Corner", 500); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := service.Add(ctx, testOwner, "Sushi Bar", 200); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	details, err := service.Details(ctx, 1)
	if err != nil {
		t.Fatalf("details failed: %v", err)
	}
	if details.ID != 1 || details.Name != "Sushi Bar" || details.Distance != 200 {
		t.Fatalf("unexpected details: %+v", details)
	}

	if _, err := service.Details(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	records, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != 0 || records[1].ID != 1 {
		t.Fatalf("expected records in id order, got %+v", records)
	}
}

func TestAddValidation(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Add(ctx, "mallory", "Pizza Corner", 500); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := service.Add(ctx, testOwner, "   ", 500); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := service.Add(ctx, testOwner, "Pizza Corner", -1); !errors.Is(err, ErrInvalidDistance) {
		t.Fatalf("expected ErrInvalidDistance, got %v", err)
	}

	// Duplicate names are not the catalog's concern.
	if _, err := service.Add(ctx, testOwner, "Pizza Corner", 500); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if id, err := service.Add(ctx, testOwner, "Pizza Corner", 700); err != nil || id != 1 {
		t.Fatalf("expected duplicate name to get id 1, got %d %v", id, err)
	}
}
