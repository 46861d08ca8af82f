package eateries

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scarvalhojr/dlunch/internal/events"
)

// EventTypeAdded is emitted with the freshly assigned id whenever the owner
// appends an eatery.
const EventTypeAdded = "eatery.added"

var (
	// ErrNotOwner rejects catalog mutation by anyone but the configured owner.
	ErrNotOwner = errors.New("eateries: caller is not the catalog owner")
	// ErrNotFound indicates the eatery id was never assigned.
	ErrNotFound = errors.New("eateries: eatery not found")
	// ErrInvalidName rejects blank display names.
	ErrInvalidName = errors.New("eateries: invalid eatery name")
	// ErrInvalidDistance rejects negative distances.
	ErrInvalidDistance = errors.New("eateries: distance must not be negative")

	errMissingDatabase = errors.New("eateries: database handle is required")
	errMissingOwner    = errors.New("eateries: owner subject is required")
)

// ServiceConfig describes the dependencies of the eatery catalog.
type ServiceConfig struct {
	Database *gorm.DB
	Owner    string
	Recorder *events.Recorder
	Logger   *zap.Logger
}

// Service is the venue catalog. Names and distances are opaque to it; the
// only invariant it owns is the sequential, immutable id numbering.
type Service struct {
	db       *gorm.DB
	owner    string
	recorder *events.Recorder
	logger   *zap.Logger
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	owner := strings.TrimSpace(cfg.Owner)
	if owner == "" {
		return nil, errMissingOwner
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		owner:    owner,
		recorder: cfg.Recorder,
		logger:   logger,
	}, nil
}

// Add appends a new eatery and returns its assigned id. Duplicate names are
// allowed; the catalog does not interpret them.
func (s *Service) Add(ctx context.Context, caller, name string, distance int64) (uint64, error) {
	if strings.TrimSpace(caller) != s.owner {
		return 0, ErrNotOwner
	}
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return 0, ErrInvalidName
	}
	if distance < 0 {
		return 0, ErrInvalidDistance
	}

	var assigned uint64
	var committed []events.Event
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Eatery{}).Count(&count).Error; err != nil {
			return fmt.Errorf("eateries: count records: %w", err)
		}
		assigned = uint64(count)

		record := Eatery{
			ID:       assigned,
			Name:     trimmedName,
			Distance: distance,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("eateries: insert record: %w", err)
		}

		if s.recorder != nil {
			event, err := s.recorder.Append(tx, EventTypeAdded, map[string]string{
				"eateryId": strconv.FormatUint(assigned, 10),
				"name":     trimmedName,
				"distance": strconv.FormatInt(distance, 10),
			})
			if err != nil {
				return err
			}
			committed = append(committed, event)
		}
		return nil
	})
	if txErr != nil {
		s.logger.Error("eatery insert failed", zap.String("name", trimmedName), zap.Error(txErr))
		return 0, txErr
	}

	if s.recorder != nil {
		s.recorder.Publish(committed...)
	}
	return assigned, nil
}

// IsValidID reports whether the id has been assigned.
func (s *Service) IsValidID(ctx context.Context, id uint64) (bool, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return false, err
	}
	return id < count, nil
}

// Details returns the stored name and distance for the id.
func (s *Service) Details(ctx context.Context, id uint64) (Details, error) {
	var record Eatery
	err := s.db.WithContext(ctx).Where("eatery_id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Details{}, ErrNotFound
	}
	if err != nil {
		return Details{}, fmt.Errorf("eateries: load record: %w", err)
	}
	return Details{ID: record.ID, Name: record.Name, Distance: record.Distance}, nil
}

// List returns every eatery in id order.
func (s *Service) List(ctx context.Context) ([]Eatery, error) {
	var records []Eatery
	if err := s.db.WithContext(ctx).Order("eatery_id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("eateries: list records: %w", err)
	}
	return records, nil
}

// Count returns the number of eateries ever added.
func (s *Service) Count(ctx context.Context) (uint64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Eatery{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("eateries: count records: %w", err)
	}
	return uint64(count), nil
}
