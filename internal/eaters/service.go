package eaters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scarvalhojr/dlunch/internal/events"
)

// Event types emitted by the registry. Suspended identities re-registered by
// the owner emit nothing: suspension must be lifted explicitly.
const (
	EventTypeRegistered  = "eater.registered"
	EventTypeSuspended   = "eater.suspended"
	EventTypeUnsuspended = "eater.unsuspended"
)

var (
	// ErrNotOwner rejects registry mutation by anyone but the configured owner.
	ErrNotOwner = errors.New("eaters: caller is not the registry owner")
	// ErrInvalidAddress rejects empty identities.
	ErrInvalidAddress = errors.New("eaters: invalid eater address")

	errMissingDatabase = errors.New("eaters: database handle is required")
	errMissingOwner    = errors.New("eaters: owner subject is required")
)

// ServiceConfig describes the dependencies of the eater registry.
type ServiceConfig struct {
	Database *gorm.DB
	Owner    string
	Clock    func() time.Time
	Recorder *events.Recorder
	Logger   *zap.Logger
}

// Service is the participant registry: it tracks which identities may
// currently act and gates every mutation behind the owner subject.
type Service struct {
	db       *gorm.DB
	owner    string
	clock    func() time.Time
	recorder *events.Recorder
	logger   *zap.Logger
}

// NewService constructs the registry service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	owner := normalizeAddress(cfg.Owner)
	if owner == "" {
		return nil, errMissingOwner
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		owner:    owner,
		clock:    clock,
		recorder: cfg.Recorder,
		logger:   logger,
	}, nil
}

// Register transitions an unknown identity to registered. Re-registering a
// suspended identity is a silent no-op; the suspension stays in place until
// Unsuspend is called.
func (s *Service) Register(ctx context.Context, caller, address string) (State, error) {
	return s.transition(ctx, caller, address, func(current State) (State, string) {
		if current == StateUnknown {
			return StateRegistered, EventTypeRegistered
		}
		return current, ""
	})
}

// Suspend moves a registered identity to suspended. Any other starting state
// is a no-op without an event.
func (s *Service) Suspend(ctx context.Context, caller, address string) (State, error) {
	return s.transition(ctx, caller, address, func(current State) (State, string) {
		if current == StateRegistered {
			return StateSuspended, EventTypeSuspended
		}
		return current, ""
	})
}

// Unsuspend moves a suspended identity back to registered.
func (s *Service) Unsuspend(ctx context.Context, caller, address string) (State, error) {
	return s.transition(ctx, caller, address, func(current State) (State, string) {
		if current == StateSuspended {
			return StateRegistered, EventTypeUnsuspended
		}
		return current, ""
	})
}

// State reports the registry state of the identity. Identities never seen
// report StateUnknown.
func (s *Service) State(ctx context.Context, address string) (State, error) {
	trimmed := normalizeAddress(address)
	if trimmed == "" {
		return StateUnknown, ErrInvalidAddress
	}
	var record Eater
	err := s.db.WithContext(ctx).Where("address = ?", trimmed).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StateUnknown, nil
	}
	if err != nil {
		return StateUnknown, fmt.Errorf("eaters: load state: %w", err)
	}
	return record.State, nil
}

// IsActive reports whether the identity may currently propose and vote. This
// is the sole authorization predicate the decision engine consults.
func (s *Service) IsActive(ctx context.Context, address string) (bool, error) {
	state, err := s.State(ctx, address)
	if err != nil {
		return false, err
	}
	return state == StateRegistered, nil
}

func (s *Service) transition(ctx context.Context, caller, address string, decide func(State) (State, string)) (State, error) {
	if normalizeAddress(caller) != s.owner {
		return StateUnknown, ErrNotOwner
	}
	trimmed := normalizeAddress(address)
	if trimmed == "" {
		return StateUnknown, ErrInvalidAddress
	}

	var next State
	var committed []events.Event
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Eater
		err := tx.Where("address = ?", trimmed).Take(&record).Error
		missing := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !missing {
			return fmt.Errorf("eaters: load record: %w", err)
		}

		current := StateUnknown
		if !missing {
			current = record.State
		}
		target, eventType := decide(current)
		next = target
		if target == current {
			return nil
		}

		record.Address = trimmed
		record.State = target
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("eaters: save record: %w", err)
		}

		if eventType != "" && s.recorder != nil {
			event, err := s.recorder.Append(tx, eventType, map[string]string{
				"address": trimmed,
			})
			if err != nil {
				return err
			}
			committed = append(committed, event)
		}
		return nil
	})
	if txErr != nil {
		s.logger.Error("eater transition failed",
			zap.String("address", trimmed),
			zap.Error(txErr))
		return StateUnknown, txErr
	}

	if s.recorder != nil {
		s.recorder.Publish(committed...)
	}
	return next, nil
}
