package decisions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scarvalhojr/dlunch/internal/eateries"
	"github.com/scarvalhojr/dlunch/internal/events"
)

const secondsPerDay = 86400

// Event types emitted by the engine, one per successful mutation.
const (
	EventTypeProposalCreated = "proposal.created"
	EventTypeJoined          = "proposal.joined"
	EventTypeVoted           = "proposal.voted"
	EventTypeDecided         = "proposal.decided"
)

var (
	errMissingDatabase = errors.New("decisions: database handle is required")
	errMissingRegistry = errors.New("decisions: eater registry is required")
	errMissingCatalog  = errors.New("decisions: eatery catalog is required")
)

// Registry is the slice of the eater registry the engine depends on: a
// single authorization predicate.
type Registry interface {
	IsActive(ctx context.Context, address string) (bool, error)
}

// Catalog is the slice of the eatery catalog the engine depends on. It is
// consulted before a transaction opens; the pool is capped at one connection,
// so a catalog query issued while a transaction holds it would starve.
// Distances are read through the transaction handle instead.
type Catalog interface {
	IsValidID(ctx context.Context, id uint64) (bool, error)
}

// Params are the engine knobs fixed at construction time.
type Params struct {
	GroupName          string
	MinLeadTime        time.Duration
	DayOffsetSeconds   int64
	MaxProposalsPerDay int
	MinEaters          int
}

// ServiceConfig describes the dependencies of the decision engine.
type ServiceConfig struct {
	Database *gorm.DB
	Registry Registry
	Catalog  Catalog
	Clock    func() time.Time
	Recorder *events.Recorder
	Logger   *zap.Logger
	Params   Params
}

// Service is the eating decision engine. Every mutating operation runs as a
// single serialized transaction: it either fully applies its state change
// and event or leaves no trace. Reads observe the latest committed state.
type Service struct {
	db       *gorm.DB
	registry Registry
	catalog  Catalog
	clock    func() time.Time
	recorder *events.Recorder
	logger   *zap.Logger
	params   Params

	// mu serializes mutations so no two accepted votes on the same proposal
	// interleave, independent of the database's own locking.
	mu sync.Mutex
}

// NewService constructs the engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Catalog == nil {
		return nil, errMissingCatalog
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	params := cfg.Params
	if params.MaxProposalsPerDay <= 0 {
		params.MaxProposalsPerDay = 1
	}
	return &Service{
		db:       cfg.Database,
		registry: cfg.Registry,
		catalog:  cfg.Catalog,
		clock:    clock,
		recorder: cfg.Recorder,
		logger:   logger,
		params:   params,
	}, nil
}

// GroupName returns the display name of the decision group.
func (s *Service) GroupName() string {
	return s.params.GroupName
}

// Propose opens a new proposal keyed by decisionTime. The decision time must
// honour the minimum lead time, fall in a day bucket with remaining quota,
// and not collide with any proposal ever created.
func (s *Service) Propose(ctx context.Context, caller string, decisionTime, closingTime int64) error {
	if err := s.requireActive(ctx, caller); err != nil {
		return err
	}
	now := s.clock().UTC().Unix()
	if decisionTime-now < int64(s.params.MinLeadTime/time.Second) {
		return ErrTooSoon
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var committed []events.Event
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bucket := s.dayBucket(decisionTime)
		var counter DayCounter
		err := tx.Where("bucket = ?", bucket).Take(&counter).Error
		newBucket := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !newBucket {
			return fmt.Errorf("decisions: load day counter: %w", err)
		}
		if counter.Count >= s.params.MaxProposalsPerDay {
			return ErrRateLimited
		}

		var existing Proposal
		err = tx.Where("decision_time_s = ?", decisionTime).Take(&existing).Error
		if err == nil {
			return ErrProposalExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("decisions: load proposal: %w", err)
		}

		proposal := Proposal{
			DecisionTimeSeconds: decisionTime,
			ClosingTimeSeconds:  closingTime,
			Proposer:            caller,
		}
		if err := tx.Create(&proposal).Error; err != nil {
			return fmt.Errorf("decisions: insert proposal: %w", err)
		}

		if newBucket {
			counter = DayCounter{Bucket: bucket, Count: 1}
			if err := tx.Create(&counter).Error; err != nil {
				return fmt.Errorf("decisions: create day counter: %w", err)
			}
		} else if err := tx.Model(&DayCounter{}).
			Where("bucket = ?", bucket).
			Update("count", counter.Count+1).Error; err != nil {
			return fmt.Errorf("decisions: update day counter: %w", err)
		}

		committed, err = s.append(tx, committed, EventTypeProposalCreated, map[string]string{
			"decisionTime": strconv.FormatInt(decisionTime, 10),
			"closingTime":  strconv.FormatInt(closingTime, 10),
			"proposer":     caller,
		})
		return err
	})
	if txErr != nil {
		return s.reject("propose", caller, decisionTime, txErr)
	}

	s.publish(committed)
	return nil
}

// Join records the caller's first vote on the proposal, naming their
// suggested eatery. A caller who already holds a vote must use FreeVote.
func (s *Service) Join(ctx context.Context, caller string, decisionTime int64, eateryID uint64) error {
	if err := s.requireActive(ctx, caller); err != nil {
		return err
	}
	if err := s.requireValidEatery(ctx, eateryID); err != nil {
		return s.reject("join", caller, decisionTime, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var committed []events.Event
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		proposal, err := s.openProposal(tx, decisionTime)
		if err != nil {
			return err
		}

		var vote Vote
		err = tx.Where("decision_time_s = ? AND eater_address = ?", decisionTime, caller).Take(&vote).Error
		if err == nil {
			return ErrAlreadyJoined
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("decisions: load vote: %w", err)
		}

		seq, err := s.nextVoteSeq(tx, proposal)
		if err != nil {
			return err
		}
		vote = Vote{
			DecisionTimeSeconds: decisionTime,
			EaterAddress:        caller,
			EateryID:            eateryID,
		}
		if err := tx.Create(&vote).Error; err != nil {
			return fmt.Errorf("decisions: insert vote: %w", err)
		}
		if err := s.recordFirstSupport(tx, decisionTime, eateryID, caller, seq); err != nil {
			return err
		}

		committed, err = s.append(tx, committed, EventTypeJoined, map[string]string{
			"decisionTime": strconv.FormatInt(decisionTime, 10),
			"eater":        caller,
			"eateryId":     strconv.FormatUint(eateryID, 10),
		})
		return err
	})
	if txErr != nil {
		return s.reject("join", caller, decisionTime, txErr)
	}

	s.publish(committed)
	return nil
}

// FreeVote changes the caller's existing vote to a different eatery. Voting
// again for the eatery already held is rejected, not treated as a no-op.
func (s *Service) FreeVote(ctx context.Context, caller string, decisionTime int64, eateryID uint64) error {
	if err := s.requireActive(ctx, caller); err != nil {
		return err
	}
	if err := s.requireValidEatery(ctx, eateryID); err != nil {
		return s.reject("free_vote", caller, decisionTime, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var committed []events.Event
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		proposal, err := s.openProposal(tx, decisionTime)
		if err != nil {
			return err
		}

		var vote Vote
		err = tx.Where("decision_time_s = ? AND eater_address = ?", decisionTime, caller).Take(&vote).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotJoined
		}
		if err != nil {
			return fmt.Errorf("decisions: load vote: %w", err)
		}
		if vote.EateryID == eateryID {
			return ErrSameEatery
		}

		seq, err := s.nextVoteSeq(tx, proposal)
		if err != nil {
			return err
		}
		if err := tx.Model(&Vote{}).
			Where("decision_time_s = ? AND eater_address = ?", decisionTime, caller).
			Update("eatery_id", eateryID).Error; err != nil {
			return fmt.Errorf("decisions: update vote: %w", err)
		}
		if err := s.recordFirstSupport(tx, decisionTime, eateryID, caller, seq); err != nil {
			return err
		}

		committed, err = s.append(tx, committed, EventTypeVoted, map[string]string{
			"decisionTime": strconv.FormatInt(decisionTime, 10),
			"eater":        caller,
			"eateryId":     strconv.FormatUint(eateryID, 10),
		})
		return err
	})
	if txErr != nil {
		return s.reject("free_vote", caller, decisionTime, txErr)
	}

	s.publish(committed)
	return nil
}

// GetProposal returns the informational projection for the proposal: its
// closing time, voter count, and the eatery currently ahead under the same
// selection rule used at decide time.
func (s *Service) GetProposal(ctx context.Context, decisionTime int64) (Projection, error) {
	var proposal Proposal
	err := s.db.WithContext(ctx).Where("decision_time_s = ?", decisionTime).Take(&proposal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Projection{}, ErrProposalNotFound
	}
	if err != nil {
		return Projection{}, fmt.Errorf("decisions: load proposal: %w", err)
	}

	standings, numVoters, err := s.standings(s.db.WithContext(ctx), decisionTime)
	if err != nil {
		return Projection{}, err
	}

	projection := Projection{
		DecisionTimeSeconds: proposal.DecisionTimeSeconds,
		ClosingTimeSeconds:  proposal.ClosingTimeSeconds,
		Decided:             proposal.Decided,
		NumEaters:           numVoters,
		WinnerAddress:       proposal.WinnerAddress,
	}
	if winner, ok := SelectWinner(standings); ok {
		projection.Leader = &Leader{EateryID: winner.EateryID, Distance: winner.Distance}
	}
	return projection, nil
}

// Decide finalizes the proposal once its closing time has passed. Exactly
// one call can ever succeed per proposal: the winning eatery is computed
// from the final tally and the earliest supporter of that eatery still
// voting for it is credited one reward.
func (s *Service) Decide(ctx context.Context, decisionTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var committed []events.Event
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		proposal, err := s.openProposal(tx, decisionTime)
		if err != nil {
			return err
		}
		now := s.clock().UTC().Unix()
		if now < proposal.ClosingTimeSeconds {
			return ErrNotClosedYet
		}

		standings, numVoters, err := s.standings(tx, decisionTime)
		if err != nil {
			return err
		}
		if numVoters < s.params.MinEaters {
			return ErrNotEnoughEaters
		}
		winner, ok := SelectWinner(standings)
		if !ok {
			return ErrNotEnoughEaters
		}

		winnerAddress, err := s.earliestSupporter(tx, decisionTime, winner.EateryID)
		if err != nil {
			return err
		}

		if err := tx.Model(&Proposal{}).
			Where("decision_time_s = ?", decisionTime).
			Updates(map[string]interface{}{
				"decided":           true,
				"winning_eatery_id": winner.EateryID,
				"winner_address":    winnerAddress,
			}).Error; err != nil {
			return fmt.Errorf("decisions: finalize proposal: %w", err)
		}

		if err := s.creditReward(tx, winnerAddress); err != nil {
			return err
		}

		committed, err = s.append(tx, committed, EventTypeDecided, map[string]string{
			"decisionTime": strconv.FormatInt(decisionTime, 10),
			"eateryId":     strconv.FormatUint(winner.EateryID, 10),
			"winner":       winnerAddress,
		})
		return err
	})
	if txErr != nil {
		return s.reject("decide", "", decisionTime, txErr)
	}

	s.publish(committed)
	return nil
}

// Balance returns the accumulated reward count of the eater.
func (s *Service) Balance(ctx context.Context, address string) (int64, error) {
	var entry RewardEntry
	err := s.db.WithContext(ctx).Where("eater_address = ?", address).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("decisions: load reward balance: %w", err)
	}
	return entry.Balance, nil
}

func (s *Service) requireActive(ctx context.Context, caller string) error {
	active, err := s.registry.IsActive(ctx, caller)
	if err != nil {
		return fmt.Errorf("decisions: check eater state: %w", err)
	}
	if !active {
		return ErrNotRegistered
	}
	return nil
}

func (s *Service) requireValidEatery(ctx context.Context, eateryID uint64) error {
	valid, err := s.catalog.IsValidID(ctx, eateryID)
	if err != nil {
		return fmt.Errorf("decisions: check eatery id: %w", err)
	}
	if !valid {
		return ErrUnknownEatery
	}
	return nil
}

// openProposal loads the proposal and enforces the not-yet-decided guard.
func (s *Service) openProposal(tx *gorm.DB, decisionTime int64) (*Proposal, error) {
	var proposal Proposal
	err := tx.Where("decision_time_s = ?", decisionTime).Take(&proposal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("decisions: load proposal: %w", err)
	}
	if proposal.Decided {
		return nil, ErrAlreadyDecided
	}
	return &proposal, nil
}

// nextVoteSeq allocates the next per-proposal vote sequence number.
func (s *Service) nextVoteSeq(tx *gorm.DB, proposal *Proposal) (int64, error) {
	seq := proposal.NextVoteSeq
	proposal.NextVoteSeq++
	if err := tx.Model(&Proposal{}).
		Where("decision_time_s = ?", proposal.DecisionTimeSeconds).
		Update("next_vote_seq", proposal.NextVoteSeq).Error; err != nil {
		return 0, fmt.Errorf("decisions: advance vote seq: %w", err)
	}
	return seq, nil
}

// recordFirstSupport stores the sequence at which the eater first landed on
// the eatery within this proposal. An existing record wins: the row is never
// overwritten.
func (s *Service) recordFirstSupport(tx *gorm.DB, decisionTime int64, eateryID uint64, eater string, seq int64) error {
	var existing FirstSupport
	err := tx.Where("decision_time_s = ? AND eatery_id = ? AND eater_address = ?",
		decisionTime, eateryID, eater).Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("decisions: load first support: %w", err)
	}
	record := FirstSupport{
		DecisionTimeSeconds: decisionTime,
		EateryID:            eateryID,
		EaterAddress:        eater,
		Seq:                 seq,
	}
	if err := tx.Create(&record).Error; err != nil {
		return fmt.Errorf("decisions: insert first support: %w", err)
	}
	return nil
}

type tallyRow struct {
	EateryID uint64 `gorm:"column:eatery_id"`
	Votes    int64  `gorm:"column:votes"`
}

// standings derives the tally from the current votes and attaches distances.
// Votes and tally cannot diverge: the tally is recomputed from the vote rows
// on every call. All queries run on the handle passed in, so a caller inside
// a transaction keeps the pool's single connection.
func (s *Service) standings(handle *gorm.DB, decisionTime int64) ([]Standing, int, error) {
	var rows []tallyRow
	if err := handle.Model(&Vote{}).
		Select("eatery_id, COUNT(*) AS votes").
		Where("decision_time_s = ?", decisionTime).
		Group("eatery_id").
		Scan(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("decisions: tally votes: %w", err)
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}

	ids := make([]uint64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.EateryID)
	}
	var records []eateries.Eatery
	if err := handle.Where("eatery_id IN ?", ids).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("decisions: resolve eateries: %w", err)
	}
	distances := make(map[uint64]int64, len(records))
	for _, record := range records {
		distances[record.ID] = record.Distance
	}

	standings := make([]Standing, 0, len(rows))
	numVoters := 0
	for _, row := range rows {
		distance, ok := distances[row.EateryID]
		if !ok {
			return nil, 0, fmt.Errorf("decisions: eatery %d missing from catalog", row.EateryID)
		}
		standings = append(standings, Standing{
			EateryID: row.EateryID,
			Votes:    row.Votes,
			Distance: distance,
		})
		numVoters += int(row.Votes)
	}
	return standings, numVoters, nil
}

// earliestSupporter picks, among the eaters currently voting for the eatery,
// the one whose first-support sequence is lowest.
func (s *Service) earliestSupporter(tx *gorm.DB, decisionTime int64, eateryID uint64) (string, error) {
	var votes []Vote
	if err := tx.Where("decision_time_s = ? AND eatery_id = ?", decisionTime, eateryID).
		Find(&votes).Error; err != nil {
		return "", fmt.Errorf("decisions: load winning votes: %w", err)
	}
	var supports []FirstSupport
	if err := tx.Where("decision_time_s = ? AND eatery_id = ?", decisionTime, eateryID).
		Find(&supports).Error; err != nil {
		return "", fmt.Errorf("decisions: load first supports: %w", err)
	}
	firstSeq := make(map[string]int64, len(supports))
	for _, support := range supports {
		firstSeq[support.EaterAddress] = support.Seq
	}

	winner := ""
	best := int64(-1)
	for _, vote := range votes {
		seq, ok := firstSeq[vote.EaterAddress]
		if !ok {
			return "", fmt.Errorf("decisions: missing first support for %s", vote.EaterAddress)
		}
		if best < 0 || seq < best {
			best = seq
			winner = vote.EaterAddress
		}
	}
	if winner == "" {
		return "", fmt.Errorf("decisions: no supporter found for eatery %d", eateryID)
	}
	return winner, nil
}

func (s *Service) creditReward(tx *gorm.DB, address string) error {
	var entry RewardEntry
	err := tx.Where("eater_address = ?", address).Take(&entry).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("decisions: load reward balance: %w", err)
	}
	entry.EaterAddress = address
	entry.Balance++
	if err := tx.Save(&entry).Error; err != nil {
		return fmt.Errorf("decisions: credit reward: %w", err)
	}
	return nil
}

func (s *Service) dayBucket(decisionTime int64) int64 {
	adjusted := decisionTime + s.params.DayOffsetSeconds
	bucket := adjusted / secondsPerDay
	if adjusted < 0 && adjusted%secondsPerDay != 0 {
		bucket--
	}
	return bucket
}

func (s *Service) append(tx *gorm.DB, committed []events.Event, eventType string, attributes map[string]string) ([]events.Event, error) {
	if s.recorder == nil {
		return committed, nil
	}
	event, err := s.recorder.Append(tx, eventType, attributes)
	if err != nil {
		return committed, err
	}
	return append(committed, event), nil
}

func (s *Service) publish(committed []events.Event) {
	if s.recorder != nil {
		s.recorder.Publish(committed...)
	}
}

// reject logs a failed mutation at debug level and passes the domain error
// through unchanged. Infrastructure failures are logged as errors.
func (s *Service) reject(operation, caller string, decisionTime int64, err error) error {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Int64("decision_time_s", decisionTime),
		zap.Error(err),
	}
	if caller != "" {
		fields = append(fields, zap.String("eater", caller))
	}
	if isDomainError(err) {
		s.logger.Debug("decision engine rejection", fields...)
	} else {
		s.logger.Error("decision engine failure", fields...)
	}
	return err
}

func isDomainError(err error) bool {
	for _, sentinel := range []error{
		ErrNotRegistered, ErrTooSoon, ErrRateLimited, ErrProposalExists,
		ErrProposalNotFound, ErrAlreadyDecided, ErrUnknownEatery,
		ErrAlreadyJoined, ErrNotJoined, ErrSameEatery, ErrNotClosedYet,
		ErrNotEnoughEaters,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
