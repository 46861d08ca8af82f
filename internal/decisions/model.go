package decisions

import "time"

// Proposal is one instance of the lunch decision workflow, keyed by its
// decision timestamp. Rows are never deleted; Decided is terminal.
type Proposal struct {
	DecisionTimeSeconds int64     `gorm:"column:decision_time_s;primaryKey;autoIncrement:false"`
	ClosingTimeSeconds  int64     `gorm:"column:closing_time_s;not null"`
	Proposer            string    `gorm:"column:proposer;size:190;not null"`
	Decided             bool      `gorm:"column:decided;not null;default:false"`
	NextVoteSeq         int64     `gorm:"column:next_vote_seq;not null;default:0"`
	WinningEateryID     *uint64   `gorm:"column:winning_eatery_id"`
	WinnerAddress       string    `gorm:"column:winner_address;size:190;not null;default:''"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Proposal) TableName() string {
	return "proposals"
}

// Vote is the current ballot of one eater on one proposal. At most one row
// exists per (proposal, eater); FreeVote mutates EateryID in place.
type Vote struct {
	DecisionTimeSeconds int64     `gorm:"column:decision_time_s;primaryKey;autoIncrement:false"`
	EaterAddress        string    `gorm:"column:eater_address;primaryKey;size:190;not null"`
	EateryID            uint64    `gorm:"column:eatery_id;not null;index"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "proposal_votes"
}

// FirstSupport records the per-proposal vote sequence at which an eater
// first landed on an eatery. Rows are insert-only and never overwritten, so
// a later free vote onto the winning eatery cannot displace the original
// earliest supporter.
type FirstSupport struct {
	DecisionTimeSeconds int64  `gorm:"column:decision_time_s;primaryKey;autoIncrement:false"`
	EateryID            uint64 `gorm:"column:eatery_id;primaryKey;autoIncrement:false"`
	EaterAddress        string `gorm:"column:eater_address;primaryKey;size:190;not null"`
	Seq                 int64  `gorm:"column:seq;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FirstSupport) TableName() string {
	return "proposal_first_supports"
}

// DayCounter tracks how many proposals target one day bucket. A bucket never
// seen counts as zero; old buckets are left in place.
type DayCounter struct {
	Bucket int64 `gorm:"column:bucket;primaryKey;autoIncrement:false"`
	Count  int   `gorm:"column:count;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DayCounter) TableName() string {
	return "proposal_day_counters"
}

// RewardEntry accumulates the lunch rewards credited to one eater. Balances
// only ever grow, by exactly one per won decision.
type RewardEntry struct {
	EaterAddress string    `gorm:"column:eater_address;primaryKey;size:190;not null"`
	Balance      int64     `gorm:"column:balance;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (RewardEntry) TableName() string {
	return "reward_balances"
}

// Leader identifies the eatery currently ahead under the selection rule.
type Leader struct {
	EateryID uint64
	Distance int64
}

// Projection is the informational read model for one proposal. Leader is nil
// while no votes have been cast; the value has no authority over the final
// decision, which is recomputed at decide time.
type Projection struct {
	DecisionTimeSeconds int64
	ClosingTimeSeconds  int64
	Decided             bool
	NumEaters           int
	Leader              *Leader
	WinnerAddress       string
}
