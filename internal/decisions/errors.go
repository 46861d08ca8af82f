package decisions

import "errors"

// Rejection taxonomy of the decision engine. Every failure is synchronous
// and side-effect free: an operation that returns one of these has mutated
// nothing.
var (
	// ErrNotRegistered rejects callers that are not active eaters.
	ErrNotRegistered = errors.New("decisions: caller is not an active eater")
	// ErrTooSoon rejects decision times that violate the minimum lead time.
	ErrTooSoon = errors.New("decisions: decision time is too soon")
	// ErrRateLimited rejects proposals once the day bucket is exhausted.
	ErrRateLimited = errors.New("decisions: proposal limit reached for that day")
	// ErrProposalExists rejects a decision time already taken, decided or not.
	ErrProposalExists = errors.New("decisions: proposal already exists")
	// ErrProposalNotFound indicates no proposal exists for the decision time.
	ErrProposalNotFound = errors.New("decisions: proposal not found")
	// ErrAlreadyDecided rejects votes and re-decisions on a finalized proposal.
	ErrAlreadyDecided = errors.New("decisions: proposal already decided")
	// ErrUnknownEatery rejects votes naming an id the catalog never assigned.
	ErrUnknownEatery = errors.New("decisions: unknown eatery id")
	// ErrAlreadyJoined rejects Join by a caller who already holds a vote.
	ErrAlreadyJoined = errors.New("decisions: eater already joined this proposal")
	// ErrNotJoined rejects FreeVote by a caller with no vote to change.
	ErrNotJoined = errors.New("decisions: eater has not joined this proposal")
	// ErrSameEatery rejects a free vote onto the venue the caller already holds.
	ErrSameEatery = errors.New("decisions: vote already cast for that eatery")
	// ErrNotClosedYet rejects Decide before the proposal's closing time.
	ErrNotClosedYet = errors.New("decisions: proposal not closed yet")
	// ErrNotEnoughEaters rejects Decide while fewer than the configured
	// minimum number of eaters have voted.
	ErrNotEnoughEaters = errors.New("decisions: not enough eaters to decide")
)
