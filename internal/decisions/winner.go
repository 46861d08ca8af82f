package decisions

// Standing pairs an eatery with its current vote count and catalog distance.
type Standing struct {
	EateryID uint64
	Votes    int64
	Distance int64
}

// SelectWinner applies the deterministic selection rule to a tally: most
// votes first, shortest distance among ties, lowest id as the final key.
// The rule is a total order, so any two observers given the same standings
// compute the same winner. The second return is false for an empty tally.
func SelectWinner(standings []Standing) (Standing, bool) {
	if len(standings) == 0 {
		return Standing{}, false
	}
	best := standings[0]
	for _, candidate := range standings[1:] {
		if leads(candidate, best) {
			best = candidate
		}
	}
	return best, true
}

// leads reports whether a ranks strictly ahead of b under the selection rule.
func leads(a, b Standing) bool {
	if a.Votes != b.Votes {
		return a.Votes > b.Votes
	}
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.EateryID < b.EateryID
}
