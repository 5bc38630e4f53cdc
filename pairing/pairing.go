// Package pairing computes weekly random pairings over a group roster.
package pairing

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

// DefaultMaxShuffles bounds the re-shuffles spent on avoiding repeated pairs
const DefaultMaxShuffles = 50

// Member is a participant that can be paired
type Member struct {
	UserID int64
	Name   string
}

// Candidate is an active member together with the outcome of the last round
// they took part in.
type Candidate struct {
	Member
	// LastPartnerID is zero when the member has no previous partner.
	LastPartnerID int64
	WasUnpaired   bool
}

// Pair is an unordered pair of members
type Pair struct {
	First  Member
	Second Member
}

// Round is one computed set of pairings
type Round struct {
	Pairs    []Pair
	Unpaired *Member
	// Repeats is the number of pairs that could not avoid repeating the
	// previous pairing of one of their members.
	Repeats int
}

// Empty reports whether nobody was placed in the round
func (r Round) Empty() bool {
	return len(r.Pairs) == 0 && r.Unpaired == nil
}

// Size returns the number of members in the round
func (r Round) Size() int {
	n := len(r.Pairs) * 2
	if r.Unpaired != nil {
		n++
	}
	return n
}

// Options tune ComputeRound
type Options struct {
	MaxShuffles int
}

// ComputeRound pairs the candidates at random. With an odd number of
// candidates exactly one is left unpaired, and it is never someone who was
// unpaired last time unless everybody was. Pairs repeating a member's last
// partner are avoided by bounded re-shuffling followed by local swaps, and the
// unpaired member is chosen so that the rest can pair without repeats when
// possible. When no repeat-free arrangement is found the repeat is accepted.
//
// The result depends only on the candidate set and the random source, never
// on the order of candidates.
func ComputeRound(candidates []Candidate, rng *rand.Rand, opts Options) Round {
	if len(candidates) == 0 {
		return Round{}
	}

	maxShuffles := opts.MaxShuffles
	if maxShuffles <= 0 {
		maxShuffles = DefaultMaxShuffles
	}

	pool := slices.Clone(candidates)
	slices.SortFunc(pool, func(a, b Candidate) int {
		return cmp.Compare(a.UserID, b.UserID)
	})
	shuffle(pool, rng)

	var round Round
	best, bestRepeats := pool, 0
	if len(pool)%2 == 1 {
		bestRepeats = -1
		for _, idx := range unpairedCandidates(pool) {
			rest := slices.Delete(slices.Clone(pool), idx, idx+1)
			arranged, n := arrange(rest, rng, maxShuffles)
			if bestRepeats < 0 || n < bestRepeats {
				unpaired := pool[idx].Member
				round.Unpaired = &unpaired
				best, bestRepeats = arranged, n
			}
			if n == 0 {
				break
			}
		}
	} else {
		best, bestRepeats = arrange(pool, rng, maxShuffles)
	}

	round.Pairs = make([]Pair, 0, len(best)/2)
	for i := 0; i+1 < len(best); i += 2 {
		round.Pairs = append(round.Pairs, Pair{First: best[i].Member, Second: best[i+1].Member})
	}
	round.Repeats = bestRepeats

	return round
}

// arrange orders an even pool into consecutive pairs with as few repeats as
// it finds. It shuffles pool in place and returns the best order seen.
func arrange(pool []Candidate, rng *rand.Rand, maxShuffles int) ([]Candidate, int) {
	best := slices.Clone(pool)
	bestRepeats := countRepeats(best)
	for i := 0; i < maxShuffles && bestRepeats > 0; i++ {
		shuffle(pool, rng)
		if n := countRepeats(pool); n < bestRepeats {
			best = slices.Clone(pool)
			bestRepeats = n
		}
	}
	if bestRepeats > 0 {
		bestRepeats = swapRepeats(best)
	}
	return best, bestRepeats
}

func shuffle(pool []Candidate, rng *rand.Rand) {
	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
}

// unpairedCandidates returns, in pool order, the indexes of members who may
// sit this round out: those not unpaired last time, or everybody if nobody
// qualifies.
func unpairedCandidates(pool []Candidate) []int {
	eligible := make([]int, 0, len(pool))
	for i, c := range pool {
		if !c.WasUnpaired {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		for i := range pool {
			eligible = append(eligible, i)
		}
	}
	return eligible
}

func repeats(a, b Candidate) bool {
	return (a.LastPartnerID != 0 && a.LastPartnerID == b.UserID) ||
		(b.LastPartnerID != 0 && b.LastPartnerID == a.UserID)
}

func countRepeats(pool []Candidate) int {
	n := 0
	for i := 0; i+1 < len(pool); i += 2 {
		if repeats(pool[i], pool[i+1]) {
			n++
		}
	}
	return n
}

// swapRepeats exchanges partners between a repeated pair and another pair
// whenever both resulting pairs are new. Returns the repeats left.
func swapRepeats(pool []Candidate) int {
	pairs := len(pool) / 2
	for i := 0; i < pairs; i++ {
		a, b := 2*i, 2*i+1
		if !repeats(pool[a], pool[b]) {
			continue
		}
		for j := 0; j < pairs; j++ {
			if j == i {
				continue
			}
			c, d := 2*j, 2*j+1
			// (a,c) (b,d)
			if !repeats(pool[a], pool[c]) && !repeats(pool[b], pool[d]) {
				pool[b], pool[c] = pool[c], pool[b]
				break
			}
			// (a,d) (c,b)
			if !repeats(pool[a], pool[d]) && !repeats(pool[c], pool[b]) {
				pool[b], pool[d] = pool[d], pool[b]
				break
			}
		}
	}
	return countRepeats(pool)
}
