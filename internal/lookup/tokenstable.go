package lookup

import (
	"iter"
	"math"
	"slices"

	"github.com/AdguardTeam/reqfilter/rules"
)

// keyLength is the length of the URL windows used as lookup keys.
const keyLength = rules.MinTokenLength

// keyAt returns the lookup key for s[i:i+keyLength].  Three bytes fit into
// the key exactly, so there are no collisions.
func keyAt(s string, i int) (key uint32) {
	return uint32(s[i])<<16 | uint32(s[i+1])<<8 | uint32(s[i+2])
}

// TokensTable is a table that relies on the rule tokens to quickly find
// matching rules.  Here's how it works:
//
//  1. The rule parser extracts the longest literal of the pattern, the token.
//  2. We take a part of it of length keyLength, the least used one so far,
//     and put the rule into the bucket for that part.
//  3. When we match a request, we take all substrings of length keyLength of
//     the URL and look the buckets up.
//
// Since every part of a token is a substring of any URL which contains the
// token, no rule that may match is missed.
//
// Note that only the rules with a token are eligible for this table.
type TokensTable struct {
	// buckets maps a key to the rules in the order they were added.
	buckets map[uint32][]*rules.Rule

	// histogram helps us choose the best key for a rule.
	histogram map[uint32]int

	// count is the total number of rules.
	count int
}

// type check
var _ Table = (*TokensTable)(nil)

// NewTokensTable creates a new empty *TokensTable.
func NewTokensTable() (t *TokensTable) {
	return &TokensTable{
		buckets:   map[uint32][]*rules.Rule{},
		histogram: map[uint32]int{},
	}
}

// TryAdd implements the [Table] interface for *TokensTable.
func (t *TokensTable) TryAdd(f *rules.Rule) (ok bool) {
	tok := f.Token()
	if len(tok) < keyLength {
		return false
	}

	// Find the least used key.
	var key uint32
	minCount := math.MaxInt
	for i := 0; i <= len(tok)-keyLength; i++ {
		k := keyAt(tok, i)
		if count := t.histogram[k]; count < minCount {
			minCount = count
			key = k
		}
	}

	t.histogram[key] = minCount + 1
	t.buckets[key] = append(t.buckets[key], f)
	t.count++

	return true
}

// Candidates implements the [Table] interface for *TokensTable.  The buckets
// are visited in the order their keys appear in urlLower.
func (t *TokensTable) Candidates(urlLower string) (seq iter.Seq[*rules.Rule]) {
	return func(yield func(*rules.Rule) bool) {
		if t.count == 0 {
			return
		}

		// Make sure that the same bucket isn't visited twice.  This happens
		// when the URL has a repeating pattern.  Only the keys that have
		// buckets are recorded, so the slice stays short.
		var visited []uint32
		for i := 0; i <= len(urlLower)-keyLength; i++ {
			key := keyAt(urlLower, i)
			bucket, ok := t.buckets[key]
			if !ok || slices.Contains(visited, key) {
				continue
			}

			visited = append(visited, key)
			for _, f := range bucket {
				if !yield(f) {
					return
				}
			}
		}
	}
}

// Len implements the [Table] interface for *TokensTable.
func (t *TokensTable) Len() (n int) {
	return t.count
}
