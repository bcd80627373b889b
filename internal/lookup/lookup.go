// Package lookup implements the index structures used to find the rules that
// may match a request without scanning all of them.
package lookup

import (
	"iter"

	"github.com/AdguardTeam/reqfilter/rules"
)

// Table is a common interface for all lookup tables.
type Table interface {
	// TryAdd attempts to add the rule to the lookup table.  It returns false
	// if the rule is not eligible for this table.
	TryAdd(f *rules.Rule) (ok bool)

	// Candidates returns the rules of the table which may match the URL.
	// urlLower must be in lower case.  Each rule is yielded at most once.
	Candidates(urlLower string) (seq iter.Seq[*rules.Rule])

	// Len returns the number of rules in the table.
	Len() (n int)
}

// Store is the compiled rule set: the token index plus the fallback rules
// which have no usable token.  Every added rule is reachable through exactly
// one of them.  Store is not safe for concurrent modification, but once built
// it can be read from many goroutines.
type Store struct {
	tokens   *TokensTable
	fallback *SeqScanTable
}

// NewStore returns a new empty *Store.
func NewStore() (s *Store) {
	return &Store{
		tokens:   NewTokensTable(),
		fallback: &SeqScanTable{},
	}
}

// Build creates a *Store with all rs added in order.  Duplicate rules are
// kept.
func Build(rs []*rules.Rule) (s *Store) {
	s = NewStore()
	for _, f := range rs {
		s.Add(f)
	}

	return s
}

// Add routes f to the token index or, if it has no usable token, to the
// fallback rules.
func (s *Store) Add(f *rules.Rule) {
	if !s.tokens.TryAdd(f) {
		_ = s.fallback.TryAdd(f)
	}
}

// Len returns the total number of rules in the store.
func (s *Store) Len() (n int) {
	return s.tokens.Len() + s.fallback.Len()
}

// FallbackLen returns the number of rules which are checked for every request.
func (s *Store) FallbackLen() (n int) {
	return s.fallback.Len()
}

// Candidates returns the rules which may match the URL: all fallback rules
// first and then the buckets of the tokens found in urlLower.  The order
// within each bucket is the order the rules were added in.  urlLower must be
// in lower case.
func (s *Store) Candidates(urlLower string) (seq iter.Seq[*rules.Rule]) {
	return func(yield func(*rules.Rule) bool) {
		for f := range s.fallback.Candidates(urlLower) {
			if !yield(f) {
				return
			}
		}

		for f := range s.tokens.Candidates(urlLower) {
			if !yield(f) {
				return
			}
		}
	}
}
