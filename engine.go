// Package reqfilter contains the request filtering engine: a compiled set of
// network rules that decides whether a request must be blocked.
package reqfilter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/reqfilter/filterlist"
	"github.com/AdguardTeam/reqfilter/internal/lookup"
	"github.com/AdguardTeam/reqfilter/rules"
)

// Engine is the filtering engine with all the loaded rules.  It is immutable
// once built and is safe for concurrent use.
type Engine struct {
	// store is the compiled rule set.
	store *lookup.Store

	// skipped is the number of lines rejected by the parser.
	skipped int
}

// NewEngine parses the list text and builds an engine of it.  opts may be
// nil.  Lines that cannot be parsed are skipped, so an empty or a completely
// invalid text results in an engine that matches nothing.
func NewEngine(text string, opts *rules.ParsingOptions) (e *Engine) {
	l := &filterlist.StringRuleList{
		RulesText: text,
	}

	if opts != nil {
		l.Options = *opts
	}

	// Reading from a string never fails, so there is no error to check.
	return newEngine(l.NewScanner())
}

// NewEngineFromLists builds an engine of the rules from all lists.  The lists
// are not closed.  l is used to report the rejected lines, it may be nil.  err
// is only returned if the list IDs are not unique or a list cannot be read.
func NewEngineFromLists(
	ctx context.Context,
	l *slog.Logger,
	lists ...filterlist.RuleList,
) (e *Engine, err error) {
	s, err := filterlist.NewRuleStorage(lists)
	if err != nil {
		return nil, fmt.Errorf("creating rule storage: %w", err)
	}

	sc := s.NewRuleStorageScanner(l)
	e = newEngine(sc)
	if err = sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning rule lists: %w", err)
	}

	if l != nil {
		l.DebugContext(ctx, "engine built", "rules", e.RulesCount(), "skipped", e.skipped)
	}

	return e, nil
}

// ruleScanner is the common interface of the scanners of a single list and of
// a storage.
type ruleScanner interface {
	Scan() (ok bool)
	Rule() (f *rules.Rule, idx int)
	Skipped() (n int)
}

// newEngine adds all rules sc returns to a new engine.
func newEngine(sc ruleScanner) (e *Engine) {
	e = &Engine{
		store: lookup.NewStore(),
	}

	for sc.Scan() {
		f, _ := sc.Rule()
		e.store.Add(f)
	}

	e.skipped = sc.Skipped()

	return e
}

// Check returns true if the request to rawURL made from the page at
// sourceURL must be blocked.  sourceURL may be empty.  resourceType is a
// resource type name like "script" or "main_frame", unknown names are treated
// as "other".
func (e *Engine) Check(rawURL, sourceURL, resourceType string) (matched bool) {
	r := rules.NewRequest(rawURL, sourceURL, rules.ParseRequestType(resourceType))

	return e.CheckRequest(r)
}

// CheckRequest returns true if a block rule matches r and no exception rule
// does.  Exception rules win regardless of their position in the lists.
func (e *Engine) CheckRequest(r *rules.Request) (matched bool) {
	for f := range e.store.Candidates(r.URLLowerCase) {
		if !f.Match(r) {
			continue
		}

		if f.IsException() {
			return false
		}

		matched = true
	}

	return matched
}

// Match returns the rule that decides the verdict for r: the first matching
// exception rule or, if there are none, the first matching block rule.  ok is
// false if no rules match.  The request must be blocked if ok is true and f is
// not an exception.
func (e *Engine) Match(r *rules.Request) (f *rules.Rule, ok bool) {
	var block *rules.Rule
	for c := range e.store.Candidates(r.URLLowerCase) {
		if !c.Match(r) {
			continue
		}

		if c.IsException() {
			return c, true
		}

		if block == nil {
			block = c
		}
	}

	return block, block != nil
}

// MatchAll returns all rules matching r, both exceptions and block ones, in
// the order of candidates: the rules without tokens first and then the token
// buckets.
func (e *Engine) MatchAll(r *rules.Request) (res []*rules.Rule) {
	for f := range e.store.Candidates(r.URLLowerCase) {
		if f.Match(r) {
			res = append(res, f)
		}
	}

	return res
}

// RulesCount returns the number of rules in the engine.
func (e *Engine) RulesCount() (n int) {
	return e.store.Len()
}

// SkippedCount returns the number of lines rejected when building the engine.
func (e *Engine) SkippedCount() (n int) {
	return e.skipped
}

// CloseLists closes all lists and logs the errors, if any.  It is a helper for
// the hosts which open file lists just to build an engine.
func CloseLists(ctx context.Context, l *slog.Logger, lists []filterlist.RuleList) {
	var errs []error
	for _, list := range lists {
		errs = append(errs, list.Close())
	}

	if err := errors.Join(errs...); err != nil {
		l.ErrorContext(ctx, "closing rule lists", slogutil.KeyError, err)
	}
}
