// Package rules contains the filtering rule parser, the compiled rule
// representation, and the request descriptor the rules are matched against.
package rules

import (
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// maskException is the prefix of an exception rule.
	maskException = "@@"

	// optionsDelimiter separates the pattern from the options.
	optionsDelimiter = '$'

	// escapeCharacter escapes the options delimiter and commas.
	escapeCharacter = '\\'
)

// Sentinel errors returned, wrapped into a [*SyntaxError], by [NewRule].
const (
	// ErrEmptyPattern is returned when nothing is left of the pattern after
	// the anchors are removed.
	ErrEmptyPattern errors.Error = "empty pattern"

	// ErrMalformedPattern is returned for patterns with anchors in wrong
	// places or with whitespace.
	ErrMalformedPattern errors.Error = "malformed pattern"

	// ErrTooWideRule is returned if the rule has no literal characters in its
	// pattern and no domain restrictions.
	ErrTooWideRule errors.Error = "the rule is too wide, add domain restrictions or make it more specific"

	// ErrUnknownModifier is returned for options the parser does not
	// recognize.  Such rules are rejected entirely.
	ErrUnknownModifier errors.Error = "unknown modifier"

	// ErrBadModifierValue is returned when a known option has a missing or
	// invalid value.
	ErrBadModifierValue errors.Error = "bad modifier value"

	// ErrConflictingModifiers is returned when options contradict each other,
	// e.g. both $first-party and $third-party.
	ErrConflictingModifiers errors.Error = "conflicting modifiers"

	// ErrUnsupportedRule signals that this might be a valid rule of some list
	// dialect, e.g. a regular expression rule, but it is not supported.
	ErrUnsupportedRule errors.Error = "this type of rules is unsupported"
)

// SyntaxError describes a rejected rule line.
type SyntaxError struct {
	// Err is the underlying sentinel error.
	Err error

	// RuleText is the rejected line.
	RuleText string
}

// type check
var _ errors.Wrapper = (*SyntaxError)(nil)

// Error implements the error interface for *SyntaxError.
func (e *SyntaxError) Error() (msg string) {
	return fmt.Sprintf("rule %q: %s", e.RuleText, e.Err)
}

// Unwrap implements the [errors.Wrapper] interface for *SyntaxError.
func (e *SyntaxError) Unwrap() (err error) {
	return e.Err
}

// ParsingOptions changes how rule lines are interpreted.
type ParsingOptions struct {
	// TreatAsExceptionDefault makes lines without the exception marker
	// exception rules, which turns a block list into an allow list.  Lines
	// with the marker stay exceptions.
	TreatAsExceptionDefault bool
}

// Rule is a compiled network filtering rule.  A Rule is immutable once
// created and is safe for concurrent use.
type Rule struct {
	// text is the original rule text.
	text string

	// token is the longest literal substring of the pattern in lower case,
	// used as the lookup key.  It is empty if there is no usable literal.
	token string

	// pattern is the compiled pattern.  Literals are in lower case unless
	// matchCase is set.
	pattern Pattern

	// domains are the source domain restrictions from the $domain modifier.
	domains []DomainConstraint

	// filterListID is the identifier of the list this rule comes from.
	filterListID int

	// permittedTypes is the set of request types the rule applies to.  Zero
	// means all of them.
	permittedTypes RequestType

	// anchor shows where the pattern must match.
	anchor Anchor

	// party is the first-party or third-party restriction.
	party Party

	// isException is true for allowlist rules.
	isException bool

	// matchCase is true if the pattern is case sensitive.
	matchCase bool
}

// NewRule parses a filter list line.  It returns nil and a nil error for
// blank lines, comments, and cosmetic rules, which are not network rules.
// Every rejected line results in a nil rule and a [*SyntaxError].  opts may be
// nil.
func NewRule(line string, filterListID int, opts *ParsingOptions) (r *Rule, err error) {
	line = strings.TrimSpace(line)
	if line == "" || isComment(line) || isCosmetic(line) {
		return nil, nil
	}

	r, err = parseNetworkRule(line, filterListID, opts)
	if err != nil {
		return nil, &SyntaxError{
			Err:      err,
			RuleText: line,
		}
	}

	return r, nil
}

// parseNetworkRule does the actual parsing of a non-comment line.
func parseNetworkRule(text string, filterListID int, opts *ParsingOptions) (r *Rule, err error) {
	patternText, optionsText, hasException, err := splitRuleText(text)
	if err != nil {
		return nil, err
	}

	r = &Rule{
		text:         text,
		filterListID: filterListID,
		isException:  hasException || (opts != nil && opts.TreatAsExceptionDefault),
	}

	err = r.loadOptions(optionsText)
	if err != nil {
		return nil, err
	}

	r.pattern, r.anchor, err = parsePattern(patternText, r.matchCase)
	if err != nil {
		return nil, err
	}

	if !r.pattern.hasLiteral() && !r.hasPermittedDomains() {
		return nil, ErrTooWideRule
	}

	r.token = findToken(r.pattern)

	return r, nil
}

// Text returns the original rule text.
func (f *Rule) Text() (s string) {
	return f.text
}

// String implements the [fmt.Stringer] interface for *Rule.
func (f *Rule) String() (s string) {
	return f.text
}

// FilterListID returns ID of the filter list this rule belongs to.
func (f *Rule) FilterListID() (id int) {
	return f.filterListID
}

// IsException returns true if this is an allowlist rule.
func (f *Rule) IsException() (ok bool) {
	return f.isException
}

// Token returns the index token of the rule or an empty string if the rule
// has no literal long enough to be indexed.
func (f *Rule) Token() (tok string) {
	return f.token
}

// Anchor returns the anchoring of the rule pattern.
func (f *Rule) Anchor() (a Anchor) {
	return f.anchor
}

// Party returns the party restriction of the rule.
func (f *Rule) Party() (p Party) {
	return f.party
}

// Pattern returns a copy of the compiled pattern.
func (f *Rule) Pattern() (p Pattern) {
	return append(Pattern(nil), f.pattern...)
}

// Domains returns a copy of the source domain restrictions.
func (f *Rule) Domains() (d []DomainConstraint) {
	return append([]DomainConstraint(nil), f.domains...)
}

// RequestTypes returns the set of request types the rule applies to.  Zero
// means all types.
func (f *Rule) RequestTypes() (t RequestType) {
	return f.permittedTypes
}

// hasPermittedDomains returns true if the rule is limited to some domains.
func (f *Rule) hasPermittedDomains() (ok bool) {
	for _, d := range f.domains {
		if d.Allowed {
			return true
		}
	}

	return false
}

// splitRuleText splits the rule text into the pattern and the options and
// strips the exception marker.
func splitRuleText(text string) (pattern, options string, isException bool, err error) {
	pattern = text
	if strings.HasPrefix(pattern, maskException) {
		isException = true
		pattern = pattern[len(maskException):]
	}

	if pattern == "" {
		return "", "", false, ErrEmptyPattern
	}

	if len(pattern) > 1 && pattern[0] == '/' && pattern[len(pattern)-1] == '/' {
		return "", "", false, ErrUnsupportedRule
	}

	idx := findOptionsDelimiter(pattern)
	if idx < 0 {
		return pattern, "", isException, nil
	}

	options = pattern[idx+1:]
	if options == "" {
		return "", "", false, fmt.Errorf("%w: empty options", ErrBadModifierValue)
	}

	pattern = pattern[:idx]
	if strings.IndexByte(options, escapeCharacter) >= 0 {
		options = strings.ReplaceAll(options, `\$`, "$")
	}

	return pattern, options, isException, nil
}

// findOptionsDelimiter returns the index of the last options delimiter that
// is not escaped or -1 if there is none.
func findOptionsDelimiter(s string) (idx int) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != optionsDelimiter {
			continue
		}

		if i > 0 && s[i-1] == escapeCharacter {
			continue
		}

		return i
	}

	return -1
}

// cosmeticMarkers are the markers of cosmetic, HTML filtering, and scriptlet
// rules.  Such rules are skipped.
var cosmeticMarkers = []string{
	"#@$?#", "#$?#", "#@%#", "#@$#", "#@?#",
	"#%#", "#$#", "#?#", "#@#", "$@$",
	"##", "$$",
}

// isCosmetic returns true if line contains a cosmetic rule marker.
func isCosmetic(line string) (ok bool) {
	for _, m := range cosmeticMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}

	return false
}

// isComment returns true if the line is a comment or a list header.
func isComment(line string) (ok bool) {
	switch line[0] {
	case '!', '[':
		return true
	case '#':
		// Cosmetic rules without domains start with a '#' too, leave them to
		// isCosmetic.
		return !isCosmetic(line)
	default:
		return false
	}
}
