package lookup

import (
	"iter"
	"slices"

	"github.com/AdguardTeam/reqfilter/rules"
)

// SeqScanTable is basically just a list of rules that are scanned
// sequentially.  Here we put the rules that are not eligible for other tables.
type SeqScanTable struct {
	rules []*rules.Rule
}

// type check
var _ Table = (*SeqScanTable)(nil)

// TryAdd implements the [Table] interface for *SeqScanTable.  It accepts any
// rule.
func (s *SeqScanTable) TryAdd(f *rules.Rule) (ok bool) {
	s.rules = append(s.rules, f)

	return true
}

// Candidates implements the [Table] interface for *SeqScanTable.  All rules
// are candidates regardless of the URL.
func (s *SeqScanTable) Candidates(_ string) (seq iter.Seq[*rules.Rule]) {
	return slices.Values(s.rules)
}

// Len implements the [Table] interface for *SeqScanTable.
func (s *SeqScanTable) Len() (n int) {
	return len(s.rules)
}
