package filterlist

import (
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/reqfilter/rules"
)

// RuleStorage is an abstraction that combines several rule lists.  It can be
// scanned using a [RuleStorageScanner].
type RuleStorage struct {
	// lists is an array of rules lists which can be accessed using this
	// RuleStorage.
	lists []RuleList
}

// NewRuleStorage creates a new instance of the RuleStorage and validates the
// list of rules specified.  The IDs of the lists must be unique.
func NewRuleStorage(lists []RuleList) (s *RuleStorage, err error) {
	ids := make(map[int]struct{}, len(lists))
	for i, list := range lists {
		id := list.GetID()
		if _, ok := ids[id]; ok {
			return nil, fmt.Errorf("list at index %d: duplicate list id: %d", i, id)
		}

		ids[id] = struct{}{}
	}

	return &RuleStorage{
		lists: lists,
	}, nil
}

// NewRuleStorageScanner creates a new instance of RuleStorageScanner.  It can
// be used to read and parse all the storage contents.  l is used to report
// the skipped lines, it may be nil.
func (s *RuleStorage) NewRuleStorageScanner(l *slog.Logger) (sc *RuleStorageScanner) {
	scanners := make([]*RuleScanner, 0, len(s.lists))
	for _, list := range s.lists {
		scanner := list.NewScanner()
		scanner.Logger = l
		scanners = append(scanners, scanner)
	}

	return &RuleStorageScanner{
		Scanners: scanners,
	}
}

// Close closes the storage instance.
func (s *RuleStorage) Close() (err error) {
	var errs []error
	for _, l := range s.lists {
		err = l.Close()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Annotate(errors.Join(errs...), "closing rule lists: %w")
}

// RuleStorageScanner scans multiple [RuleScanner] instances one after
// another.
type RuleStorageScanner struct {
	// Scanners is the list of list scanners backing this combined scanner.
	Scanners []*RuleScanner

	// current is the index of the current scanner.
	current int
}

// Scan advances to the next rule of the current list or, once it's over, of
// the next ones.  It returns false when all lists are exhausted.  A reading
// error of one list doesn't stop the scanning of others, see
// [RuleStorageScanner.Err].
func (s *RuleStorageScanner) Scan() (ok bool) {
	for ; s.current < len(s.Scanners); s.current++ {
		if s.Scanners[s.current].Scan() {
			return true
		}
	}

	return false
}

// Rule returns the most recent rule and the byte offset of its line within
// its list.
func (s *RuleStorageScanner) Rule() (f *rules.Rule, idx int) {
	if s.current >= len(s.Scanners) {
		return nil, 0
	}

	return s.Scanners[s.current].Rule()
}

// Skipped returns the total number of lines rejected by the parser so far.
func (s *RuleStorageScanner) Skipped() (n int) {
	for _, sc := range s.Scanners {
		n += sc.Skipped()
	}

	return n
}

// Err returns the reading errors of all lists joined.
func (s *RuleStorageScanner) Err() (err error) {
	var errs []error
	for _, sc := range s.Scanners {
		if err = sc.Err(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
