// Package filterlist contains the rule lists the engine is built from and the
// scanners that read and parse them.
package filterlist

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AdguardTeam/reqfilter/rules"
)

// RuleList represents a set of filtering rules.
type RuleList interface {
	// GetID returns the rule list identifier.
	GetID() (id int)

	// NewScanner creates a new scanner that reads the list contents from the
	// beginning.
	NewScanner() (sc *RuleScanner)

	// Close releases the resources of the list.
	Close() (err error)
}

// StringRuleList represents a string-based rule list.
type StringRuleList struct {
	// RulesText is the string with filtering rules, one per line.
	RulesText string

	// Options changes how the lines are parsed.
	Options rules.ParsingOptions

	// ID is the rule list ID.
	ID int
}

// type check
var _ RuleList = (*StringRuleList)(nil)

// GetID implements the [RuleList] interface for *StringRuleList.
func (l *StringRuleList) GetID() (id int) {
	return l.ID
}

// NewScanner implements the [RuleList] interface for *StringRuleList.
func (l *StringRuleList) NewScanner() (sc *RuleScanner) {
	return NewRuleScanner(strings.NewReader(l.RulesText), l.ID, &l.Options)
}

// Close implements the [RuleList] interface for *StringRuleList.
func (l *StringRuleList) Close() (err error) {
	return nil
}

// FileRuleList represents a file-based rule list.  The file is kept open until
// the list is closed, each scanner reads it independently.
type FileRuleList struct {
	file    *os.File
	options rules.ParsingOptions
	size    int64
	id      int
}

// type check
var _ RuleList = (*FileRuleList)(nil)

// NewFileRuleList opens the file at path.  opts may be nil.
func NewFileRuleList(id int, path string, opts *rules.ParsingOptions) (l *FileRuleList, err error) {
	// #nosec G304 -- Trust the paths of the filter lists from the
	// configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening rule list: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("getting rule list info: %w", err)
	}

	l = &FileRuleList{
		file: f,
		size: fi.Size(),
		id:   id,
	}

	if opts != nil {
		l.options = *opts
	}

	return l, nil
}

// GetID implements the [RuleList] interface for *FileRuleList.
func (l *FileRuleList) GetID() (id int) {
	return l.id
}

// NewScanner implements the [RuleList] interface for *FileRuleList.
func (l *FileRuleList) NewScanner() (sc *RuleScanner) {
	r := io.NewSectionReader(l.file, 0, l.size)

	return NewRuleScanner(r, l.id, &l.options)
}

// Close implements the [RuleList] interface for *FileRuleList.
func (l *FileRuleList) Close() (err error) {
	return l.file.Close()
}
