package filterlist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/reqfilter/rules"
)

// MaxLineLength is the maximum length of a list line, including the line
// terminator.  Longer lines are skipped.
const MaxLineLength = 64 * 1024

// ErrLineTooLong is reported for the lines longer than [MaxLineLength].
const ErrLineTooLong errors.Error = "line is too long"

// RuleScanner reads the rule lines from an [io.Reader] and parses them.
// Blank lines, comments, and cosmetic rules are passed over.  Lines that are
// rejected by the parser are counted as skipped.
type RuleScanner struct {
	// Logger is used to report the skipped lines on debug level.  If nil,
	// nothing is logged.
	Logger *slog.Logger

	reader   *bufio.Reader
	opts     *rules.ParsingOptions
	current  *rules.Rule
	err      error
	listID   int
	idx      int
	pos      int
	skipped  int
	finished bool
}

// NewRuleScanner returns a new scanner of the list with the given ID read from
// r.  opts may be nil.
func NewRuleScanner(r io.Reader, listID int, opts *rules.ParsingOptions) (s *RuleScanner) {
	return &RuleScanner{
		reader: bufio.NewReader(r),
		opts:   opts,
		listID: listID,
	}
}

// Scan advances the scanner to the next rule, which will then be available
// through [RuleScanner.Rule].  It returns false when the input is exhausted
// or a reading error occurs, see [RuleScanner.Err].
func (s *RuleScanner) Scan() (ok bool) {
	s.current = nil

	for !s.finished {
		lineIdx := s.pos
		line, n, err := s.readLine()
		s.pos += n
		if err != nil {
			s.finished = true
			if !errors.Is(err, io.EOF) {
				s.err = fmt.Errorf("reading list %d: %w", s.listID, err)

				return false
			}
		}

		if n > MaxLineLength {
			s.skipped++
			s.logSkipped(lineIdx, ErrLineTooLong)

			continue
		}

		f, parseErr := rules.NewRule(line, s.listID, s.opts)
		if parseErr != nil {
			s.skipped++
			s.logSkipped(lineIdx, parseErr)

			continue
		} else if f == nil {
			continue
		}

		s.current, s.idx = f, lineIdx

		return true
	}

	return false
}

// readLine reads the next line.  n is the number of bytes read, line is empty
// if n is greater than [MaxLineLength], so that the long lines aren't
// buffered.
func (s *RuleScanner) readLine() (line string, n int, err error) {
	var buf []byte
	for {
		var frag []byte
		frag, err = s.reader.ReadSlice('\n')
		n += len(frag)
		if n <= MaxLineLength {
			buf = append(buf, frag...)
		} else {
			buf = nil
		}

		if !errors.Is(err, bufio.ErrBufferFull) {
			return string(buf), n, err
		}
	}
}

// logSkipped reports the rejected line if there is a logger.
func (s *RuleScanner) logSkipped(lineIdx int, err error) {
	if s.Logger == nil {
		return
	}

	s.Logger.DebugContext(
		context.Background(),
		"skipped rule",
		"list_id", s.listID,
		"idx", lineIdx,
		slogutil.KeyError, err,
	)
}

// Rule returns the most recent rule and the byte offset of its line within the
// list.
func (s *RuleScanner) Rule() (f *rules.Rule, idx int) {
	return s.current, s.idx
}

// Skipped returns the number of lines rejected by the parser so far.
func (s *RuleScanner) Skipped() (n int) {
	return s.skipped
}

// Err returns the reading error, if any.  Parsing errors are not reported here,
// see [RuleScanner.Skipped].
func (s *RuleScanner) Err() (err error) {
	return s.err
}
