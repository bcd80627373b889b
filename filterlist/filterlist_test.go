package filterlist_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/reqfilter/filterlist"
	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRulesText is the contents of a list used in tests.  The offsets of the
// lines are 0, 15, 22, 31, 41, 51, and 52.
const testRulesText = "||example.org^\n! test\n##banner\n$popup,js\n-ads-.js\r\n\n@@/ads/\n"

// scanAll returns the texts and the offsets of all rules of sc.
func scanAll(sc interface {
	Scan() bool
	Rule() (*rules.Rule, int)
},
) (texts []string, idxs []int) {
	for sc.Scan() {
		f, idx := sc.Rule()
		texts = append(texts, f.Text())
		idxs = append(idxs, idx)
	}

	return texts, idxs
}

func TestStringRuleList(t *testing.T) {
	t.Parallel()

	l := &filterlist.StringRuleList{
		RulesText: testRulesText,
		ID:        1,
	}
	testutil.CleanupAndRequireSuccess(t, l.Close)

	assert.Equal(t, 1, l.GetID())

	sc := l.NewScanner()
	texts, idxs := scanAll(sc)
	require.NoError(t, sc.Err())

	assert.Equal(t, []string{"||example.org^", "-ads-.js", "@@/ads/"}, texts)
	assert.Equal(t, []int{0, 41, 52}, idxs)
	assert.Equal(t, 1, sc.Skipped())

	// Check that nothing breaks if we read a finished scanner.
	assert.False(t, sc.Scan())
	f, _ := sc.Rule()
	assert.Nil(t, f)
}

func TestStringRuleList_options(t *testing.T) {
	t.Parallel()

	l := &filterlist.StringRuleList{
		RulesText: "||example.org^\n@@||example.com^",
		Options: rules.ParsingOptions{
			TreatAsExceptionDefault: true,
		},
		ID: 2,
	}

	sc := l.NewScanner()
	for sc.Scan() {
		f, _ := sc.Rule()
		assert.True(t, f.IsException())
		assert.Equal(t, 2, f.FilterListID())
	}
}

func TestFileRuleList(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "list.txt")
	err := os.WriteFile(path, []byte(testRulesText), 0o600)
	require.NoError(t, err)

	l, err := filterlist.NewFileRuleList(3, path, nil)
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, l.Close)

	assert.Equal(t, 3, l.GetID())

	// Two scanners read the file independently.
	first, second := l.NewScanner(), l.NewScanner()

	firstTexts, _ := scanAll(first)
	secondTexts, _ := scanAll(second)

	assert.Equal(t, []string{"||example.org^", "-ads-.js", "@@/ads/"}, firstTexts)
	assert.Equal(t, firstTexts, secondTexts)
}

func TestNewFileRuleList_notExist(t *testing.T) {
	t.Parallel()

	l, err := filterlist.NewFileRuleList(1, filepath.Join(t.TempDir(), "none.txt"), nil)
	assert.Nil(t, l)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRuleScanner_longLine(t *testing.T) {
	t.Parallel()

	long := "/" + strings.Repeat("a", 128*1024) + "/banner"
	sc := filterlist.NewRuleScanner(strings.NewReader(long+"\n||example.org^"), 1, nil)

	texts, idxs := scanAll(sc)
	require.NoError(t, sc.Err())

	assert.Equal(t, []string{"||example.org^"}, texts)
	assert.Equal(t, []int{len(long) + 1}, idxs)
	assert.Equal(t, 1, sc.Skipped())
}

func TestRuleScanner_maxLineLength(t *testing.T) {
	t.Parallel()

	// The longest accepted line, together with its terminator.
	line := "/" + strings.Repeat("a", filterlist.MaxLineLength-len("/banner\n")-1) + "/banner"
	require.Len(t, line+"\n", filterlist.MaxLineLength)

	sc := filterlist.NewRuleScanner(strings.NewReader(line+"\n"+line+"x"), 1, nil)

	texts, idxs := scanAll(sc)
	require.NoError(t, sc.Err())

	assert.Equal(t, []string{line, line + "x"}, texts)
	assert.Equal(t, []int{0, len(line) + 1}, idxs)
	assert.Zero(t, sc.Skipped())
}

func TestRuleScanner_readError(t *testing.T) {
	t.Parallel()

	const testError errors.Error = "test error"

	sc := filterlist.NewRuleScanner(iotest.ErrReader(testError), 1, nil)
	sc.Logger = slogutil.NewDiscardLogger()

	assert.False(t, sc.Scan())
	assert.ErrorIs(t, sc.Err(), testError)
}

func TestRuleStorage(t *testing.T) {
	t.Parallel()

	list1 := &filterlist.StringRuleList{
		RulesText: "||example.org\n! test\n##banner\n$popup,js",
		ID:        1,
	}
	list2 := &filterlist.StringRuleList{
		RulesText: "||example.com\n! test\n##advert",
		ID:        2,
	}

	s, err := filterlist.NewRuleStorage([]filterlist.RuleList{list1, list2})
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, s.Close)

	sc := s.NewRuleStorageScanner(slogutil.NewDiscardLogger())

	var ids []int
	for sc.Scan() {
		f, _ := sc.Rule()
		ids = append(ids, f.FilterListID())
	}

	require.NoError(t, sc.Err())

	assert.Equal(t, []int{1, 2}, ids)
	assert.Equal(t, 1, sc.Skipped())

	// Check that nothing breaks if we read a finished scanner.
	assert.False(t, sc.Scan())
	f, _ := sc.Rule()
	assert.Nil(t, f)
}

func TestNewRuleStorage_duplicate(t *testing.T) {
	t.Parallel()

	lists := []filterlist.RuleList{
		&filterlist.StringRuleList{ID: 1},
		&filterlist.StringRuleList{ID: 1},
	}

	s, err := filterlist.NewRuleStorage(lists)
	assert.Nil(t, s)
	testutil.AssertErrorMsg(t, "list at index 1: duplicate list id: 1", err)
}
