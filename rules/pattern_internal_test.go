package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPattern_match(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		want    assert.BoolAssertionFunc
		name    string
		pattern string
		s       string
	}{{
		want:    assert.True,
		name:    "wildcards",
		pattern: "a*b*c",
		s:       "xxaxxbxxcxx",
	}, {
		want:    assert.False,
		name:    "wildcards_order",
		pattern: "a*b*c",
		s:       "xxcxxbxxaxx",
	}, {
		want:    assert.True,
		name:    "retry_after_last_star",
		pattern: "ab*abc",
		s:       "ab-ababc",
	}, {
		want:    assert.True,
		name:    "end_anchor_retry",
		pattern: "a*bc|",
		s:       "abcbc",
	}, {
		want:    assert.False,
		name:    "end_anchor_no_match",
		pattern: "a*bc|",
		s:       "abcbcx",
	}, {
		want:    assert.True,
		name:    "trailing_wildcard_end_anchor",
		pattern: "|ab*|",
		s:       "abcdef",
	}, {
		want:    assert.True,
		name:    "separator_at_end_after_star",
		pattern: "a*b^",
		s:       "axxb",
	}, {
		want:    assert.True,
		name:    "separator_retry",
		pattern: "a*b^c",
		s:       "abxb/c",
	}, {
		want:    assert.True,
		name:    "start_anchor_star",
		pattern: "|a*c",
		s:       "abbbc",
	}, {
		want:    assert.False,
		name:    "start_anchor_star_no_match",
		pattern: "|a*c",
		s:       "babbbc",
	}, {
		want:    assert.True,
		name:    "separator_then_star",
		pattern: "/ads^*/img",
		s:       "http://x.com/ads/top/img",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, a, err := parsePattern(tc.pattern, false)
			require.NoError(t, err)

			tc.want(t, p.match(tc.s, a, 0, 0, false))
		})
	}
}

func TestPattern_match_manyWildcards(t *testing.T) {
	t.Parallel()

	p, a, err := parsePattern("aaa*aaa*aaa*aaa*aaa*b", false)
	require.NoError(t, err)

	s := "http://x.com/" + strings.Repeat("a", 4000)

	resCh := make(chan bool, 1)
	go func() {
		resCh <- p.match(s, a, 0, 0, false)
	}()

	res, ok := testutil.RequireReceive(t, resCh, 1*time.Second)
	require.True(t, ok)

	assert.False(t, res)
}

func BenchmarkPattern_match_manyWildcards(b *testing.B) {
	p, a, err := parsePattern("aaa*aaa*aaa*aaa*aaa*b", false)
	require.NoError(b, err)

	s := "http://x.com/" + strings.Repeat("a", 4000)

	var ok bool

	b.ReportAllocs()
	for b.Loop() {
		ok = p.match(s, a, 0, 0, false)
	}

	assert.False(b, ok)
}
