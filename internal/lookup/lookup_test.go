package lookup_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/AdguardTeam/reqfilter/internal/lookup"
	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRules parses the lines into rules and fails the test on any error.
func newRules(tb testing.TB, lines ...string) (rs []*rules.Rule) {
	tb.Helper()

	for _, line := range lines {
		f, err := rules.NewRule(line, 0, nil)
		require.NoError(tb, err)
		require.NotNil(tb, f)

		rs = append(rs, f)
	}

	return rs
}

// ruleTexts returns the texts of the candidates for urlStr.
func ruleTexts(store *lookup.Store, urlStr string) (texts []string) {
	for f := range store.Candidates(strings.ToLower(urlStr)) {
		texts = append(texts, f.Text())
	}

	return texts
}

func TestBuild(t *testing.T) {
	t.Parallel()

	rs := newRules(t,
		"||example.org^",
		"ad^",
		"|https:",
		"-ads-.js",
		"-ads-.js",
	)

	store := lookup.Build(rs)
	assert.Equal(t, len(rs), store.Len())
	assert.Equal(t, 2, store.FallbackLen())
}

func TestStore_Candidates(t *testing.T) {
	t.Parallel()

	store := lookup.Build(newRules(t,
		"||example.org^",
		"ad^",
		"-ads-.js",
		"@@-ads-.js",
		"/banner/$image",
		"|https:",
	))

	testCases := []struct {
		name   string
		urlStr string
		want   []string
	}{{
		name:   "fallback_only",
		urlStr: "https://other.net/",
		want:   []string{"ad^", "|https:"},
	}, {
		name:   "token",
		urlStr: "https://example.org/",
		want:   []string{"ad^", "|https:", "||example.org^"},
	}, {
		name:   "same_bucket_order",
		urlStr: "http://x.com/a-ads-.js",
		want:   []string{"ad^", "|https:", "-ads-.js", "@@-ads-.js"},
	}, {
		name:   "case_insensitive",
		urlStr: "https://cdn.net/BANNER/1.png",
		want:   []string{"ad^", "|https:", "/banner/$image"},
	}, {
		name:   "repeating",
		urlStr: "https://cdn.net/banner/banner/banner/",
		want:   []string{"ad^", "|https:", "/banner/$image"},
	}, {
		name:   "empty_url",
		urlStr: "",
		want:   []string{"ad^", "|https:"},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, ruleTexts(store, tc.urlStr))
		})
	}
}

func TestStore_Candidates_stop(t *testing.T) {
	t.Parallel()

	store := lookup.Build(newRules(t, "ad^", "||example.org^", "/example/"))

	var got []string
	for f := range store.Candidates("https://example.org/example/") {
		got = append(got, f.Text())

		if len(got) == 2 {
			break
		}
	}

	assert.Equal(t, []string{"ad^", "/example/"}, got)
}

// TestStore_Candidates_tokenInURL checks that a rule whose token is a
// substring of the URL is always a candidate, whichever key has been chosen
// for it.
func TestStore_Candidates_tokenInURL(t *testing.T) {
	t.Parallel()

	lines := []string{
		"/banner/ads/",
		"/banner/top/",
		"/banner/",
		"||banner.example^",
		"-banner-",
		"bannerad",
	}

	store := lookup.Build(newRules(t, lines...))
	require.Zero(t, store.FallbackLen())

	urls := []string{
		"https://cdn.net/banner/ads/1.png",
		"https://cdn.net/banner/top/1.png",
		"https://banner.example/x-banner-y",
		"https://cdn.net/bannerad.gif",
	}

	for _, u := range urls {
		got := ruleTexts(store, u)
		for _, line := range lines {
			f := newRules(t, line)[0]
			if !strings.Contains(u, f.Token()) {
				continue
			}

			assert.Truef(t, slices.Contains(got, line), "url %q, rule %q", u, line)
		}
	}
}

func BenchmarkStore_Candidates(b *testing.B) {
	var lines []string
	for _, host := range []string{"ads", "tracker", "banner", "metrics", "pixel"} {
		for _, tld := range []string{"com", "net", "org", "io"} {
			lines = append(lines, "||"+host+"."+tld+"^", "/"+host+"/"+tld+"/*.js")
		}
	}

	store := lookup.Build(newRules(b, lines...))
	urlLower := "https://cdn.tracker.net/pixel/io/main.js?v=1&ref=https%3a%2f%2fnews.com"

	var n int

	b.ReportAllocs()
	for b.Loop() {
		n = 0
		for range store.Candidates(urlLower) {
			n++
		}
	}

	assert.Positive(b, n)
}
