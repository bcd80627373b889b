package rules_test

import (
	"testing"

	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_Match(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		want      assert.BoolAssertionFunc
		name      string
		rule      string
		url       string
		sourceURL string
		reqType   rules.RequestType
	}{{
		want:    assert.True,
		name:    "substring",
		rule:    "-ads-.js",
		url:     "http://x.com/a-ads-.js",
		reqType: rules.TypeScript,
	}, {
		want:    assert.True,
		name:    "domain_anchor_same",
		rule:    "||example.com^",
		url:     "https://example.com/x",
		reqType: rules.TypeOther,
	}, {
		want:    assert.True,
		name:    "domain_anchor_subdomain",
		rule:    "||example.com^",
		url:     "https://sub.example.com/x",
		reqType: rules.TypeOther,
	}, {
		want:    assert.False,
		name:    "domain_anchor_not_label_boundary",
		rule:    "||example.com^",
		url:     "https://notexample.com/x",
		reqType: rules.TypeOther,
	}, {
		want:    assert.False,
		name:    "domain_anchor_longer_host",
		rule:    "||example.com^",
		url:     "https://example.com.evil.org/x",
		reqType: rules.TypeOther,
	}, {
		want:    assert.False,
		name:    "domain_anchor_in_path",
		rule:    "||example.com^",
		url:     "https://evil.org/example.com/x",
		reqType: rules.TypeOther,
	}, {
		want:    assert.True,
		name:    "domain_anchor_no_path",
		rule:    "||example.com^",
		url:     "https://example.com",
		reqType: rules.TypeOther,
	}, {
		want:    assert.True,
		name:    "domain_anchor_userinfo_port",
		rule:    "||example.com^",
		url:     "https://user@example.com:8443/",
		reqType: rules.TypeOther,
	}, {
		want:    assert.True,
		name:    "domain_anchor_ip",
		rule:    "||192.168.1.1^",
		url:     "http://192.168.1.1:8080/",
		reqType: rules.TypeOther,
	}, {
		want:    assert.False,
		name:    "domain_anchor_no_host",
		rule:    "||example.com^",
		url:     "example.com/path",
		reqType: rules.TypeOther,
	}, {
		want:    assert.True,
		name:    "start_end_anchor",
		rule:    "|https://example.org/ads|",
		url:     "https://example.org/ads",
		reqType: rules.TypeOther,
	}, {
		want:    assert.False,
		name:    "start_end_anchor_longer",
		rule:    "|https://example.org/ads|",
		url:     "https://example.org/ads/x",
		reqType: rules.TypeOther,
	}, {
		want:    assert.False,
		name:    "start_anchor_not_at_start",
		rule:    "|example.org",
		url:     "https://example.org/",
		reqType: rules.TypeOther,
	}, {
		want:    assert.True,
		name:    "end_anchor",
		rule:    ".js|",
		url:     "https://example.org/app.js",
		reqType: rules.TypeOther,
	}, {
		want:    assert.False,
		name:    "end_anchor_query",
		rule:    ".js|",
		url:     "https://example.org/app.js?v=1",
		reqType: rules.TypeOther,
	}, {
		want:    assert.True,
		name:    "wildcard_separator_end",
		rule:    "/banner/*/img^",
		url:     "http://example.org/banner/foo/img",
		reqType: rules.TypeOther,
	}, {
		want:    assert.True,
		name:    "wildcard_separator_query",
		rule:    "/banner/*/img^",
		url:     "http://example.org/banner/foo/img?x=1",
		reqType: rules.TypeOther,
	}, {
		want:    assert.False,
		name:    "wildcard_needs_gap",
		rule:    "/banner/*/img^",
		url:     "http://example.org/banner/img",
		reqType: rules.TypeOther,
	}, {
		want:    assert.False,
		name:    "separator_not_matching",
		rule:    "/banner/*/img^",
		url:     "http://example.org/banner/foo/imgs",
		reqType: rules.TypeOther,
	}, {
		want:    assert.True,
		name:    "case_insensitive",
		rule:    "/BannerAd",
		url:     "https://example.org/bannerad.png",
		reqType: rules.TypeImage,
	}, {
		want:    assert.True,
		name:    "match_case",
		rule:    "/BannerAd$match-case",
		url:     "https://example.org/BannerAd.png",
		reqType: rules.TypeImage,
	}, {
		want:    assert.False,
		name:    "match_case_different",
		rule:    "/BannerAd$match-case",
		url:     "https://example.org/bannerad.png",
		reqType: rules.TypeImage,
	}, {
		want:    assert.True,
		name:    "type_permitted",
		rule:    "||example.com^$script",
		url:     "https://example.com/app.js",
		reqType: rules.TypeScript,
	}, {
		want:    assert.False,
		name:    "type_not_permitted",
		rule:    "||example.com^$script",
		url:     "https://example.com/app.js",
		reqType: rules.TypeImage,
	}, {
		want:    assert.False,
		name:    "type_restricted",
		rule:    "||example.com^$~image",
		url:     "https://example.com/a.png",
		reqType: rules.TypeImage,
	}, {
		want:    assert.True,
		name:    "type_not_restricted",
		rule:    "||example.com^$~image",
		url:     "https://example.com/a.js",
		reqType: rules.TypeScript,
	}, {
		want:      assert.False,
		name:      "third_party_first",
		rule:      "||tracker.com^$third-party",
		url:       "https://tracker.com/p",
		sourceURL: "https://tracker.com/page",
		reqType:   rules.TypeOther,
	}, {
		want:      assert.True,
		name:      "third_party_third",
		rule:      "||tracker.com^$third-party",
		url:       "https://tracker.com/p",
		sourceURL: "https://site.com/page",
		reqType:   rules.TypeOther,
	}, {
		want:      assert.False,
		name:      "third_party_subdomain",
		rule:      "||tracker.com^$third-party",
		url:       "https://cdn.tracker.com/p",
		sourceURL: "https://www.tracker.com/page",
		reqType:   rules.TypeOther,
	}, {
		want:    assert.False,
		name:    "third_party_unknown",
		rule:    "||tracker.com^$third-party",
		url:     "https://tracker.com/p",
		reqType: rules.TypeOther,
	}, {
		want:      assert.True,
		name:      "first_party",
		rule:      "||tracker.com^$first-party",
		url:       "https://tracker.com/p",
		sourceURL: "https://www.tracker.com/",
		reqType:   rules.TypeOther,
	}, {
		want:      assert.True,
		name:      "domain_permitted",
		rule:      "/ads/$domain=example.org|~sub.example.org",
		url:       "https://cdn.net/ads/1.png",
		sourceURL: "https://www.example.org/",
		reqType:   rules.TypeImage,
	}, {
		want:      assert.False,
		name:      "domain_restricted_wins",
		rule:      "/ads/$domain=example.org|~sub.example.org",
		url:       "https://cdn.net/ads/1.png",
		sourceURL: "https://a.sub.example.org/",
		reqType:   rules.TypeImage,
	}, {
		want:      assert.False,
		name:      "domain_not_permitted",
		rule:      "/ads/$domain=example.org|~sub.example.org",
		url:       "https://cdn.net/ads/1.png",
		sourceURL: "https://other.org/",
		reqType:   rules.TypeImage,
	}, {
		want:    assert.False,
		name:    "domain_permitted_no_source",
		rule:    "/ads/$domain=example.org",
		url:     "https://cdn.net/ads/1.png",
		reqType: rules.TypeImage,
	}, {
		want:    assert.True,
		name:    "domain_restricted_no_source",
		rule:    "/ads/$domain=~example.org",
		url:     "https://cdn.net/ads/1.png",
		reqType: rules.TypeImage,
	}, {
		want:      assert.False,
		name:      "domain_restricted",
		rule:      "/ads/$domain=~example.org",
		url:       "https://cdn.net/ads/1.png",
		sourceURL: "https://example.org/",
		reqType:   rules.TypeImage,
	}, {
		want:      assert.True,
		name:      "domain_wildcard_tld",
		rule:      "/ads/$domain=google.*",
		url:       "https://cdn.net/ads/1.png",
		sourceURL: "https://www.google.co.uk/",
		reqType:   rules.TypeImage,
	}, {
		want:      assert.False,
		name:      "domain_wildcard_not_tld",
		rule:      "/ads/$domain=google.*",
		url:       "https://cdn.net/ads/1.png",
		sourceURL: "https://google.evil.org/",
		reqType:   rules.TypeImage,
	}, {
		want:      assert.True,
		name:      "wide_rule_with_domain",
		rule:      "*$domain=example.org,script",
		url:       "https://cdn.net/lib.js",
		sourceURL: "https://example.org/",
		reqType:   rules.TypeScript,
	}, {
		want:    assert.True,
		name:    "malformed_url_substring",
		rule:    "/ads/",
		url:     "not a url/ads/",
		reqType: rules.TypeOther,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r, err := rules.NewRule(tc.rule, testListID, nil)
			require.NoError(t, err)
			require.NotNil(t, r)

			req := rules.NewRequest(tc.url, tc.sourceURL, tc.reqType)
			tc.want(t, r.Match(req))
		})
	}
}

func BenchmarkRule_Match(b *testing.B) {
	r, err := rules.NewRule("||example.org/banner/*/img^$third-party,image", testListID, nil)
	require.NoError(b, err)

	req := rules.NewRequest(
		"https://cdn.example.org/banner/top/img?size=300x250",
		"https://news.site.com/article",
		rules.TypeImage,
	)

	var ok bool

	b.ReportAllocs()
	for b.Loop() {
		ok = r.Match(req)
	}

	assert.True(b, ok)
}
