package rules_test

import (
	"strings"
	"testing"

	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/stretchr/testify/assert"
)

func TestNewRequest(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name           string
		url            string
		sourceURL      string
		wantHostname   string
		wantDomain     string
		wantSourceHost string
		wantSourceDom  string
		wantParty      rules.Party
	}{{
		name:           "third_party",
		url:            "https://Cdn.Tracker.com/p.js",
		sourceURL:      "https://www.site.co.uk/page",
		wantHostname:   "cdn.tracker.com",
		wantDomain:     "tracker.com",
		wantSourceHost: "www.site.co.uk",
		wantSourceDom:  "site.co.uk",
		wantParty:      rules.PartyThird,
	}, {
		name:           "first_party",
		url:            "https://cdn.site.co.uk/p.js",
		sourceURL:      "https://www.site.co.uk/page",
		wantHostname:   "cdn.site.co.uk",
		wantDomain:     "site.co.uk",
		wantSourceHost: "www.site.co.uk",
		wantSourceDom:  "site.co.uk",
		wantParty:      rules.PartyFirst,
	}, {
		name:         "no_source",
		url:          "https://example.org/",
		wantHostname: "example.org",
		wantDomain:   "example.org",
		wantParty:    rules.PartyAny,
	}, {
		name:           "ip",
		url:            "http://127.0.0.1:8080/",
		sourceURL:      "http://127.0.0.1/",
		wantHostname:   "127.0.0.1",
		wantDomain:     "127.0.0.1",
		wantSourceHost: "127.0.0.1",
		wantSourceDom:  "127.0.0.1",
		wantParty:      rules.PartyFirst,
	}, {
		name:           "public_suffix",
		url:            "https://co.uk/",
		sourceURL:      "https://example.org/",
		wantHostname:   "co.uk",
		wantDomain:     "co.uk",
		wantSourceHost: "example.org",
		wantSourceDom:  "example.org",
		wantParty:      rules.PartyThird,
	}, {
		name:           "malformed",
		url:            "not a url",
		sourceURL:      "https://example.org/",
		wantSourceHost: "example.org",
		wantSourceDom:  "example.org",
		wantParty:      rules.PartyAny,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := rules.NewRequest(tc.url, tc.sourceURL, rules.TypeOther)
			assert.Equal(t, tc.url, r.URL)
			assert.Equal(t, strings.ToLower(tc.url), r.URLLowerCase)
			assert.Equal(t, tc.wantHostname, r.Hostname)
			assert.Equal(t, tc.wantDomain, r.Domain)
			assert.Equal(t, tc.wantSourceHost, r.SourceHostname)
			assert.Equal(t, tc.wantSourceDom, r.SourceDomain)
			assert.Equal(t, tc.wantParty, r.Party)
		})
	}
}

func TestNewRequest_truncated(t *testing.T) {
	t.Parallel()

	longURL := "https://example.org/" + strings.Repeat("a", 8*1024)
	r := rules.NewRequest(longURL, longURL, rules.TypeOther)

	assert.Len(t, r.URL, 4*1024)
	assert.Len(t, r.SourceURL, 4*1024)
	assert.Equal(t, "example.org", r.Hostname)
}

func TestParseRequestType(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		want rules.RequestType
	}{{
		name: "script",
		want: rules.TypeScript,
	}, {
		name: "Main_Frame",
		want: rules.TypeDocument,
	}, {
		name: "sub_frame",
		want: rules.TypeSubdocument,
	}, {
		name: "fetch",
		want: rules.TypeXmlhttprequest,
	}, {
		name: "beacon",
		want: rules.TypePing,
	}, {
		name: "imageset",
		want: rules.TypeImage,
	}, {
		name: "csp_report",
		want: rules.TypeOther,
	}, {
		name: "",
		want: rules.TypeOther,
	}, {
		name: "unknown",
		want: rules.TypeOther,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, rules.ParseRequestType(tc.name))
		})
	}
}

func TestRequestType_Count(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, rules.RequestType(0).Count())
	assert.Equal(t, 1, rules.TypeScript.Count())
	assert.Equal(t, 2, (rules.TypeScript | rules.TypeImage).Count())
	assert.Equal(t, 12, rules.TypeAll.Count())
}

func TestAnchor_Has(t *testing.T) {
	t.Parallel()

	a := rules.AnchorDomain | rules.AnchorEnd

	assert.True(t, a.Has(rules.AnchorDomain))
	assert.True(t, a.Has(rules.AnchorEnd))
	assert.False(t, a.Has(rules.AnchorStart))
	assert.True(t, rules.AnchorNone.Has(rules.AnchorNone))
}
