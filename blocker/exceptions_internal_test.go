package blocker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchException(t *testing.T) {
	t.Parallel()

	excs := []FilterException{{
		Type:   ExceptionTypeHost,
		Source: "example.com",
	}, {
		Type:   ExceptionTypePage,
		Source: "news.org/story/",
	}}

	testCases := []struct {
		want assert.BoolAssertionFunc
		name string
		url  string
	}{{
		want: assert.True,
		name: "host",
		url:  "https://example.com/anything?q=1",
	}, {
		want: assert.True,
		name: "host_with_port",
		url:  "http://example.com:8080/",
	}, {
		want: assert.False,
		name: "subdomain",
		url:  "https://www.example.com/",
	}, {
		want: assert.True,
		name: "page",
		url:  "https://News.org/story/?utm=1#top",
	}, {
		want: assert.False,
		name: "other_page",
		url:  "https://news.org/story/2",
	}, {
		want: assert.False,
		name: "no_host",
		url:  "",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.want(t, matchException(excs, tc.url))
		})
	}
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	u, err := parseSource("  Example.COM/Path ")
	require.NoError(t, err)

	assert.Equal(t, "scheme", u.Scheme)
	assert.Equal(t, "example.com", u.Host)
	assert.Equal(t, "/path", u.Path)

	_, err = parseSource("https://")
	assert.Error(t, err)
}
