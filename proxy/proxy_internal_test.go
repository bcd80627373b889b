package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/reqfilter"
	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

func TestRequestTypeFromMediaType(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want rules.RequestType
	}{{
		in:   "text/html",
		want: rules.TypeDocument,
	}, {
		in:   "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		want: rules.TypeDocument,
	}, {
		in:   "text/css",
		want: rules.TypeStylesheet,
	}, {
		in:   "text/javascript",
		want: rules.TypeScript,
	}, {
		in:   "image/png",
		want: rules.TypeImage,
	}, {
		in:   "font/woff2",
		want: rules.TypeFont,
	}, {
		in:   "application/json",
		want: rules.TypeXmlhttprequest,
	}, {
		in:   "*/*",
		want: rules.TypeOther,
	}}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, requestTypeFromMediaType(tc.in))
		})
	}
}

func TestRequestTypeFromURL(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("http://example.org/script.JS?v=1")
	require.NoError(t, err)

	assert.Equal(t, rules.TypeScript, requestTypeFromURL(u))

	u, err = url.Parse("http://example.org/style.css")
	require.NoError(t, err)

	assert.Equal(t, rules.TypeStylesheet, requestTypeFromURL(u))

	u, err = url.Parse("http://example.org/page")
	require.NoError(t, err)

	assert.Equal(t, rules.TypeOther, requestTypeFromURL(u))
}

func TestNewSession(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://cdn.example/lib.js", nil)
	req.Header.Set("Referer", "http://site.example/page")

	s := NewSession("1", req)
	assert.Equal(t, rules.TypeScript, s.Request.RequestType)
	assert.Equal(t, "site.example", s.Request.SourceHostname)
	assert.Equal(t, rules.PartyThird, s.Request.Party)

	resp := &http.Response{
		Header: http.Header{},
	}
	resp.Header.Set(httphdr.ContentType, "image/gif")

	s.SetResponse(resp)
	assert.Equal(t, rules.TypeImage, s.Request.RequestType)
	assert.Equal(t, "image/gif", s.MediaType)
}

// newTestServer returns a proxy server with the engine of the list.
func newTestServer(list string) (s *Server) {
	l := slogutil.NewDiscardLogger()

	return NewServer(&Config{
		Logger: l,
		Holder: reqfilter.NewHolder(&reqfilter.HolderConfig{
			Logger: l,
			Engine: reqfilter.NewEngine(list, nil),
		}),
	})
}

func TestServer_check(t *testing.T) {
	t.Parallel()

	s := newTestServer("||ads.example^$script\n@@||ads.example/allowed/")
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	req := httptest.NewRequest(http.MethodGet, "http://ads.example/banner.js", nil)
	res := s.check(ctx, NewSession("1", req))
	require.NotNil(t, res)

	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", res.Header.Get(httphdr.ContentType))

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "ads.example"))
	assert.True(t, strings.Contains(string(body), "||ads.example^$script"))

	req = httptest.NewRequest(http.MethodGet, "http://ads.example/allowed/x.js", nil)
	assert.Nil(t, s.check(ctx, NewSession("2", req)))

	req = httptest.NewRequest(http.MethodGet, "http://ads.example/pic.png", nil)
	assert.Nil(t, s.check(ctx, NewSession("3", req)))
}

func TestServer_filterResponse(t *testing.T) {
	t.Parallel()

	s := newTestServer("||ads.example^$script")
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	req := httptest.NewRequest(http.MethodGet, "http://ads.example/loader", nil)
	session := NewSession("1", req)
	require.Nil(t, s.check(ctx, session))

	resp := &http.Response{
		Header: http.Header{},
	}
	resp.Header.Set(httphdr.ContentType, "application/javascript; charset=utf-8")

	res := s.filterResponse(ctx, session, resp)
	require.NotNil(t, res)

	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "http://ads.example/page", nil)
	session = NewSession("2", req)

	resp = &http.Response{
		Header: http.Header{},
	}
	resp.Header.Set(httphdr.ContentType, "text/html")

	assert.Nil(t, s.filterResponse(ctx, session, resp))
	assert.Nil(t, s.filterResponse(ctx, session, nil))
}
