package blocker_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/reqfilter/blocker"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testETag is the ETag of the ruleset served in tests.
const testETag = `"v1"`

// newTestServer returns a server with the index at /index.json and a single
// ruleset at /lists/ads.txt.  The number of ruleset downloads is counted in
// downloads.
func newTestServer(t *testing.T, downloads *atomic.Int32) (u *url.URL) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{
			"type": "ad-blocking",
			"location": "lists/ads.txt",
			"updatedAt": "2024-01-02T03:04:05Z"
		}]`))
	})
	mux.HandleFunc("/lists/ads.txt", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == testETag {
			w.WriteHeader(http.StatusNotModified)

			return
		}

		downloads.Add(1)
		w.Header().Set("ETag", testETag)
		_, _ = w.Write([]byte("||ads.example^\n"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL + "/index.json")
	require.NoError(t, err)

	return u
}

func TestHTTPProvider(t *testing.T) {
	t.Parallel()

	downloads := &atomic.Int32{}
	p := blocker.NewHTTPProvider(&blocker.HTTPProviderConfig{
		IndexURL: newTestServer(t, downloads),
		MaxSize:  1 * datasize.MB,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	mds, err := p.ListRulesets(ctx)
	require.NoError(t, err)
	require.Len(t, mds, 1)

	md := mds[0]
	assert.Equal(t, blocker.RulesetTypeAdBlocking, md.Type)
	assert.Equal(t, "lists/ads.txt", md.Location)
	assert.True(t, md.UpdatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	c, err := p.DownloadRuleset(ctx, md.Location, "")
	require.NoError(t, err)

	assert.Equal(t, "||ads.example^\n", c.Data)
	assert.Equal(t, testETag, c.CacheKey)

	c, err = p.DownloadRuleset(ctx, md.Location, testETag)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, blocker.ErrNotModified)

	assert.Equal(t, int32(1), downloads.Load())

	_, err = p.DownloadRuleset(ctx, "lists/none.txt", "")
	testutil.AssertErrorMsg(
		t,
		`downloading ruleset "lists/none.txt": got status code 404, want 200`,
		err,
	)
}

func TestHTTPProvider_maxSize(t *testing.T) {
	t.Parallel()

	p := blocker.NewHTTPProvider(&blocker.HTTPProviderConfig{
		IndexURL: newTestServer(t, &atomic.Int32{}),
		MaxSize:  4 * datasize.B,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	_, err := p.DownloadRuleset(ctx, "lists/ads.txt", "")
	assert.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()

	updated := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := blocker.NewStaticProvider(&blocker.StaticRuleset{
		Metadata: &blocker.RulesetMetadata{
			UpdatedAt: updated,
			Type:      blocker.RulesetTypePrivacy,
			Location:  "privacy",
		},
		Data: "||tracker.example^",
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	mds, err := p.ListRulesets(ctx)
	require.NoError(t, err)
	require.Len(t, mds, 1)

	assert.Equal(t, blocker.RulesetTypePrivacy, mds[0].Type)

	c, err := p.DownloadRuleset(ctx, "privacy", "")
	require.NoError(t, err)

	assert.Equal(t, "||tracker.example^", c.Data)
	assert.NotEmpty(t, c.CacheKey)

	_, err = p.DownloadRuleset(ctx, "privacy", c.CacheKey)
	assert.ErrorIs(t, err, blocker.ErrNotModified)

	_, err = p.DownloadRuleset(ctx, "none", "")
	assert.Error(t, err)
}
