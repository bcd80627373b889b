package blocker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/c2h5oh/datasize"
)

// RulesetMetadata describes a ruleset available from a [RulesetProvider].
type RulesetMetadata struct {
	// UpdatedAt is the time of the last change of the ruleset.
	UpdatedAt time.Time `json:"updatedAt"`

	// Type is the category of the ruleset.
	Type RulesetType `json:"type"`

	// Location identifies the ruleset within its provider.  It is used as the
	// key of the cached data.
	Location string `json:"location"`
}

// RulesetContent is a downloaded ruleset.
type RulesetContent struct {
	// Data is the text of the ruleset.
	Data string `json:"data"`

	// CacheKey identifies this version of the ruleset.  It is empty if the
	// provider doesn't support conditional downloads.
	CacheKey string `json:"cacheKey"`
}

// RulesetProvider is the source of the rulesets.
type RulesetProvider interface {
	// ListRulesets returns the metadata of all available rulesets.
	ListRulesets(ctx context.Context) (rulesets []*RulesetMetadata, err error)

	// DownloadRuleset returns the content of the ruleset at location.  If
	// cacheKey is not empty and the ruleset hasn't changed since the version
	// with that key, it returns [ErrNotModified].
	DownloadRuleset(ctx context.Context, location, cacheKey string) (c *RulesetContent, err error)
}

// Header names used for conditional downloads.
const (
	hdrETag        = "ETag"
	hdrIfNoneMatch = "If-None-Match"
)

// HTTPProviderConfig is the configuration structure for a [*HTTPProvider].
type HTTPProviderConfig struct {
	// Client is used to make the requests.  If nil, [http.DefaultClient] is
	// used.
	Client *http.Client

	// IndexURL is the URL of a JSON array of [RulesetMetadata].  Relative
	// locations are resolved against it.  It must not be nil.
	IndexURL *url.URL

	// UserAgent is the value of the User-Agent header, if not empty.
	UserAgent string

	// MaxSize is the maximum size of a response body.
	MaxSize datasize.ByteSize
}

// HTTPProvider is a [RulesetProvider] downloading the rulesets over HTTP.  It
// uses ETag headers as the cache keys.
type HTTPProvider struct {
	client    *http.Client
	indexURL  *url.URL
	userAgent string
	maxSize   datasize.ByteSize
}

// NewHTTPProvider returns a new properly initialized *HTTPProvider.  c must
// not be nil.
func NewHTTPProvider(c *HTTPProviderConfig) (p *HTTPProvider) {
	cli := c.Client
	if cli == nil {
		cli = http.DefaultClient
	}

	return &HTTPProvider{
		client:    cli,
		indexURL:  c.IndexURL,
		userAgent: c.UserAgent,
		maxSize:   c.MaxSize,
	}
}

// type check
var _ RulesetProvider = (*HTTPProvider)(nil)

// ListRulesets implements the [RulesetProvider] interface for *HTTPProvider.
func (p *HTTPProvider) ListRulesets(ctx context.Context) (rulesets []*RulesetMetadata, err error) {
	defer func() { err = errors.Annotate(err, "listing rulesets: %w") }()

	body, _, err := p.get(ctx, p.indexURL.String(), "")
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	err = json.Unmarshal(body, &rulesets)
	if err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}

	return rulesets, nil
}

// DownloadRuleset implements the [RulesetProvider] interface for
// *HTTPProvider.
func (p *HTTPProvider) DownloadRuleset(
	ctx context.Context,
	location string,
	cacheKey string,
) (c *RulesetContent, err error) {
	u, err := p.indexURL.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("resolving location %q: %w", location, err)
	}

	body, etag, err := p.get(ctx, u.String(), cacheKey)
	if err != nil {
		if errors.Is(err, ErrNotModified) {
			return nil, err
		}

		return nil, fmt.Errorf("downloading ruleset %q: %w", location, err)
	}

	return &RulesetContent{
		Data:     string(body),
		CacheKey: etag,
	}, nil
}

// get requests urlStr and returns the response body and the ETag.  If etag is
// not empty, the request is conditional and [ErrNotModified] is returned if
// the server responds with 304.
func (p *HTTPProvider) get(
	ctx context.Context,
	urlStr string,
	etag string,
) (body []byte, respETag string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, "", fmt.Errorf("making request for http url %q: %w", urlStr, err)
	}

	if p.userAgent != "" {
		req.Header.Set(httphdr.UserAgent, p.userAgent)
	}

	if etag != "" {
		req.Header.Set(hdrIfNoneMatch, etag)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("requesting from http url: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	switch resp.StatusCode {
	case http.StatusOK:
		// Go on.
	case http.StatusNotModified:
		return nil, "", ErrNotModified
	default:
		return nil, "", fmt.Errorf("got status code %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err = io.ReadAll(ioutil.LimitReader(resp.Body, p.maxSize.Bytes()))
	if err != nil {
		return nil, "", fmt.Errorf("reading response: %w", err)
	}

	return body, resp.Header.Get(hdrETag), nil
}

// StaticRuleset is a ruleset served by a [StaticProvider].
type StaticRuleset struct {
	// Metadata describes the ruleset.  It must not be nil.
	Metadata *RulesetMetadata

	// Data is the text of the ruleset.
	Data string
}

// StaticProvider is a [RulesetProvider] serving rulesets kept in memory.  The
// cache key of a ruleset is its update time.
type StaticProvider struct {
	// mu protects rulesets.
	mu *sync.Mutex

	rulesets []*StaticRuleset
}

// NewStaticProvider returns a new *StaticProvider serving rulesets.
func NewStaticProvider(rulesets ...*StaticRuleset) (p *StaticProvider) {
	return &StaticProvider{
		mu:       &sync.Mutex{},
		rulesets: rulesets,
	}
}

// type check
var _ RulesetProvider = (*StaticProvider)(nil)

// Set replaces the served rulesets.
func (p *StaticProvider) Set(rulesets ...*StaticRuleset) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rulesets = rulesets
}

// ListRulesets implements the [RulesetProvider] interface for *StaticProvider.
func (p *StaticProvider) ListRulesets(_ context.Context) (rulesets []*RulesetMetadata, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, rs := range p.rulesets {
		md := *rs.Metadata
		rulesets = append(rulesets, &md)
	}

	return rulesets, nil
}

// DownloadRuleset implements the [RulesetProvider] interface for
// *StaticProvider.
func (p *StaticProvider) DownloadRuleset(
	_ context.Context,
	location string,
	cacheKey string,
) (c *RulesetContent, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := slices.IndexFunc(p.rulesets, func(rs *StaticRuleset) (ok bool) {
		return rs.Metadata.Location == location
	})
	if i < 0 {
		return nil, fmt.Errorf("ruleset %q: %w", location, errors.ErrNoValue)
	}

	rs := p.rulesets[i]
	key := rs.Metadata.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if key == cacheKey {
		return nil, ErrNotModified
	}

	return &RulesetContent{
		Data:     rs.Data,
		CacheKey: key,
	}, nil
}
