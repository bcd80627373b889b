package blocker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/reqfilter"
	"github.com/AdguardTeam/reqfilter/filterlist"
	"github.com/AdguardTeam/reqfilter/internal/metrics"
	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/bluele/gcache"
)

// Storage keys of the client state.  Cached rulesets are stored under their
// locations.
const (
	keyExceptions     = "exceptions"
	keyActiveRulesets = "activeRulesets"
	keyRulesets       = "rulesets"
)

// Config is the configuration structure for a [*Client].
type Config struct {
	// Logger is used for logging the operation of the client.  It must not be
	// nil.
	Logger *slog.Logger

	// Storage keeps the client state between the runs.  If nil, a new
	// [MemoryStorage] is used.
	Storage StorageProvider

	// Provider is the source of the rulesets.  It must not be nil.
	Provider RulesetProvider

	// Metrics is used to record the builds and the checks.  If nil,
	// [metrics.Empty] is used.
	Metrics metrics.Interface

	// OnStatusChanged, if not nil, is called with the new status each time it
	// changes.  It must not call the methods of the client that change the
	// status.
	OnStatusChanged func(s Status)

	// CacheSize is the number of verdicts kept in the LRU cache.  If zero, the
	// verdicts aren't cached.
	CacheSize int
}

// Client keeps the rulesets, the user exceptions, and the filtering engine
// built of the active rulesets.  Client is safe for concurrent use.
type Client struct {
	logger          *slog.Logger
	storage         StorageProvider
	provider        RulesetProvider
	holder          *reqfilter.Holder
	cache           gcache.Cache
	onStatusChanged func(s Status)

	// updateMu serializes the updates.
	updateMu *sync.Mutex

	// mu protects status, exceptions, and built.
	mu         *sync.RWMutex
	status     Status
	exceptions []FilterException
	built      bool
}

// NewClient returns a new properly initialized *Client.  c must not be nil.
// The client starts in the [StatusNeedsUpdate] state.
func NewClient(c *Config) (cli *Client) {
	storage := c.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}

	cli = &Client{
		logger:   c.Logger,
		storage:  storage,
		provider: c.Provider,
		holder: reqfilter.NewHolder(&reqfilter.HolderConfig{
			Logger:    c.Logger,
			Metrics:   c.Metrics,
			Component: metrics.ComponentClient,
		}),
		onStatusChanged: c.OnStatusChanged,
		updateMu:        &sync.Mutex{},
		mu:              &sync.RWMutex{},
		status:          StatusNeedsUpdate,
	}

	if c.CacheSize > 0 {
		cli.cache = gcache.New(c.CacheSize).LRU().Build()
	}

	return cli
}

// Status returns the current status of the client.
func (c *Client) Status() (s Status) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status
}

// setStatus changes the status and calls the callback if it's different.
func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()

	if changed && c.onStatusChanged != nil {
		c.onStatusChanged(s)
	}
}

// Update downloads the rulesets that have changed, reloads the exceptions,
// and rebuilds the engine of the active rulesets.  The status becomes
// [StatusReady] on success and [StatusError] on failure, in which case the
// previous engine is kept.
func (c *Client) Update(ctx context.Context) (err error) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	err = c.update(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "updating rulesets", slogutil.KeyError, err)
		c.setStatus(StatusError)

		return fmt.Errorf("updating rulesets: %w", err)
	}

	c.logger.InfoContext(ctx, "filter engine is ready")
	c.setStatus(StatusReady)

	return nil
}

// update is the implementation of [Client.Update].
func (c *Client) update(ctx context.Context) (err error) {
	mds, err := c.provider.ListRulesets(ctx)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	err = c.setJSON(ctx, keyRulesets, mds)
	if err != nil {
		return fmt.Errorf("caching metadata: %w", err)
	}

	active, err := c.ActiveRulesets(ctx)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	var lists []filterlist.RuleList
	for i, md := range mds {
		var data string
		data, err = c.downloadRuleset(ctx, md.Location)
		if err != nil {
			return fmt.Errorf("ruleset at index %d: %w", i, err)
		}

		if slices.Contains(active, md.Type) {
			lists = append(lists, &filterlist.StringRuleList{
				RulesText: data,
				ID:        i + 1,
			})
		}
	}

	_, err = c.Exceptions(ctx)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	err = c.holder.Reload(ctx, lists...)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	c.mu.Lock()
	c.built = true
	c.mu.Unlock()

	if c.cache != nil {
		c.cache.Purge()
	}

	return nil
}

// downloadRuleset returns the data of the ruleset at location, either the
// downloaded or the cached one.
func (c *Client) downloadRuleset(ctx context.Context, location string) (data string, err error) {
	c.logger.InfoContext(ctx, "syncing ruleset", "location", location)

	cached := &RulesetContent{}
	ok, err := c.getJSON(ctx, location, cached)
	if err != nil {
		return "", fmt.Errorf("getting cached ruleset: %w", err)
	}

	var cacheKey string
	if ok {
		cacheKey = cached.CacheKey
	}

	content, err := c.provider.DownloadRuleset(ctx, location, cacheKey)
	if errors.Is(err, ErrNotModified) {
		if !ok {
			return "", fmt.Errorf("ruleset %q not modified: %w", location, errors.ErrNoValue)
		}

		c.logger.DebugContext(ctx, "ruleset is available in cache", "location", location)

		return cached.Data, nil
	} else if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return "", err
	}

	c.logger.DebugContext(ctx, "ruleset downloaded", "location", location)

	if content.CacheKey != "" {
		err = c.setJSON(ctx, location, content)
		if err != nil {
			return "", fmt.Errorf("caching ruleset: %w", err)
		}
	}

	return content.Data, nil
}

// Reset removes the exceptions and the active rulesets from the storage and
// updates the client, so that the engine is rebuilt of the
// [DefaultActiveRulesets].
func (c *Client) Reset(ctx context.Context) (err error) {
	err = errors.Join(
		c.storage.Delete(ctx, keyExceptions),
		c.storage.Delete(ctx, keyActiveRulesets),
	)
	if err != nil {
		return fmt.Errorf("resetting: %w", err)
	}

	c.mu.Lock()
	c.exceptions = nil
	c.mu.Unlock()

	return c.Update(ctx)
}

// ListRulesets returns the metadata of the rulesets known after the last
// update.  It returns [ErrRulesetDataNotPresent] if the client needs an
// update.
func (c *Client) ListRulesets(ctx context.Context) (mds []*RulesetMetadata, err error) {
	if c.Status() == StatusNeedsUpdate {
		return nil, ErrRulesetDataNotPresent
	}

	ok, err := c.getJSON(ctx, keyRulesets, &mds)
	if err != nil {
		return nil, fmt.Errorf("listing rulesets: %w", err)
	} else if !ok {
		c.setStatus(StatusNeedsUpdate)

		return nil, ErrRulesetDataNotPresent
	}

	return mds, nil
}

// ActiveRulesets returns the types of the rulesets used to build the engine.
// It returns [DefaultActiveRulesets] if they have never been set.
func (c *Client) ActiveRulesets(ctx context.Context) (types []RulesetType, err error) {
	ok, err := c.getJSON(ctx, keyActiveRulesets, &types)
	if err != nil {
		return nil, fmt.Errorf("getting active rulesets: %w", err)
	} else if !ok {
		return DefaultActiveRulesets(), nil
	}

	return types, nil
}

// SetActiveRulesets stores the types of the rulesets used to build the engine
// and updates the client.
func (c *Client) SetActiveRulesets(ctx context.Context, types []RulesetType) (err error) {
	if types == nil {
		types = []RulesetType{}
	}

	err = c.setJSON(ctx, keyActiveRulesets, types)
	if err != nil {
		return fmt.Errorf("setting active rulesets: %w", err)
	}

	return c.Update(ctx)
}

// validSchemes are the schemes of the URLs accepted by [Client.CheckURL].
var validSchemes = []string{"http", "https", "ws", "wss"}

// CheckURL returns the verdict for the request to rawURL made from the page at
// sourceURL.  sourceURL and resourceType may be empty.  Requests from the
// pages matching the exceptions are always allowed.
func (c *Client) CheckURL(
	ctx context.Context,
	rawURL string,
	sourceURL string,
	resourceType string,
) (res Result, err error) {
	c.mu.RLock()
	built, status, excs := c.built, c.status, c.exceptions
	c.mu.RUnlock()

	if !built {
		return "", ErrEngineNotAvailable
	} else if status == StatusNeedsUpdate {
		return "", ErrRulesetDataNotPresent
	}

	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return "", ErrBadURL
	}

	if !slices.Contains(validSchemes, u.Scheme) {
		return "", ErrBadScheme
	}

	if sourceURL != "" && matchException(excs, sourceURL) {
		return ResultAllowed, nil
	}

	return c.check(ctx, rawURL, sourceURL, resourceType), nil
}

// verdictKey is the key of the verdict cache.  Verdicts are tied to the
// engine that produced them, so the ones cached by checks racing with an
// update are never returned for the new engine.
type verdictKey struct {
	engine       *reqfilter.Engine
	url          string
	sourceURL    string
	resourceType string
}

// check returns the verdict of the engine, using the cache if there is one.
func (c *Client) check(ctx context.Context, rawURL, sourceURL, resourceType string) (res Result) {
	e := c.holder.Engine()
	r := rules.NewRequest(rawURL, sourceURL, rules.ParseRequestType(resourceType))
	if c.cache == nil {
		return resultOf(c.holder.CheckEngine(e, r))
	}

	key := verdictKey{
		engine:       e,
		url:          rawURL,
		sourceURL:    sourceURL,
		resourceType: resourceType,
	}

	v, err := c.cache.Get(key)
	if err == nil {
		return v.(Result)
	} else if !errors.Is(err, gcache.KeyNotFoundError) {
		c.logger.DebugContext(ctx, "retrieving verdict from cache", slogutil.KeyError, err)
	}

	res = resultOf(c.holder.CheckEngine(e, r))
	err = c.cache.Set(key, res)
	if err != nil {
		c.logger.DebugContext(ctx, "adding verdict to cache", slogutil.KeyError, err)
	}

	if c.holder.Engine() != e {
		// The engine has been replaced and the cache purged while checking,
		// don't keep the previous engine alive.
		c.cache.Remove(key)
	}

	return res
}

// resultOf converts the engine verdict into a result.
func resultOf(blocked bool) (res Result) {
	if blocked {
		return ResultBlocked
	}

	return ResultAllowed
}

// Exceptions returns the stored exceptions.
func (c *Client) Exceptions(ctx context.Context) (excs []FilterException, err error) {
	_, err = c.getJSON(ctx, keyExceptions, &excs)
	if err != nil {
		return nil, fmt.Errorf("getting exceptions: %w", err)
	}

	c.mu.Lock()
	c.exceptions = excs
	c.mu.Unlock()

	return slices.Clone(excs), nil
}

// AddExceptions normalizes excs and adds the ones not stored yet.
func (c *Client) AddExceptions(ctx context.Context, excs []FilterException) (err error) {
	normalized, err := NormalizeExceptions(excs)
	if err != nil {
		return fmt.Errorf("adding exceptions: %w", err)
	}

	current, err := c.Exceptions(ctx)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	for _, e := range normalized {
		if !slices.Contains(current, e) {
			current = append(current, e)
		}
	}

	return c.storeExceptions(ctx, current)
}

// RemoveExceptions normalizes excs and removes them from the stored ones.
func (c *Client) RemoveExceptions(ctx context.Context, excs []FilterException) (err error) {
	normalized, err := NormalizeExceptions(excs)
	if err != nil {
		return fmt.Errorf("removing exceptions: %w", err)
	}

	current, err := c.Exceptions(ctx)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	current = slices.DeleteFunc(current, func(e FilterException) (ok bool) {
		return slices.Contains(normalized, e)
	})

	return c.storeExceptions(ctx, current)
}

// RemoveAllExceptions removes all stored exceptions.
func (c *Client) RemoveAllExceptions(ctx context.Context) (err error) {
	err = c.storage.Delete(ctx, keyExceptions)
	if err != nil {
		return fmt.Errorf("removing all exceptions: %w", err)
	}

	c.mu.Lock()
	c.exceptions = nil
	c.mu.Unlock()

	return nil
}

// storeExceptions saves excs and makes them current.
func (c *Client) storeExceptions(ctx context.Context, excs []FilterException) (err error) {
	if excs == nil {
		excs = []FilterException{}
	}

	err = c.setJSON(ctx, keyExceptions, excs)
	if err != nil {
		return fmt.Errorf("storing exceptions: %w", err)
	}

	c.mu.Lock()
	c.exceptions = excs
	c.mu.Unlock()

	return nil
}

// getJSON decodes the value stored under key into v.  ok is false if there is
// no value.
func (c *Client) getJSON(ctx context.Context, key string, v any) (ok bool, err error) {
	data, ok, err := c.storage.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return false, fmt.Errorf("decoding %q: %w", key, err)
	}

	return true, nil
}

// setJSON stores v encoded into JSON under key.
func (c *Client) setJSON(ctx context.Context, key string, v any) (err error) {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}

	return c.storage.Set(ctx, key, data)
}
