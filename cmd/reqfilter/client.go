package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/reqfilter/blocker"
	"github.com/AdguardTeam/reqfilter/internal/metrics"
)

// runClient updates the ruleset client and checks the URL from opts, if any.
func runClient(
	ctx context.Context,
	l *slog.Logger,
	conf *configuration,
	opts *options,
	mtrc metrics.Interface,
) (err error) {
	c := &conf.Client
	indexURL, err := url.Parse(c.IndexURL)
	if err != nil {
		return fmt.Errorf("parsing index url: %w", err)
	}

	var storage blocker.StorageProvider = blocker.NewMemoryStorage()
	if c.StatePath != "" {
		var bs *blocker.BoltStorage
		bs, err = blocker.NewBoltStorage(c.StatePath)
		if err != nil {
			return fmt.Errorf("opening state: %w", err)
		}
		defer slogutil.CloseAndLog(ctx, l, bs, slog.LevelError)

		storage = bs
	}

	cli := blocker.NewClient(&blocker.Config{
		Logger:  l.With(slogutil.KeyPrefix, "client"),
		Storage: storage,
		Provider: blocker.NewHTTPProvider(&blocker.HTTPProviderConfig{
			IndexURL:  indexURL,
			UserAgent: "reqfilter",
			MaxSize:   c.MaxSize,
		}),
		Metrics:   mtrc,
		CacheSize: c.CacheSize,
		OnStatusChanged: func(s blocker.Status) {
			l.DebugContext(ctx, "client status changed", "status", s)
		},
	})

	if len(c.ActiveRulesets) > 0 {
		err = cli.SetActiveRulesets(ctx, c.ActiveRulesets)
	} else {
		err = cli.Update(ctx)
	}
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	logMemory(ctx, l)

	if opts.URL == "" {
		return nil
	}

	res, err := cli.CheckURL(ctx, opts.URL, opts.SourceURL, opts.RequestType)
	if err != nil {
		return fmt.Errorf("checking url: %w", err)
	}

	_, _ = fmt.Println(res)

	return nil
}
