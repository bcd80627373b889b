// Command reqfilter checks URLs against filter lists and runs the filtering
// HTTP proxy and DNS server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/reqfilter"
	"github.com/AdguardTeam/reqfilter/internal/listwatch"
	"github.com/AdguardTeam/reqfilter/internal/metrics"
	"github.com/AdguardTeam/reqfilter/rules"
	goFlags "github.com/jessevdk/go-flags"
)

// options are the command-line options.
type options struct {
	// Filters are the paths to the block lists.
	Filters []string `short:"f" long:"filter" description:"Path to a filter list.  Can be specified multiple times."`

	// Allowlists are the paths to the lists whose rules are exceptions.
	Allowlists []string `long:"allowlist" description:"Path to a list whose rules are all exceptions.  Can be specified multiple times."`

	// URL is the URL to check.
	URL string `short:"u" long:"url" description:"URL to check."`

	// SourceURL is the URL of the page the checked request is made from.
	SourceURL string `short:"s" long:"source" description:"URL of the page the request is made from."`

	// RequestType is the resource type of the checked request.
	RequestType string `short:"t" long:"type" description:"Resource type of the request, e.g. script or main_frame." default:"other"`

	// ConfigPath is the path to the YAML configuration file.
	ConfigPath string `short:"c" long:"config" description:"Path to the YAML configuration file."`

	// ProxyAddr is the address of the filtering proxy.
	ProxyAddr string `long:"proxy" description:"Run the filtering HTTP proxy on this address, e.g. 127.0.0.1:8080."`

	// CACert is the path to the MITM root certificate.
	CACert string `long:"ca-cert" description:"Path to the root certificate used to filter HTTPS."`

	// CAKey is the path to the private key of the MITM root certificate.
	CAKey string `long:"ca-key" description:"Path to the private key of the root certificate."`

	// DNSAddr is the address of the filtering DNS server.
	DNSAddr string `long:"dns" description:"Run the filtering DNS server on this address, e.g. 127.0.0.1:5353."`

	// DNSUpstream is the address of the upstream DNS server.
	DNSUpstream string `long:"dns-upstream" description:"Upstream DNS server address."`

	// MetricsAddr is the address of the Prometheus metrics HTTP server.
	MetricsAddr string `long:"metrics" description:"Serve Prometheus metrics on this address."`

	// IndexURL is the URL of the ruleset index.
	IndexURL string `long:"index" description:"URL of the ruleset index.  If set, the rulesets are used instead of the lists."`

	// StatePath is the path to the ruleset client state database.
	StatePath string `long:"state" description:"Path to the ruleset client state database."`

	// LogOutput is the path to the log file.
	LogOutput string `short:"o" long:"output" description:"Path to the log file.  If not set, it writes to stderr."`

	// Watch makes the tool rebuild the engine when the lists change.
	Watch bool `short:"w" long:"watch" description:"Rebuild the engine when the lists change." optional:"yes" optional-value:"true"`

	// Verbose enables the debug logging.
	Verbose bool `short:"v" long:"verbose" description:"Verbose output." optional:"yes" optional-value:"true"`
}

func main() {
	opts := &options{}
	parser := goFlags.NewParser(opts, goFlags.Default)

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*goFlags.Error); ok && flagsErr.Type == goFlags.ErrHelp {
			os.Exit(osutil.ExitCodeSuccess)
		}

		os.Exit(osutil.ExitCodeArgumentError)
	}

	conf, err := readConfig(opts.ConfigPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(osutil.ExitCodeArgumentError)
	}

	conf.applyOptions(opts)
	err = conf.validate()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "configuration: %s\n", err)

		os.Exit(osutil.ExitCodeArgumentError)
	}

	l, logOut := newLogger(&conf.Log)
	ctx := context.Background()
	if logOut != nil {
		defer slogutil.CloseAndLog(ctx, l, logOut, slog.LevelError)
	}

	defer slogutil.RecoverAndExit(ctx, l, osutil.ExitCodeFailure)

	err = run(ctx, l, conf, opts)
	if err != nil {
		l.ErrorContext(ctx, "running", slogutil.KeyError, err)

		os.Exit(osutil.ExitCodeFailure)
	}
}

// run runs the tool.  l, conf, and opts must not be nil.
func run(ctx context.Context, l *slog.Logger, conf *configuration, opts *options) (err error) {
	mtrc, metricsSrv, err := newMetrics(l, conf.MetricsAddr)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	if conf.Client.IndexURL != "" {
		return runClient(ctx, l, conf, opts, mtrc)
	}

	h := reqfilter.NewHolder(&reqfilter.HolderConfig{
		Logger:    l,
		Metrics:   mtrc,
		Component: hostComponent(conf),
	})

	lists := watchedLists(conf)
	err = listwatch.Load(ctx, l, h, lists)
	if err != nil {
		return fmt.Errorf("loading lists: %w", err)
	}

	logMemory(ctx, l)

	if opts.URL != "" {
		printVerdict(h.Engine(), opts)
	}

	services, err := newServices(l, conf, h)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	if conf.Watch {
		var w *listwatch.Watcher
		w, err = listwatch.New(&listwatch.Config{
			Logger: l,
			Holder: h,
			Lists:  lists,
		})
		if err != nil {
			return fmt.Errorf("creating list watcher: %w", err)
		}

		// Start the watcher first, so that it's shut down if any other service
		// fails to start.
		services = append([]service.Interface{w}, services...)
	}

	if metricsSrv != nil {
		services = append(services, metricsSrv)
	}

	if len(services) == 0 || len(services) == 1 && metricsSrv != nil {
		return nil
	}

	return serve(ctx, l, services)
}

// hostComponent returns the name of the component used in the check metrics.
func hostComponent(conf *configuration) (c string) {
	switch {
	case conf.Proxy.ListenAddr != "":
		return metrics.ComponentProxy
	case conf.DNS.ListenAddr != "":
		return metrics.ComponentDNS
	default:
		return metrics.ComponentCLI
	}
}

// watchedLists returns the lists of conf.  The allowlists get the IDs after
// the ones of the block lists.
func watchedLists(conf *configuration) (lists []*listwatch.List) {
	for _, path := range conf.Filters {
		lists = append(lists, &listwatch.List{
			Path: path,
			ID:   len(lists) + 1,
		})
	}

	for _, path := range conf.Allowlists {
		lists = append(lists, &listwatch.List{
			Path:      path,
			ID:        len(lists) + 1,
			Allowlist: true,
		})
	}

	return lists
}

// printVerdict prints the verdict for the request described by opts along
// with the deciding rule.
func printVerdict(e *reqfilter.Engine, opts *options) {
	r := rules.NewRequest(opts.URL, opts.SourceURL, rules.ParseRequestType(opts.RequestType))
	blocked := e.CheckRequest(r)

	verdict := "allowed"
	if blocked {
		verdict = "blocked"
	}

	f, ok := e.Match(r)
	if !ok {
		_, _ = fmt.Println(verdict)

		return
	}

	_, _ = fmt.Printf("%s: %s (list %d)\n", verdict, f.Text(), f.FilterListID())
}

// serve starts the services and waits for a termination signal, after which
// the services are shut down in the reverse order.
func serve(ctx context.Context, l *slog.Logger, services []service.Interface) (err error) {
	for i, s := range services {
		err = s.Start(ctx)
		if err != nil {
			shutdown(ctx, l, services[:i])

			return fmt.Errorf("starting service at index %d: %w", i, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	l.InfoContext(ctx, "received signal, shutting down", "signal", sig)

	shutdown(ctx, l, services)

	return nil
}

// shutdown shuts the services down in the reverse order and logs the errors.
func shutdown(ctx context.Context, l *slog.Logger, services []service.Interface) {
	for i := len(services) - 1; i >= 0; i-- {
		err := services[i].Shutdown(ctx)
		if err != nil {
			l.ErrorContext(ctx, "shutting down", "idx", i, slogutil.KeyError, err)
		}
	}
}
