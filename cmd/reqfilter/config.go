package main

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/reqfilter/blocker"
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// configuration is the structure of the YAML configuration file.  The
// command-line options override its values.
type configuration struct {
	// Log is the logging configuration.
	Log logConfig `yaml:"log"`

	// Proxy is the configuration of the filtering proxy.
	Proxy proxyConfig `yaml:"proxy"`

	// DNS is the configuration of the filtering DNS server.
	DNS dnsConfig `yaml:"dns"`

	// Client is the configuration of the ruleset client.
	Client clientConfig `yaml:"client"`

	// MetricsAddr is the address of the Prometheus metrics HTTP server.
	MetricsAddr string `yaml:"metrics_addr"`

	// Filters are the paths to the block lists.
	Filters []string `yaml:"filters"`

	// Allowlists are the paths to the lists whose rules are exceptions.
	Allowlists []string `yaml:"allowlists"`

	// Watch makes the tool rebuild the engine when the lists change.
	Watch bool `yaml:"watch"`
}

// logConfig is the logging configuration.
type logConfig struct {
	// File is the path to the log file.  If empty, stderr is used.
	File string `yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes before it's
	// rotated.
	MaxSize int `yaml:"max_size"`

	// MaxBackups is the maximum number of the old log files to keep.
	MaxBackups int `yaml:"max_backups"`

	// MaxAge is the maximum number of days to keep the old log files.
	MaxAge int `yaml:"max_age"`

	// Compress makes the rotated files gzipped.
	Compress bool `yaml:"compress"`

	// Verbose enables the debug logging.
	Verbose bool `yaml:"verbose"`
}

// proxyConfig is the configuration of the filtering proxy.
type proxyConfig struct {
	// ListenAddr is the address to listen on.  If empty, the proxy is
	// disabled.
	ListenAddr string `yaml:"listen_addr"`

	// CACert is the path to the root certificate used for MITM.  If empty,
	// HTTPS traffic is tunneled without filtering.
	CACert string `yaml:"ca_cert"`

	// CAKey is the path to the private key of CACert.
	CAKey string `yaml:"ca_key"`

	// Username and Password enable the proxy authorization if not empty.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// dnsConfig is the configuration of the filtering DNS server.
type dnsConfig struct {
	// ListenAddr is the address to listen on over UDP and TCP.  If empty, the
	// DNS server is disabled.
	ListenAddr string `yaml:"listen_addr"`

	// Upstream is the address of the upstream DNS server.
	Upstream string `yaml:"upstream"`

	// Timeout is the timeout of the upstream queries.
	Timeout time.Duration `yaml:"timeout"`

	// BlockedTTL is the TTL of the blocked responses, in seconds.
	BlockedTTL uint32 `yaml:"blocked_ttl"`
}

// clientConfig is the configuration of the ruleset client.
type clientConfig struct {
	// IndexURL is the URL of the ruleset index.  If empty, the lists are used
	// instead of the rulesets.
	IndexURL string `yaml:"index_url"`

	// StatePath is the path to the database with the client state.  If
	// empty, the state is kept in memory.
	StatePath string `yaml:"state_path"`

	// ActiveRulesets are the types of the rulesets used, if not empty.
	ActiveRulesets []blocker.RulesetType `yaml:"active_rulesets"`

	// MaxSize is the maximum size of a downloaded ruleset.
	MaxSize datasize.ByteSize `yaml:"max_size"`

	// CacheSize is the size of the verdict cache.
	CacheSize int `yaml:"cache_size"`
}

// Default configuration values.
const (
	defaultDNSUpstream    = "8.8.8.8:53"
	defaultDNSTimeout     = 5 * time.Second
	defaultLogMaxSize     = 100
	defaultRulesetMaxSize = 64 * datasize.MB
)

// readConfig reads the configuration file at path.  An empty path results in
// the default configuration.
func readConfig(path string) (conf *configuration, err error) {
	conf = &configuration{}
	if path == "" {
		return conf.setDefaults(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	err = yaml.NewDecoder(f).Decode(conf)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return conf.setDefaults(), nil
}

// setDefaults sets the default values of the unset fields and returns conf.
func (conf *configuration) setDefaults() (res *configuration) {
	conf.DNS.Upstream = cmp.Or(conf.DNS.Upstream, defaultDNSUpstream)
	conf.DNS.Timeout = cmp.Or(conf.DNS.Timeout, defaultDNSTimeout)
	conf.Log.MaxSize = cmp.Or(conf.Log.MaxSize, defaultLogMaxSize)
	conf.Client.MaxSize = cmp.Or(conf.Client.MaxSize, defaultRulesetMaxSize)

	return conf
}

// applyOptions overrides the values of conf with the ones set in opts.
func (conf *configuration) applyOptions(opts *options) {
	conf.Filters = append(conf.Filters, opts.Filters...)
	conf.Allowlists = append(conf.Allowlists, opts.Allowlists...)

	conf.Proxy.ListenAddr = cmp.Or(opts.ProxyAddr, conf.Proxy.ListenAddr)
	conf.Proxy.CACert = cmp.Or(opts.CACert, conf.Proxy.CACert)
	conf.Proxy.CAKey = cmp.Or(opts.CAKey, conf.Proxy.CAKey)

	conf.DNS.ListenAddr = cmp.Or(opts.DNSAddr, conf.DNS.ListenAddr)
	conf.DNS.Upstream = cmp.Or(opts.DNSUpstream, conf.DNS.Upstream)

	conf.MetricsAddr = cmp.Or(opts.MetricsAddr, conf.MetricsAddr)

	conf.Client.IndexURL = cmp.Or(opts.IndexURL, conf.Client.IndexURL)
	conf.Client.StatePath = cmp.Or(opts.StatePath, conf.Client.StatePath)

	conf.Log.File = cmp.Or(opts.LogOutput, conf.Log.File)
	conf.Log.Verbose = conf.Log.Verbose || opts.Verbose

	conf.Watch = conf.Watch || opts.Watch
}

// validate returns an error if conf is not valid.
func (conf *configuration) validate() (err error) {
	if conf.Client.IndexURL != "" {
		return nil
	}

	if len(conf.Filters) == 0 && len(conf.Allowlists) == 0 {
		return fmt.Errorf("filters: %w", errors.ErrEmptyValue)
	}

	if (conf.Proxy.CACert == "") != (conf.Proxy.CAKey == "") {
		return errors.Error("proxy: ca_cert and ca_key must be set together")
	}

	return nil
}
