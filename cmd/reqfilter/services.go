package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/gomitmproxy/mitm"
	"github.com/AdguardTeam/reqfilter"
	"github.com/AdguardTeam/reqfilter/dnsfilter"
	"github.com/AdguardTeam/reqfilter/internal/metrics"
	"github.com/AdguardTeam/reqfilter/proxy"
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newServices returns the proxy and the DNS services enabled in conf.
func newServices(
	l *slog.Logger,
	conf *configuration,
	h *reqfilter.Holder,
) (services []service.Interface, err error) {
	if conf.Proxy.ListenAddr != "" {
		var s *proxy.Server
		s, err = newProxy(l, &conf.Proxy, h)
		if err != nil {
			return nil, fmt.Errorf("proxy: %w", err)
		}

		services = append(services, s)
	}

	if conf.DNS.ListenAddr != "" {
		services = append(services, newDNSService(l, &conf.DNS, h))
	}

	return services, nil
}

// newProxy returns a new filtering proxy server.
func newProxy(l *slog.Logger, c *proxyConfig, h *reqfilter.Holder) (s *proxy.Server, err error) {
	addr, err := net.ResolveTCPAddr("tcp", c.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("parsing listen addr: %w", err)
	}

	var mitmConf *mitm.Config
	if c.CACert != "" {
		mitmConf, err = newMITMConfig(c.CACert, c.CAKey)
		if err != nil {
			// Don't wrap the error, because it's informative enough as is.
			return nil, err
		}
	}

	return proxy.NewServer(&proxy.Config{
		Logger: l.With(slogutil.KeyPrefix, "proxy"),
		Holder: h,
		ProxyConfig: gomitmproxy.Config{
			ListenAddr: addr,
			Username:   c.Username,
			Password:   c.Password,
			MITMConfig: mitmConf,
		},
	}), nil
}

// mitmCertValidity is the validity period of the generated certificates.
const mitmCertValidity = 7 * 24 * time.Hour

// newMITMConfig returns the MITM configuration with the root certificate and
// its private key.
func newMITMConfig(certPath, keyPath string) (c *mitm.Config, err error) {
	tlsCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading root ca: %w", err)
	}

	privateKey, ok := tlsCert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("root ca key: %w: %T", errors.ErrBadEnumValue, tlsCert.PrivateKey)
	}

	x509c, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parsing root ca: %w", err)
	}

	c, err = mitm.NewConfig(x509c, privateKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating mitm config: %w", err)
	}

	c.SetValidity(mitmCertValidity)
	c.SetOrganization("reqfilter")

	return c, nil
}

// dnsService serves the filtering DNS handler over UDP and TCP.
type dnsService struct {
	logger  *slog.Logger
	servers []*dns.Server
}

// newDNSService returns a new DNS service with the configuration c.
func newDNSService(l *slog.Logger, c *dnsConfig, h *reqfilter.Holder) (s *dnsService) {
	l = l.With(slogutil.KeyPrefix, "dns")
	handler := dnsfilter.NewHandler(&dnsfilter.Config{
		Logger:     l,
		Holder:     h,
		Upstream:   dnsfilter.NewDNSUpstream(c.Upstream, "udp", c.Timeout),
		BlockedTTL: c.BlockedTTL,
	})

	s = &dnsService{
		logger: l,
	}

	for _, network := range []string{"udp", "tcp"} {
		s.servers = append(s.servers, &dns.Server{
			Addr:    c.ListenAddr,
			Net:     network,
			Handler: handler,
		})
	}

	return s
}

// type check
var _ service.Interface = (*dnsService)(nil)

// Start implements the [service.Interface] interface for *dnsService.
func (s *dnsService) Start(ctx context.Context) (err error) {
	for _, srv := range s.servers {
		go s.listen(ctx, srv)
	}

	s.logger.InfoContext(ctx, "dns server started", "addr", s.servers[0].Addr)

	return nil
}

// listen runs srv.  It is intended to be used as a goroutine.
func (s *dnsService) listen(ctx context.Context, srv *dns.Server) {
	defer slogutil.RecoverAndLog(ctx, s.logger)

	err := srv.ListenAndServe()
	if err != nil {
		s.logger.ErrorContext(ctx, "listening", "net", srv.Net, slogutil.KeyError, err)
	}
}

// Shutdown implements the [service.Interface] interface for *dnsService.
func (s *dnsService) Shutdown(ctx context.Context) (err error) {
	var errs []error
	for _, srv := range s.servers {
		errs = append(errs, srv.ShutdownContext(ctx))
	}

	return errors.Annotate(errors.Join(errs...), "shutting down dns: %w")
}

// metricsServer serves the Prometheus metrics over HTTP.
type metricsServer struct {
	logger *slog.Logger
	srv    *http.Server
}

// newMetrics returns the metrics registered in a new registry and, if addr is
// not empty, the server for them.
func newMetrics(
	l *slog.Logger,
	addr string,
) (m metrics.Interface, srv *metricsServer, err error) {
	if addr == "" {
		return metrics.Empty{}, nil, nil
	}

	reg := prometheus.NewRegistry()
	m, err = metrics.NewPrometheus(reg)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return m, &metricsServer{
		logger: l.With(slogutil.KeyPrefix, "metrics"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// type check
var _ service.Interface = (*metricsServer)(nil)

// Start implements the [service.Interface] interface for *metricsServer.
func (s *metricsServer) Start(ctx context.Context) (err error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	go func() {
		defer slogutil.RecoverAndLog(ctx, s.logger)

		serveErr := s.srv.Serve(ln)
		if !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.ErrorContext(ctx, "serving", slogutil.KeyError, serveErr)
		}
	}()

	s.logger.InfoContext(ctx, "metrics server started", "addr", ln.Addr())

	return nil
}

// Shutdown implements the [service.Interface] interface for *metricsServer.
func (s *metricsServer) Shutdown(ctx context.Context) (err error) {
	return s.srv.Shutdown(ctx)
}
