// Package dnsfilter contains a DNS handler that blocks the domains matched by
// the filtering engine.
package dnsfilter

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/reqfilter"
	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/miekg/dns"
)

// DefaultBlockedTTL is the TTL of the blocked responses used when none is
// configured.
const DefaultBlockedTTL uint32 = 3600

// Upstream resolves the queries which are not blocked.
type Upstream interface {
	// Exchange sends req to the upstream server and returns its response.
	Exchange(ctx context.Context, req *dns.Msg) (resp *dns.Msg, err error)
}

// DNSUpstream is an [Upstream] using a plain DNS server.
type DNSUpstream struct {
	client *dns.Client
	addr   string
}

// NewDNSUpstream returns a new *DNSUpstream sending the queries to addr over
// network, which is either "udp" or "tcp".
func NewDNSUpstream(addr, network string, timeout time.Duration) (u *DNSUpstream) {
	return &DNSUpstream{
		client: &dns.Client{
			Net:     network,
			Timeout: timeout,
		},
		addr: addr,
	}
}

// type check
var _ Upstream = (*DNSUpstream)(nil)

// Exchange implements the [Upstream] interface for *DNSUpstream.
func (u *DNSUpstream) Exchange(ctx context.Context, req *dns.Msg) (resp *dns.Msg, err error) {
	resp, _, err = u.client.ExchangeContext(ctx, req, u.addr)
	if err != nil {
		return nil, fmt.Errorf("exchanging with %s: %w", u.addr, err)
	}

	return resp, nil
}

// Config is the configuration structure for a [*Handler].
type Config struct {
	// Logger is used for logging the operation of the handler.  It must not
	// be nil.
	Logger *slog.Logger

	// Holder keeps the filtering engine.  It must not be nil.
	Holder *reqfilter.Holder

	// Upstream resolves the queries which are not blocked.  It must not be
	// nil.
	Upstream Upstream

	// BlockedTTL is the TTL of the blocked responses.  If zero,
	// [DefaultBlockedTTL] is used.
	BlockedTTL uint32
}

// Handler is a [dns.Handler] which checks the queried names as document
// requests.  Blocked A and AAAA queries are answered with unspecified
// addresses, other blocked queries get NXDOMAIN.
type Handler struct {
	logger     *slog.Logger
	holder     *reqfilter.Holder
	upstream   Upstream
	blockedTTL uint32
}

// NewHandler returns a new properly initialized *Handler.  c must not be nil.
func NewHandler(c *Config) (h *Handler) {
	ttl := c.BlockedTTL
	if ttl == 0 {
		ttl = DefaultBlockedTTL
	}

	return &Handler{
		logger:     c.Logger,
		holder:     c.Holder,
		upstream:   c.Upstream,
		blockedTTL: ttl,
	}
}

// type check
var _ dns.Handler = (*Handler)(nil)

// ServeDNS implements the [dns.Handler] interface for *Handler.
func (h *Handler) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	ctx := context.Background()
	defer slogutil.RecoverAndLog(ctx, h.logger)

	resp := h.Resolve(ctx, req)

	err := w.WriteMsg(resp)
	if err != nil {
		h.logger.DebugContext(ctx, "writing response", slogutil.KeyError, err)
	}
}

// Resolve returns the response to req: a blocked one if the queried name is
// blocked and the response of the upstream otherwise.
func (h *Handler) Resolve(ctx context.Context, req *dns.Msg) (resp *dns.Msg) {
	if len(req.Question) != 1 {
		resp = &dns.Msg{}

		return resp.SetRcode(req, dns.RcodeFormatError)
	}

	q := req.Question[0]
	host := strings.ToLower(strings.TrimSuffix(q.Name, "."))
	if host != "" && h.holder.CheckRequest(rules.NewRequest("http://"+host+"/", "", rules.TypeDocument)) {
		h.logger.DebugContext(ctx, "blocked", "host", host, "qtype", dns.Type(q.Qtype))

		return h.blockedResponse(req)
	}

	resp, err := h.upstream.Exchange(ctx, req)
	if err != nil {
		h.logger.DebugContext(ctx, "resolving", "host", host, slogutil.KeyError, err)

		resp = &dns.Msg{}

		return resp.SetRcode(req, dns.RcodeServerFailure)
	}

	return resp
}

// makeResponse returns a reply to req with the common flags set.
func makeResponse(req *dns.Msg) (resp *dns.Msg) {
	resp = &dns.Msg{
		MsgHdr: dns.MsgHdr{
			RecursionAvailable: true,
		},
		Compress: true,
	}

	return resp.SetReply(req)
}

// hdr returns the header of an answer to req.
func (h *Handler) hdr(req *dns.Msg, rrType uint16) (hdr dns.RR_Header) {
	return dns.RR_Header{
		Name:   req.Question[0].Name,
		Rrtype: rrType,
		Ttl:    h.blockedTTL,
		Class:  dns.ClassINET,
	}
}

// blockedResponse returns the response to the blocked req.
func (h *Handler) blockedResponse(req *dns.Msg) (resp *dns.Msg) {
	switch qt := req.Question[0].Qtype; qt {
	case dns.TypeA:
		resp = makeResponse(req)
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: h.hdr(req, qt),
			A:   net.IPv4zero,
		})
	case dns.TypeAAAA:
		resp = makeResponse(req)
		resp.Answer = append(resp.Answer, &dns.AAAA{
			Hdr:  h.hdr(req, qt),
			AAAA: net.IPv6unspecified,
		})
	default:
		resp = makeResponse(req)
		resp.Rcode = dns.RcodeNameError
		resp.Ns = h.genSOA(req)
	}

	return resp
}

// genSOA returns the SOA record for the negative responses to req.
func (h *Handler) genSOA(req *dns.Msg) (rrs []dns.RR) {
	zone := req.Question[0].Name
	soa := &dns.SOA{
		Hdr:     h.hdr(req, dns.TypeSOA),
		Ns:      "fake-for-negative-caching.reqfilter.",
		Mbox:    "hostmaster.",
		Serial:  100500,
		Refresh: 1800,
		Retry:   900,
		Expire:  604800,
		Minttl:  86400,
	}

	if zone != "" && zone[0] != '.' {
		soa.Mbox += zone
	}

	return []dns.RR{soa}
}
