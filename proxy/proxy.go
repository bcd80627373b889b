// Package proxy implements a MITM proxy that blocks the requests matched by the
// filtering engine.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/reqfilter"
)

// Session property keys.
const (
	sessionPropKey    = "session"
	requestBlockedKey = "blocked"
)

// Config is the configuration structure for a [*Server].
type Config struct {
	// Logger is used for logging the operation of the proxy.  It must not be
	// nil.
	Logger *slog.Logger

	// Holder keeps the filtering engine.  It must not be nil.
	Holder *reqfilter.Holder

	// ProxyConfig is the configuration of the MITM proxy.  The request and the
	// response handlers are set by the server.
	ProxyConfig gomitmproxy.Config
}

// Server is a MITM proxy server filtering the requests.
type Server struct {
	logger *slog.Logger
	holder *reqfilter.Holder
	proxy  *gomitmproxy.Proxy
}

// NewServer returns a new properly initialized *Server.  c must not be nil.
func NewServer(c *Config) (s *Server) {
	s = &Server{
		logger: c.Logger,
		holder: c.Holder,
	}

	conf := c.ProxyConfig
	conf.OnRequest = s.onRequest
	conf.OnResponse = s.onResponse
	s.proxy = gomitmproxy.NewProxy(conf)

	return s
}

// type check
var _ service.Interface = (*Server)(nil)

// Start implements the [service.Interface] interface for *Server.
func (s *Server) Start(ctx context.Context) (err error) {
	err = s.proxy.Start()
	if err != nil {
		return fmt.Errorf("starting proxy: %w", err)
	}

	s.logger.InfoContext(ctx, "proxy started")

	return nil
}

// Shutdown implements the [service.Interface] interface for *Server.
func (s *Server) Shutdown(ctx context.Context) (err error) {
	s.proxy.Close()
	s.logger.InfoContext(ctx, "proxy stopped")

	return nil
}

// onRequest handles the outgoing HTTP requests.
func (s *Server) onRequest(sess *gomitmproxy.Session) (req *http.Request, res *http.Response) {
	r := sess.Request()
	if r.Method == http.MethodConnect {
		return nil, nil
	}

	session := NewSession(sess.ID(), r)
	sess.SetProp(sessionPropKey, session)

	res = s.check(context.Background(), session)
	if res != nil {
		// Don't check the response of a blocked request.
		sess.SetProp(requestBlockedKey, true)

		return nil, res
	}

	return r, nil
}

// onResponse handles the responses.
func (s *Server) onResponse(sess *gomitmproxy.Session) (res *http.Response) {
	if _, ok := sess.GetProp(requestBlockedKey); ok {
		return nil
	}

	ctx := context.Background()

	v, ok := sess.GetProp(sessionPropKey)
	if !ok {
		s.logger.DebugContext(ctx, "session not found", "id", sess.ID())

		return nil
	}

	session, ok := v.(*Session)
	if !ok {
		s.logger.ErrorContext(ctx, "bad session type", "id", sess.ID(), "type", fmt.Sprintf("%T", v))

		return nil
	}

	return s.filterResponse(ctx, session, sess.Response())
}

// filterResponse updates the session with resp and checks the request once
// again.  It returns the replacement for resp or nil if it must be passed.
func (s *Server) filterResponse(
	ctx context.Context,
	session *Session,
	resp *http.Response,
) (res *http.Response) {
	if resp == nil {
		return nil
	}

	prevType := session.Request.RequestType
	session.SetResponse(resp)
	if session.Request.RequestType == prevType {
		return nil
	}

	return s.check(ctx, session)
}

// check returns the blocked response if the request of the session must be
// blocked and nil otherwise.
func (s *Server) check(ctx context.Context, session *Session) (res *http.Response) {
	if !s.holder.CheckRequest(session.Request) {
		return nil
	}

	f, _ := s.holder.Engine().Match(session.Request)
	if f == nil || f.IsException() {
		// The engine has been replaced in between.
		return nil
	}

	s.logger.DebugContext(
		ctx,
		"blocked",
		"id", session.ID,
		"rule", f.Text(),
		"url", session.Request.URL,
	)

	return newBlockedResponse(ctx, s.logger, session, f)
}
