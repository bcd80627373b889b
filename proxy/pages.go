package proxy

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy/proxyutil"
	"github.com/AdguardTeam/reqfilter/rules"
)

// blockedPageTmpl is the template of the page returned instead of a blocked
// resource.
var blockedPageTmpl = template.Must(template.New("blocked").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Request blocked</title></head>
<body>
<h1>Request blocked</h1>
<p>The request to <b>{{.Hostname}}</b> was blocked by the rule:</p>
<pre>{{.RuleText}}</pre>
</body>
</html>
`))

// blockedPageParameters are the parameters of [blockedPageTmpl].
type blockedPageParameters struct {
	Hostname string
	RuleText string
}

// buildBlockedPage returns the content of the blocked page for the request of
// the session blocked by f.
func buildBlockedPage(
	ctx context.Context,
	l *slog.Logger,
	s *Session,
	f *rules.Rule,
) (page []byte) {
	params := blockedPageParameters{
		Hostname: s.Request.Hostname,
		RuleText: f.Text(),
	}

	data := &bytes.Buffer{}
	if err := blockedPageTmpl.Execute(data, params); err != nil {
		l.ErrorContext(ctx, "building blocked page", slogutil.KeyError, err)

		return nil
	}

	return data.Bytes()
}

// newBlockedResponse returns the response to a request blocked by f.
func newBlockedResponse(
	ctx context.Context,
	l *slog.Logger,
	s *Session,
	f *rules.Rule,
) (res *http.Response) {
	page := buildBlockedPage(ctx, l, s, f)
	res = proxyutil.NewResponse(http.StatusForbidden, bytes.NewReader(page), s.HTTPRequest)
	res.Close = true
	res.Header.Set(httphdr.ContentType, "text/html; charset=utf-8")

	return res
}
