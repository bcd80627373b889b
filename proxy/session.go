package proxy

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/reqfilter/rules"
)

// hdrAccept is the name of the Accept header.
const hdrAccept = "Accept"

// Session contains the data of a proxied request needed to filter it.
//
// There are two stages of the request lifetime:
//
//  1. The request headers are received.  The request type is assumed from the
//     Accept header and the URL, and the request is blocked if a rule matches.
//  2. The response headers are received.  The Content-Type header tells the
//     actual type of the resource, so the request is checked once again.
type Session struct {
	// Request is the filtering request.
	Request *rules.Request

	// HTTPRequest is the proxied request.
	HTTPRequest *http.Request

	// HTTPResponse is the response, it's nil until the second stage.
	HTTPResponse *http.Response

	// ID is the identifier of the proxy session.
	ID string

	// MediaType is the media type of the response.
	MediaType string
}

// NewSession returns a new session for req.  The Referer header is used as the
// source URL.
func NewSession(id string, req *http.Request) (s *Session) {
	return &Session{
		ID:          id,
		Request:     rules.NewRequest(req.URL.String(), req.Referer(), assumeRequestType(req, nil)),
		HTTPRequest: req,
	}
}

// SetResponse sets the response of the session and updates the request type
// using its Content-Type header.
func (s *Session) SetResponse(res *http.Response) {
	s.HTTPResponse = res

	mediaType, _, _ := mime.ParseMediaType(res.Header.Get(httphdr.ContentType))
	s.MediaType = mediaType

	s.Request.RequestType = assumeRequestType(s.HTTPRequest, res)
}

// assumeRequestType assumes the request type from what is known at this point.
// res is nil if the response isn't received yet.
func assumeRequestType(req *http.Request, res *http.Response) (t rules.RequestType) {
	if res != nil {
		mediaType, _, _ := mime.ParseMediaType(res.Header.Get(httphdr.ContentType))
		if t = requestTypeFromMediaType(mediaType); t != rules.TypeOther {
			return t
		}
	} else {
		t = requestTypeFromMediaType(strings.ToLower(req.Header.Get(hdrAccept)))
		if t != rules.TypeOther {
			return t
		}
	}

	return requestTypeFromURL(req.URL)
}

// mediaTypePrefixes are the prefixes of the media types along with the request
// types they denote.  The order matters, since the Accept header may list
// several types.
var mediaTypePrefixes = []struct {
	prefix string
	typ    rules.RequestType
}{
	{"application/xhtml", rules.TypeDocument},
	// Playlists may refer to video ads, so they are filtered as documents.
	{"audio/x-mpegurl", rules.TypeDocument},
	{"text/html", rules.TypeDocument},
	{"text/css", rules.TypeStylesheet},
	{"application/javascript", rules.TypeScript},
	{"application/x-javascript", rules.TypeScript},
	{"text/javascript", rules.TypeScript},
	{"image/", rules.TypeImage},
	{"application/x-shockwave-flash", rules.TypeObject},
	{"application/font", rules.TypeFont},
	{"application/vnd.ms-fontobject", rules.TypeFont},
	{"application/x-font-", rules.TypeFont},
	{"font/", rules.TypeFont},
	{"audio/", rules.TypeMedia},
	{"video/", rules.TypeMedia},
	{"application/json", rules.TypeXmlhttprequest},
}

// requestTypeFromMediaType returns the request type denoted by the lowercased
// media type or an Accept header value.
func requestTypeFromMediaType(mediaType string) (t rules.RequestType) {
	for _, p := range mediaTypePrefixes {
		if strings.HasPrefix(mediaType, p.prefix) {
			return p.typ
		}
	}

	return rules.TypeOther
}

// fileExtensions maps the extensions of the requested files to the request
// types.
var fileExtensions = map[string]rules.RequestType{
	".js":     rules.TypeScript,
	".vbs":    rules.TypeScript,
	".coffee": rules.TypeScript,

	".jpg":  rules.TypeImage,
	".jpeg": rules.TypeImage,
	".gif":  rules.TypeImage,
	".png":  rules.TypeImage,
	".svg":  rules.TypeImage,
	".webp": rules.TypeImage,
	".tiff": rules.TypeImage,
	".psd":  rules.TypeImage,
	".ico":  rules.TypeImage,

	".css":  rules.TypeStylesheet,
	".less": rules.TypeStylesheet,

	".jar": rules.TypeObject,
	".swf": rules.TypeObject,

	".wav":   rules.TypeMedia,
	".mp3":   rules.TypeMedia,
	".mp4":   rules.TypeMedia,
	".avi":   rules.TypeMedia,
	".flv":   rules.TypeMedia,
	".m3u":   rules.TypeMedia,
	".webm":  rules.TypeMedia,
	".mpeg":  rules.TypeMedia,
	".3gp":   rules.TypeMedia,
	".3g2":   rules.TypeMedia,
	".3gpp":  rules.TypeMedia,
	".3gpp2": rules.TypeMedia,
	".ogg":   rules.TypeMedia,
	".mov":   rules.TypeMedia,
	".qt":    rules.TypeMedia,
	".vbm":   rules.TypeMedia,
	".mkv":   rules.TypeMedia,
	".gifv":  rules.TypeMedia,

	".ttf":   rules.TypeFont,
	".otf":   rules.TypeFont,
	".woff":  rules.TypeFont,
	".woff2": rules.TypeFont,
	".eot":   rules.TypeFont,

	".json": rules.TypeXmlhttprequest,
}

// requestTypeFromURL assumes the request type from the extension of the
// requested file.
func requestTypeFromURL(u *url.URL) (t rules.RequestType) {
	t, ok := fileExtensions[strings.ToLower(path.Ext(u.Path))]
	if !ok {
		return rules.TypeOther
	}

	return t
}
