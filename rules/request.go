package rules

import (
	"math/bits"
	"net/netip"
	"strings"

	"github.com/AdguardTeam/reqfilter/internal/ufnet"
	"golang.org/x/net/publicsuffix"
)

// maxURLLength limits the URL length by 4 KiB.  It appears that there can be
// URLs longer than a megabyte, and it makes no sense to go through the whole
// URL.
const maxURLLength = 4 * 1024

// RequestType is the request types enumeration.
type RequestType uint32

const (
	// TypeDocument (main frame) $document
	TypeDocument RequestType = 1 << iota
	// TypeSubdocument (iframe) $subdocument
	TypeSubdocument
	// TypeScript (javascript, etc) $script
	TypeScript
	// TypeStylesheet (css) $stylesheet
	TypeStylesheet
	// TypeObject (flash, etc) $object
	TypeObject
	// TypeImage (any image) $image
	TypeImage
	// TypeXmlhttprequest (ajax/fetch) $xmlhttprequest
	TypeXmlhttprequest
	// TypeMedia (video/music) $media
	TypeMedia
	// TypeFont (any custom font) $font
	TypeFont
	// TypeWebsocket (a websocket connection) $websocket
	TypeWebsocket
	// TypePing (navigator.sendBeacon() or ping attribute on links) $ping
	TypePing
	// TypeOther - any other request type
	TypeOther

	// TypeAll is the set of all request types.
	TypeAll = TypeOther<<1 - 1
)

// Count returns the count of the enabled flags.
func (t RequestType) Count() (n int) {
	return bits.OnesCount32(uint32(t))
}

// requestTypeNames maps resource type names, both the ones used in rule
// options and the ones used by browsers, to request types.
var requestTypeNames = map[string]RequestType{
	"document":       TypeDocument,
	"doc":            TypeDocument,
	"main_frame":     TypeDocument,
	"subdocument":    TypeSubdocument,
	"frame":          TypeSubdocument,
	"sub_frame":      TypeSubdocument,
	"script":         TypeScript,
	"stylesheet":     TypeStylesheet,
	"css":            TypeStylesheet,
	"object":         TypeObject,
	"image":          TypeImage,
	"imageset":       TypeImage,
	"xmlhttprequest": TypeXmlhttprequest,
	"xhr":            TypeXmlhttprequest,
	"fetch":          TypeXmlhttprequest,
	"media":          TypeMedia,
	"font":           TypeFont,
	"websocket":      TypeWebsocket,
	"ping":           TypePing,
	"beacon":         TypePing,
	"other":          TypeOther,
	"csp_report":     TypeOther,
}

// ParseRequestType converts a resource type name into a [RequestType].  Empty
// and unknown names are [TypeOther].
func ParseRequestType(name string) (t RequestType) {
	t, ok := requestTypeNames[strings.ToLower(name)]
	if !ok {
		return TypeOther
	}

	return t
}

// Party is the relation between a request and the page it originates from.
type Party uint8

// Party values.
const (
	// PartyAny means no restriction for rules and an unknown relation for
	// requests.
	PartyAny Party = iota

	// PartyFirst means the request and the source share a registrable domain.
	PartyFirst

	// PartyThird means the request goes to another registrable domain.
	PartyThird
)

// String implements the [fmt.Stringer] interface for Party.
func (p Party) String() (s string) {
	switch p {
	case PartyFirst:
		return "first-party"
	case PartyThird:
		return "third-party"
	default:
		return "any"
	}
}

// Request represents a web filtering request with all its necessary
// properties.
type Request struct {
	// URL is the full request URL.
	URL string

	// URLLowerCase is the full request URL in lower case.
	URLLowerCase string

	// Hostname is the hostname of the request URL in lower case.
	Hostname string

	// Domain is the effective top-level domain of the request with an
	// additional label.
	Domain string

	// SourceURL is the full URL of the source.
	SourceURL string

	// SourceHostname is the hostname of the source in lower case.
	SourceHostname string

	// SourceDomain is the effective top-level domain of the source with an
	// additional label.
	SourceDomain string

	// hostStart is the index of the first byte of Hostname within URL.
	hostStart int

	// hostEnd is the index of the past-the-end byte of Hostname within URL.
	hostEnd int

	// RequestType is the type of the filtering request.
	RequestType RequestType

	// Party is the relation of the request to its source.  It is
	// [PartyAny] if there is no source or any of the hostnames cannot be
	// extracted.
	Party Party

	// hasHost is true if the hostname has been extracted from URL.
	hasHost bool
}

// NewRequest creates a new instance of *Request and populates its fields.
// Malformed URLs are accepted, the fields which cannot be derived from them
// are left empty.
func NewRequest(url, sourceURL string, requestType RequestType) (r *Request) {
	if len(url) > maxURLLength {
		url = url[:maxURLLength]
	}

	if len(sourceURL) > maxURLLength {
		sourceURL = sourceURL[:maxURLLength]
	}

	r = &Request{
		URL:          url,
		URLLowerCase: strings.ToLower(url),
		SourceURL:    sourceURL,
		RequestType:  requestType,
	}

	r.hostStart, r.hostEnd, r.hasHost = ufnet.HostBounds(r.URLLowerCase)
	if r.hasHost {
		r.Hostname = r.URLLowerCase[r.hostStart:r.hostEnd]
		r.Domain = registrableDomain(r.Hostname)
	}

	r.SourceHostname = strings.ToLower(ufnet.ExtractHostname(sourceURL))
	if r.SourceHostname != "" {
		r.SourceDomain = registrableDomain(r.SourceHostname)
	}

	if r.Domain != "" && r.SourceDomain != "" {
		if r.Domain == r.SourceDomain {
			r.Party = PartyFirst
		} else {
			r.Party = PartyThird
		}
	}

	return r
}

// registrableDomain returns the effective top-level domain plus one label of
// hostname.  IP addresses and hostnames which are public suffixes themselves
// are returned as is.
func registrableDomain(hostname string) (domain string) {
	if ufnet.IsProbablyIP(hostname) {
		if _, err := netip.ParseAddr(hostname); err == nil {
			return hostname
		}
	}

	if domain = effectiveTLDPlusOne(hostname); domain != "" {
		return domain
	}

	return hostname
}

// effectiveTLDPlusOne is a faster version of publicsuffix.EffectiveTLDPlusOne
// that avoids using fmt.Errorf when the domain is less or equal the suffix.
func effectiveTLDPlusOne(hostname string) (domain string) {
	hostnameLen := len(hostname)
	if hostnameLen < 1 {
		return ""
	}

	if hostname[0] == '.' || hostname[hostnameLen-1] == '.' {
		return ""
	}

	suffix, _ := publicsuffix.PublicSuffix(hostname)

	i := hostnameLen - len(suffix) - 1
	if i < 0 || hostname[i] != '.' {
		return ""
	}

	return hostname[1+strings.LastIndex(hostname[:i], "."):]
}
