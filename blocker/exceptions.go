package blocker

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// ExceptionType is the kind of a [FilterException].
type ExceptionType string

// Valid exception types.
const (
	// ExceptionTypeHost exempts all pages of a host.
	ExceptionTypeHost ExceptionType = "host"

	// ExceptionTypePage exempts a single page, the query and the fragment are
	// ignored.
	ExceptionTypePage ExceptionType = "page"
)

// FilterException is a user exception: all requests made from the pages it
// describes are allowed.
type FilterException struct {
	// Type is the kind of the exception.
	Type ExceptionType `json:"type"`

	// Source is the host or the host and the path of the exempted pages, e.g.
	// "example.com" or "example.com/news/".
	Source string `json:"source"`
}

// schemeRe matches the scheme part of a URL.
var schemeRe = regexp.MustCompile(`^\w+://`)

// parseSource parses the lowercased source of an exception or a URL, adding a
// placeholder scheme if there is none.
func parseSource(src string) (u *url.URL, err error) {
	src = strings.ToLower(strings.TrimSpace(src))
	if !schemeRe.MatchString(src) {
		src = "scheme://" + src
	}

	u, err = url.Parse(src)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	if u.Host == "" {
		return nil, fmt.Errorf("could not determine host for exception: %q", src)
	}

	return u, nil
}

// pagePath returns the path of u or "/" if it's empty.
func pagePath(u *url.URL) (p string) {
	if u.Path == "" {
		return "/"
	}

	return u.Path
}

// normalize returns the normalized version of e.
func (e FilterException) normalize() (n FilterException, err error) {
	u, err := parseSource(e.Source)
	if err != nil {
		return n, err
	}

	switch e.Type {
	case ExceptionTypeHost:
		return FilterException{Type: ExceptionTypeHost, Source: u.Hostname()}, nil
	case ExceptionTypePage:
		return FilterException{Type: ExceptionTypePage, Source: u.Host + pagePath(u)}, nil
	default:
		return n, fmt.Errorf("exception type: %w: %q", errors.ErrBadEnumValue, e.Type)
	}
}

// NormalizeExceptions returns the normalized versions of excs: lowercased,
// without schemes, queries, and fragments.
func NormalizeExceptions(excs []FilterException) (res []FilterException, err error) {
	res = make([]FilterException, 0, len(excs))
	for i, e := range excs {
		var n FilterException
		n, err = e.normalize()
		if err != nil {
			return nil, fmt.Errorf("exception at index %d: %w", i, err)
		}

		res = append(res, n)
	}

	return res, nil
}

// ParseException returns an exception of the source, which is a page one if
// the source contains a path and a host one otherwise.
func ParseException(src string) (e FilterException, err error) {
	u, err := parseSource(src)
	if err != nil {
		return e, err
	}

	normalized := u.Host + u.Path
	if strings.Contains(normalized, "/") {
		return FilterException{Type: ExceptionTypePage, Source: normalized}, nil
	}

	return FilterException{Type: ExceptionTypeHost, Source: normalized}, nil
}

// matchException returns true if one of excs describes the page at rawURL.
func matchException(excs []FilterException, rawURL string) (ok bool) {
	u, err := parseSource(rawURL)
	if err != nil {
		return false
	}

	hostname := u.Hostname()
	page := hostname + pagePath(u)

	return slices.ContainsFunc(excs, func(e FilterException) (found bool) {
		switch e.Type {
		case ExceptionTypeHost:
			return e.Source == hostname
		case ExceptionTypePage:
			return e.Source == page
		default:
			return false
		}
	})
}
