// Package ufnet contains utilities for URL, hostname, and domain parsing and
// validation.
package ufnet

import "strings"

// HostBounds returns the indexes of the first and the past-the-end byte of the
// hostname within rawURL.  ok is false if the URL has no hierarchical part or
// the hostname is empty.
//
// NOTE: HostBounds is a best-effort function that never allocates.  It skips
// the userinfo part and stops at the port, path, query, or fragment.  For
// bracketed IPv6 hosts the brackets are not included.
func HostBounds(rawURL string) (start, end int, ok bool) {
	i := strings.Index(rawURL, "://")
	if i <= 0 {
		return 0, 0, false
	}

	start = i + len("://")
	end = len(rawURL)
	if j := strings.IndexAny(rawURL[start:], "/?#"); j >= 0 {
		end = start + j
	}

	// Skip the userinfo, if any.
	if at := strings.LastIndexByte(rawURL[start:end], '@'); at >= 0 {
		start += at + 1
	}

	if start < end && rawURL[start] == '[' {
		closing := strings.IndexByte(rawURL[start:end], ']')
		if closing < 0 {
			return 0, 0, false
		}

		return start + 1, start + closing, closing > 1
	}

	if colon := strings.IndexByte(rawURL[start:end], ':'); colon >= 0 {
		end = start + colon
	}

	return start, end, start < end
}

// ExtractHostname quickly retrieves hostname from the given URL.  It returns an
// empty string if there is none.
func ExtractHostname(rawURL string) (hostname string) {
	start, end, ok := HostBounds(rawURL)
	if !ok {
		return ""
	}

	return rawURL[start:end]
}

// maxDomainLen is the maximum length of a domain name in its textual form.
const maxDomainLen = 253

// maxLabelLen is the maximum length of a single domain name label.
const maxLabelLen = 63

// IsDomainName returns true if name is a syntactically valid hostname: one or
// more dot-separated labels of letters, digits, and hyphens, with no label
// starting or ending with a hyphen.  A single-label name is accepted, since
// filter lists use those for local and intranet hosts.
func IsDomainName(name string) (ok bool) {
	if name == "" || len(name) > maxDomainLen {
		return false
	}

	for label := range strings.SplitSeq(name, ".") {
		if !isValidLabel(label) {
			return false
		}
	}

	return true
}

// isValidLabel returns true if label is a valid domain name label.
func isValidLabel(label string) (ok bool) {
	l := len(label)
	if l == 0 || l > maxLabelLen || label[0] == '-' || label[l-1] == '-' {
		return false
	}

	for i := range l {
		c := label[i]
		switch {
		case
			c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9',
			c == '-':
			// Go on.
		default:
			return false
		}
	}

	return true
}

// IsSubdomainOrSame returns true if host is equal to domain or is one of its
// subdomains.  Both must be in lower case.
func IsSubdomainOrSame(host, domain string) (ok bool) {
	if !strings.HasSuffix(host, domain) {
		return false
	}

	n := len(host) - len(domain)

	return n == 0 || (n > 0 && host[n-1] == '.')
}

// isAddrRune returns true if r is a valid rune of string representation of an
// IP address.
func isAddrRune(r rune) (ok bool) {
	switch {
	case r == '.', r == ':',
		r >= '0' && r <= '9',
		r >= 'A' && r <= 'F',
		r >= 'a' && r <= 'f':
		return true
	default:
		return false
	}
}

// IsProbablyIP returns true if s only contains characters that can be part of
// an IP address.  It's needed to avoid unnecessary allocations when parsing
// with [netip.ParseAddr].
func IsProbablyIP(s string) (ok bool) {
	for _, r := range s {
		if !isAddrRune(r) {
			return false
		}
	}

	return len(s) >= len("::")
}
