package rules

import (
	"strings"

	"github.com/AdguardTeam/reqfilter/internal/ufnet"
	"golang.org/x/net/publicsuffix"
)

// splitWithEscapeCharacter splits str by sep unless it is preceded by
// escapeChar.  The escape character is removed only when it escapes sep.  If
// preserveAllTokens is false, empty parts are omitted.
func splitWithEscapeCharacter(str string, sep, escapeChar byte, preserveAllTokens bool) (parts []string) {
	if str == "" {
		return nil
	}

	var sb strings.Builder
	escaped := false
	for i := range len(str) {
		c := str[i]
		switch {
		case c == escapeChar && !escaped:
			escaped = true

			continue
		case c == sep && escaped:
			sb.WriteByte(c)
		case c == sep:
			if preserveAllTokens || sb.Len() > 0 {
				parts = append(parts, sb.String())
				sb.Reset()
			}
		default:
			if escaped {
				sb.WriteByte(escapeChar)
			}

			sb.WriteByte(c)
		}

		escaped = false
	}

	if escaped {
		sb.WriteByte(escapeChar)
	}

	if preserveAllTokens || sb.Len() > 0 {
		parts = append(parts, sb.String())
	}

	return parts
}

// matchesDomain returns true if hostname, in lower case, is the domain of c
// or one of its subdomains.  A constraint like "example.*" matches
// "example.<public suffix>" and its subdomains.
func (c DomainConstraint) matchesDomain(hostname string) (ok bool) {
	name, isWildcard := strings.CutSuffix(c.Domain, ".*")
	if !isWildcard {
		return ufnet.IsSubdomainOrSame(hostname, name)
	}

	suffix, icann := publicsuffix.PublicSuffix(hostname)
	if !icann || suffix == "" || len(hostname) <= len(suffix)+1 {
		return false
	}

	// Cut ".<suffix>" and compare the rest.
	rest := hostname[:len(hostname)-len(suffix)-1]

	return ufnet.IsSubdomainOrSame(rest, name)
}
