package rules

// Match returns true if the rule matches r.  The cheaper checks go first.
func (f *Rule) Match(r *Request) (ok bool) {
	switch {
	case
		!f.matchRequestType(r.RequestType),
		!f.matchParty(r.Party),
		!f.matchSourceDomain(r.SourceHostname):
		return false
	default:
		return f.matchPattern(r)
	}
}

// matchRequestType returns true if the rule applies to requests of type t.
func (f *Rule) matchRequestType(t RequestType) (ok bool) {
	return f.permittedTypes == 0 || f.permittedTypes&t != 0
}

// matchParty returns true if the party restriction of the rule, if any, is
// met.  Requests with an unknown party never satisfy a restriction.
func (f *Rule) matchParty(p Party) (ok bool) {
	return f.party == PartyAny || f.party == p
}

// matchSourceDomain checks the $domain restrictions against the hostname of
// the page the request comes from.  Restricted entries always win.  If there
// are permitted entries, the source must match one of them, so a request
// without a source doesn't match.
func (f *Rule) matchSourceDomain(sourceHostname string) (ok bool) {
	if len(f.domains) == 0 {
		return true
	}

	if sourceHostname == "" {
		return !f.hasPermittedDomains()
	}

	permitted, hasPermitted := false, false
	for _, d := range f.domains {
		if !d.Allowed {
			if d.matchesDomain(sourceHostname) {
				return false
			}

			continue
		}

		hasPermitted = true
		permitted = permitted || d.matchesDomain(sourceHostname)
	}

	return !hasPermitted || permitted
}

// matchPattern returns true if the rule pattern matches the request URL.
func (f *Rule) matchPattern(r *Request) (ok bool) {
	s := r.URLLowerCase
	if f.matchCase {
		// Lowering some non-ASCII characters changes the length, and then the
		// hostname bounds are not valid for the original URL.
		if f.anchor.Has(AnchorDomain) && len(r.URL) != len(r.URLLowerCase) {
			return false
		}

		s = r.URL
	}

	return f.pattern.match(s, f.anchor, r.hostStart, r.hostEnd, r.hasHost)
}
