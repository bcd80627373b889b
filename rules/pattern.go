package rules

import (
	"strings"
)

// Special characters of the rule pattern syntax.
const (
	// MaskAnyCharacter matches any sequence of characters, including an
	// empty one.
	MaskAnyCharacter = '*'

	// MaskSeparator matches a single separator character or the end of the
	// URL.
	MaskSeparator = '^'

	// MaskPipe marks the start or the end of the URL.
	MaskPipe = '|'

	// MaskDomain marks the start of a hostname label.
	MaskDomain = "||"
)

// MinTokenLength is the minimum length of a pattern literal that can be used
// as an index token.
const MinTokenLength = 3

// Anchor is a bit set describing where the pattern must match.
type Anchor uint8

// AnchorNone means the pattern can match anywhere within the URL.
const AnchorNone Anchor = 0

// Anchor values.  [AnchorStart] and [AnchorDomain] are mutually exclusive,
// [AnchorEnd] can be combined with either of them.
const (
	// AnchorStart means the match begins at the first character of the URL.
	AnchorStart Anchor = 1 << iota

	// AnchorDomain means the match begins at a hostname label boundary.
	AnchorDomain

	// AnchorEnd means the match ends at the last character of the URL.
	AnchorEnd
)

// Has returns true if all anchors of want are set in a.
func (a Anchor) Has(want Anchor) (ok bool) {
	return a&want == want
}

// SegmentKind is the type of a pattern segment.
type SegmentKind uint8

// SegmentKind values.
const (
	SegmentLiteral SegmentKind = iota
	SegmentWildcard
	SegmentSeparator
)

// Segment is a single part of a compiled pattern.
type Segment struct {
	// Literal is the text of a [SegmentLiteral] segment.
	Literal string

	// Kind is the type of the segment.
	Kind SegmentKind
}

// Pattern is a compiled rule pattern.
type Pattern []Segment

// hasLiteral returns true if the pattern contains at least one literal.
func (p Pattern) hasLiteral() (ok bool) {
	for _, s := range p {
		if s.Kind == SegmentLiteral {
			return true
		}
	}

	return false
}

// parsePattern removes the anchors from text and splits the rest into
// segments.  Literals are lowered unless matchCase is true.
func parsePattern(text string, matchCase bool) (p Pattern, a Anchor, err error) {
	switch {
	case strings.HasPrefix(text, MaskDomain):
		a = AnchorDomain
		text = text[len(MaskDomain):]
	case text != "" && text[0] == MaskPipe:
		a = AnchorStart
		text = text[1:]
	}

	if text != "" && text[len(text)-1] == MaskPipe {
		a |= AnchorEnd
		text = text[:len(text)-1]
	}

	if text == "" {
		return nil, AnchorNone, ErrEmptyPattern
	}

	if strings.ContainsAny(text, "| \t") {
		return nil, AnchorNone, ErrMalformedPattern
	}

	if !matchCase {
		text = strings.ToLower(text)
	}

	for text != "" {
		i := strings.IndexAny(text, "*^")
		if i == -1 {
			p = append(p, Segment{Kind: SegmentLiteral, Literal: text})

			break
		}

		if i > 0 {
			p = append(p, Segment{Kind: SegmentLiteral, Literal: text[:i]})
		}

		if text[i] == MaskSeparator {
			p = append(p, Segment{Kind: SegmentSeparator})
		} else if len(p) == 0 || p[len(p)-1].Kind != SegmentWildcard {
			p = append(p, Segment{Kind: SegmentWildcard})
		}

		text = text[i+1:]
	}

	return trimWildcards(p, a), a, nil
}

// trimWildcards removes the wildcards from the sides of p which are not
// anchored, since they match anything anyway.
func trimWildcards(p Pattern, a Anchor) (trimmed Pattern) {
	if len(p) > 0 && p[0].Kind == SegmentWildcard && a&(AnchorStart|AnchorDomain) == 0 {
		p = p[1:]
	}

	if len(p) > 0 && p[len(p)-1].Kind == SegmentWildcard && !a.Has(AnchorEnd) {
		p = p[:len(p)-1]
	}

	return p
}

// findToken returns the longest literal of p if it is good enough to be used
// as an index token.  Literals that are too short or that are a part of a URL
// scheme, which almost any URL has, are not.
func findToken(p Pattern) (tok string) {
	for _, s := range p {
		if s.Kind == SegmentLiteral && len(s.Literal) > len(tok) {
			tok = s.Literal
		}
	}

	tok = strings.ToLower(tok)
	if len(tok) < MinTokenLength || isSchemeToken(tok) {
		return ""
	}

	return tok
}

// isSchemeToken returns true if tok is a part of one of the common URL
// scheme prefixes.
func isSchemeToken(tok string) (ok bool) {
	return strings.Contains("https://", tok) || strings.Contains("wss://", tok)
}

// isSeparator returns true if c matches the [MaskSeparator].
func isSeparator(c byte) (ok bool) {
	switch {
	case
		c >= 'a' && c <= 'z',
		c >= 'A' && c <= 'Z',
		c >= '0' && c <= '9',
		c == '_', c == '-', c == '.', c == '%':
		return false
	default:
		return true
	}
}

// matchAt returns true if p matches s starting exactly at pos.  If atEnd is
// true, the match must also end at the end of s.
func (p Pattern) matchAt(s string, pos int, atEnd bool) (ok bool) {
	return p.matchFrom(s, pos, atEnd, false)
}

// matchAnywhereFrom returns true if p matches s starting at any position
// equal to or greater than pos.
func (p Pattern) matchAnywhereFrom(s string, pos int, atEnd bool) (ok bool) {
	return p.matchFrom(s, pos, atEnd, true)
}

// matchFrom matches p against s from pos.  If floating is true, the match may
// start at any later position, as if p began with a wildcard.
//
// On a mismatch only the segments after the last wildcard are retried, one
// position further, so the matching takes O(len(s) * len(p)).
func (p Pattern) matchFrom(s string, pos int, atEnd, floating bool) (ok bool) {
	// star is the index of the segment after the last wildcard, or -1 if
	// there was none.  starPos is the position in s the segments after it
	// were last tried from.
	star, starPos := -1, pos
	if floating {
		star = 0
	}

	i := 0
	for {
		if i == len(p) {
			if !atEnd || pos == len(s) || star == len(p) {
				return true
			}
		} else if p.matchSegment(s, &i, &pos, &star, &starPos) {
			continue
		}

		if star < 0 || starPos >= len(s) {
			return false
		}

		starPos = p.nextStart(s, star, starPos+1)
		if starPos < 0 {
			return false
		}

		i, pos = star, starPos
	}
}

// matchSegment tries to match the segment at *i at *pos, advancing both on
// success.  Wildcards record the backtracking point in *star and *starPos.
func (p Pattern) matchSegment(s string, i, pos, star, starPos *int) (ok bool) {
	seg := p[*i]
	switch seg.Kind {
	case SegmentLiteral:
		if !strings.HasPrefix(s[*pos:], seg.Literal) {
			return false
		}

		*pos += len(seg.Literal)
	case SegmentSeparator:
		if *pos < len(s) {
			if !isSeparator(s[*pos]) {
				return false
			}

			*pos++
		}

		// Otherwise the separator matches the end of the URL.
	default:
		*star, *starPos = *i+1, *pos
	}

	*i++

	return true
}

// nextStart returns the first position equal to or greater than from at which
// the segments after a wildcard, starting with p[star], can be tried.  It
// returns -1 if there is none.
func (p Pattern) nextStart(s string, star, from int) (pos int) {
	if from > len(s) {
		return -1
	}

	if star >= len(p) || p[star].Kind != SegmentLiteral {
		return from
	}

	i := strings.Index(s[from:], p[star].Literal)
	if i < 0 {
		return -1
	}

	return from + i
}

// match returns true if p matches s with regard to anchor a.  hostStart and
// hostEnd are the bounds of the hostname within s, hasHost is false if the
// hostname could not be extracted.
func (p Pattern) match(s string, a Anchor, hostStart, hostEnd int, hasHost bool) (ok bool) {
	atEnd := a.Has(AnchorEnd)

	switch {
	case a.Has(AnchorStart):
		return p.matchAt(s, 0, atEnd)
	case a.Has(AnchorDomain):
		if !hasHost {
			return false
		}

		for pos := hostStart; pos < hostEnd; pos++ {
			if (pos == hostStart || s[pos-1] == '.') && p.matchAt(s, pos, atEnd) {
				return true
			}
		}

		return false
	default:
		return p.matchAnywhereFrom(s, 0, atEnd)
	}
}
