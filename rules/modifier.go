package rules

import (
	"fmt"
	"strings"

	"github.com/AdguardTeam/reqfilter/internal/ufnet"
)

// DomainConstraint is a single entry of the $domain modifier.
type DomainConstraint struct {
	// Domain is the domain name in lower case.  A trailing ".*" means any
	// public suffix.
	Domain string

	// Allowed is false for negated, "~domain", entries.
	Allowed bool
}

// modifier is a parsed rule option.  The set of implementations is closed:
// each recognized option has its own type and everything else is
// [unknownModifier].
type modifier interface {
	// apply sets the option on the rule being built.
	apply(b *optionsBuilder) (err error)
}

// optionsBuilder accumulates the options of a rule being parsed.
type optionsBuilder struct {
	rule *Rule

	// permitted are the request types from options like $script.
	permitted RequestType

	// restricted are the request types from options like $~script.
	restricted RequestType
}

// domainModifier is the $domain option.
type domainModifier struct {
	constraints []DomainConstraint
}

// partyModifier is the $third-party and $first-party options and their
// negations.
type partyModifier struct {
	party Party
}

// typeModifier is a resource type option, like $script or $~image.
type typeModifier struct {
	requestType RequestType
	negated     bool
}

// matchCaseModifier is the $match-case option.
type matchCaseModifier struct{}

// unknownModifier is any option the parser doesn't support.
type unknownModifier struct {
	name string
}

// type check
var (
	_ modifier = (*domainModifier)(nil)
	_ modifier = partyModifier{}
	_ modifier = typeModifier{}
	_ modifier = matchCaseModifier{}
	_ modifier = unknownModifier{}
)

// apply implements the modifier interface for *domainModifier.
func (m *domainModifier) apply(b *optionsBuilder) (err error) {
	b.rule.domains = append(b.rule.domains, m.constraints...)

	return nil
}

// apply implements the modifier interface for partyModifier.
func (m partyModifier) apply(b *optionsBuilder) (err error) {
	f := b.rule
	if f.party != PartyAny && f.party != m.party {
		return fmt.Errorf("%w: %s and %s", ErrConflictingModifiers, f.party, m.party)
	}

	f.party = m.party

	return nil
}

// apply implements the modifier interface for typeModifier.
func (m typeModifier) apply(b *optionsBuilder) (err error) {
	if m.negated {
		b.restricted |= m.requestType
	} else {
		b.permitted |= m.requestType
	}

	return nil
}

// apply implements the modifier interface for matchCaseModifier.
func (matchCaseModifier) apply(b *optionsBuilder) (err error) {
	b.rule.matchCase = true

	return nil
}

// apply implements the modifier interface for unknownModifier.
func (m unknownModifier) apply(_ *optionsBuilder) (err error) {
	return fmt.Errorf("%w: %q", ErrUnknownModifier, m.name)
}

// parseModifier converts a single option into a modifier.  It returns an error
// only for recognized options with bad values.
func parseModifier(name, value string, hasValue bool) (m modifier, err error) {
	if name == "domain" {
		if !hasValue {
			return nil, fmt.Errorf("%w: $domain requires a value", ErrBadModifierValue)
		}

		var constraints []DomainConstraint
		constraints, err = parseDomains(value, "|")
		if err != nil {
			return nil, err
		}

		return &domainModifier{constraints: constraints}, nil
	}

	if hasValue {
		return unknownModifier{name: name + "=" + value}, nil
	}

	negated := strings.HasPrefix(name, "~")
	bare := strings.TrimPrefix(name, "~")

	switch bare {
	case "third-party", "3p":
		return partyModifier{party: choose(negated, PartyFirst, PartyThird)}, nil
	case "first-party", "1p":
		return partyModifier{party: choose(negated, PartyThird, PartyFirst)}, nil
	case "match-case":
		if negated {
			return unknownModifier{name: name}, nil
		}

		return matchCaseModifier{}, nil
	}

	if t, ok := optionTypes[bare]; ok {
		return typeModifier{requestType: t, negated: negated}, nil
	}

	return unknownModifier{name: name}, nil
}

// choose returns a if cond is true and b otherwise.
func choose[T any](cond bool, a, b T) (res T) {
	if cond {
		return a
	}

	return b
}

// optionTypes are the request type names allowed in rule options.  Browser
// names like "main_frame" are only accepted in requests.
var optionTypes = map[string]RequestType{
	"document":       TypeDocument,
	"doc":            TypeDocument,
	"subdocument":    TypeSubdocument,
	"frame":          TypeSubdocument,
	"script":         TypeScript,
	"stylesheet":     TypeStylesheet,
	"css":            TypeStylesheet,
	"object":         TypeObject,
	"image":          TypeImage,
	"xmlhttprequest": TypeXmlhttprequest,
	"xhr":            TypeXmlhttprequest,
	"media":          TypeMedia,
	"font":           TypeFont,
	"websocket":      TypeWebsocket,
	"ping":           TypePing,
	"other":          TypeOther,
}

// loadOptions parses the options part of the rule text and applies them.  Any
// unrecognized option makes the whole rule invalid.
func (f *Rule) loadOptions(options string) (err error) {
	if options == "" {
		return nil
	}

	b := &optionsBuilder{rule: f}
	for _, option := range splitWithEscapeCharacter(options, ',', escapeCharacter, true) {
		name, value, hasValue := strings.Cut(strings.TrimSpace(option), "=")
		if name == "" {
			return fmt.Errorf("%w: empty option", ErrBadModifierValue)
		}

		var m modifier
		m, err = parseModifier(strings.ToLower(name), value, hasValue)
		if err != nil {
			return err
		}

		err = m.apply(b)
		if err != nil {
			return err
		}
	}

	return f.setRequestTypes(b.permitted, b.restricted)
}

// setRequestTypes combines the permitted and restricted request types into
// the set the rule applies to.
func (f *Rule) setRequestTypes(permitted, restricted RequestType) (err error) {
	if permitted == 0 && restricted == 0 {
		return nil
	}

	if permitted == 0 {
		permitted = TypeAll
	}

	f.permittedTypes = permitted &^ restricted
	if f.permittedTypes == 0 {
		return fmt.Errorf("%w: the rule matches no request types", ErrConflictingModifiers)
	}

	return nil
}

// parseDomains parses the value of the $domain modifier.  sep is the separator
// of the entries.
func parseDomains(value, sep string) (constraints []DomainConstraint, err error) {
	if value == "" {
		return nil, fmt.Errorf("%w: no domains specified", ErrBadModifierValue)
	}

	for _, d := range strings.Split(value, sep) {
		allowed := true
		if strings.HasPrefix(d, "~") {
			allowed = false
			d = d[1:]
		}

		d = strings.ToLower(d)
		name := strings.TrimSuffix(d, ".*")
		if !ufnet.IsDomainName(name) {
			return nil, fmt.Errorf("%w: invalid domain %q", ErrBadModifierValue, d)
		}

		constraints = append(constraints, DomainConstraint{
			Domain:  d,
			Allowed: allowed,
		})
	}

	return constraints, nil
}
