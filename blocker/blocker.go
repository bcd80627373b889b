// Package blocker contains a client which keeps a set of downloadable rulesets,
// user exceptions, and a filtering engine built of them in sync.
package blocker

import (
	"github.com/AdguardTeam/golibs/errors"
)

const (
	// ErrRulesetDataNotPresent is returned when the client has no ruleset data
	// yet.  Call [Client.Update] to obtain the latest rulesets.
	ErrRulesetDataNotPresent errors.Error = "ruleset data is not present"

	// ErrEngineNotAvailable is returned by [Client.CheckURL] when the engine
	// has never been built.
	ErrEngineNotAvailable errors.Error = "filter engine is not available"

	// ErrNotModified is returned by [RulesetProvider.DownloadRuleset] when the
	// ruleset has not changed since the version with the given cache key.
	ErrNotModified errors.Error = "ruleset not modified"

	// ErrBadURL is returned by [Client.CheckURL] when the URL can't be parsed.
	ErrBadURL errors.Error = "url is not a valid url"

	// ErrBadScheme is returned by [Client.CheckURL] when the URL has a scheme
	// other than http, https, ws, or wss.
	ErrBadScheme errors.Error = "url must be of a valid scheme type: http,https,ws,wss"
)

// RulesetType is the category of a ruleset.
type RulesetType string

// Valid ruleset types.
const (
	RulesetTypeAdBlocking RulesetType = "ad-blocking"
	RulesetTypePrivacy    RulesetType = "privacy"
	RulesetTypeSocial     RulesetType = "social"
)

// DefaultActiveRulesets returns the ruleset types used when the active set has
// never been set.
func DefaultActiveRulesets() (types []RulesetType) {
	return []RulesetType{
		RulesetTypeAdBlocking,
		RulesetTypePrivacy,
		RulesetTypeSocial,
	}
}

// Status is the state of a [Client].
type Status string

// Valid statuses.
const (
	// StatusNeedsUpdate means that the rulesets must be downloaded with
	// [Client.Update] before the client can be used.
	StatusNeedsUpdate Status = "needs-update"

	// StatusReady means that the engine is built and the checks can be made.
	StatusReady Status = "ready"

	// StatusError means that the last update has failed.
	StatusError Status = "error"
)

// Result is the verdict of [Client.CheckURL].
type Result string

// Valid results.
const (
	ResultAllowed Result = "allowed"
	ResultBlocked Result = "blocked"
)
