package reqfilter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/reqfilter/filterlist"
	"github.com/AdguardTeam/reqfilter/internal/metrics"
	"github.com/AdguardTeam/reqfilter/rules"
)

// HolderConfig is the configuration structure for a [*Holder].
type HolderConfig struct {
	// Logger is used for logging the reloads.  It must not be nil.
	Logger *slog.Logger

	// Metrics is used to record the builds and the checks.  If nil,
	// [metrics.Empty] is used.
	Metrics metrics.Interface

	// Engine is the initial engine.  If nil, an empty engine is used.
	Engine *Engine

	// Component is the name of the host used in the check metrics, e.g.
	// [metrics.ComponentProxy].
	Component string
}

// Holder keeps the current engine and replaces it as a whole on reload, so
// the checks never wait for a rebuild.  Holder is safe for concurrent use.
type Holder struct {
	logger    *slog.Logger
	metrics   metrics.Interface
	engine    atomic.Pointer[Engine]
	component string
}

// NewHolder returns a new properly initialized *Holder.  c must not be nil.
func NewHolder(c *HolderConfig) (h *Holder) {
	h = &Holder{
		logger:    c.Logger,
		metrics:   c.Metrics,
		component: c.Component,
	}

	if h.metrics == nil {
		h.metrics = metrics.Empty{}
	}

	e := c.Engine
	if e == nil {
		e = NewEngine("", nil)
	}

	h.engine.Store(e)

	return h
}

// Engine returns the current engine.
func (h *Holder) Engine() (e *Engine) {
	return h.engine.Load()
}

// Swap replaces the current engine with e and returns the previous one.  e
// must not be nil.
func (h *Holder) Swap(e *Engine) (prev *Engine) {
	return h.engine.Swap(e)
}

// Reload builds a new engine from lists and swaps it with the current one.
// If the build fails, the current engine is kept.  The lists are not closed.
func (h *Holder) Reload(ctx context.Context, lists ...filterlist.RuleList) (err error) {
	start := time.Now()
	e, err := NewEngineFromLists(ctx, h.logger, lists...)
	dur := time.Since(start)
	if err != nil {
		h.metrics.ObserveBuild(0, 0, dur, err)

		return fmt.Errorf("reloading engine: %w", err)
	}

	h.metrics.ObserveBuild(e.RulesCount(), e.SkippedCount(), dur, nil)
	prev := h.Swap(e)

	h.logger.InfoContext(
		ctx,
		"engine reloaded",
		"rules", e.RulesCount(),
		"skipped", e.SkippedCount(),
		"prev_rules", prev.RulesCount(),
		"elapsed", dur,
	)

	return nil
}

// Check checks the request against the current engine.  See [Engine.Check].
func (h *Holder) Check(rawURL, sourceURL, resourceType string) (matched bool) {
	r := rules.NewRequest(rawURL, sourceURL, rules.ParseRequestType(resourceType))

	return h.CheckRequest(r)
}

// CheckRequest checks r against the current engine and records the verdict.
// See [Engine.CheckRequest].
func (h *Holder) CheckRequest(r *rules.Request) (matched bool) {
	return h.CheckEngine(h.Engine(), r)
}

// CheckEngine checks r against e and records the verdict.  e is usually a
// result of [Holder.Engine] loaded by a caller which needs to know which
// engine the verdict came from.  e must not be nil.
func (h *Holder) CheckEngine(e *Engine, r *rules.Request) (matched bool) {
	start := time.Now()
	matched = e.CheckRequest(r)
	h.metrics.ObserveCheck(h.component, matched, time.Since(start))

	return matched
}
