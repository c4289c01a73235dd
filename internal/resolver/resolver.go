// Package resolver turns detected conflicts into deterministic resolution
// decisions. It only decides; applying a decision to storage or to the
// external service is the orchestrator's job.
package resolver

import (
	"fmt"
	"reflect"

	"github.com/daygrid/daygrid/internal/core"
)

// Options tweak resolution behavior
type Options struct {
	// Fields that are never pushed or overwritten (ids, bookkeeping)
	IgnoreFields []string
}

// Resolve produces a full decision for one conflict under a strategy.
// It never partially applies anything: the result is either a complete
// decision or a deferred conflict waiting on the user.
func Resolve(c core.Conflict, strategy core.Strategy, opts Options) (core.Resolution, error) {
	switch strategy {
	case core.StrategyClientWins:
		return core.Resolution{Action: core.ResolutionKeepLocal}, nil

	case core.StrategyServerWins:
		return core.Resolution{Action: core.ResolutionKeepExternal}, nil

	case core.StrategyLatest:
		return resolveLatest(c), nil

	case core.StrategyMerge:
		return resolveMerge(c, opts), nil

	case core.StrategyManual:
		return core.Resolution{Action: core.ResolutionDeferred}, nil

	default:
		return core.Resolution{}, fmt.Errorf("unknown conflict strategy %q", strategy)
	}
}

// resolveLatest picks whichever side was modified later. An exact tie
// goes to the external side, so the outcome never depends on map order
// or clock jitter interpretation.
func resolveLatest(c core.Conflict) core.Resolution {
	if c.LocalUpdatedAt.After(c.ExternalUpdatedAt) {
		return core.Resolution{Action: core.ResolutionKeepLocal}
	}
	return core.Resolution{Action: core.ResolutionKeepExternal}
}

// resolveMerge keeps both sides where their changed fields are disjoint.
// A field changed on both sides falls back to the latest timestamp for
// that field only.
func resolveMerge(c core.Conflict, opts Options) core.Resolution {
	ignored := make(map[string]bool, len(opts.IgnoreFields))
	for _, f := range opts.IgnoreFields {
		ignored[f] = true
	}

	merged := make(map[string]any)

	// Start from the local view, then overlay the external side's values
	// for fields only it changed, or for contested fields it won on time.
	for k, v := range c.Local {
		merged[k] = v
	}

	localWins := c.LocalUpdatedAt.After(c.ExternalUpdatedAt)
	for _, field := range c.Fields {
		if ignored[field] {
			continue
		}

		lv, lok := c.Local[field]
		ev, eok := c.External[field]

		switch {
		case !lok && eok:
			merged[field] = ev
		case lok && eok && !reflect.DeepEqual(lv, ev):
			// Both sides touched the same scalar: latest wins, tie to external
			if !localWins {
				merged[field] = ev
			}
		}
	}

	// Carry external-only fields that were never in contention
	for k, v := range c.External {
		if _, ok := merged[k]; !ok && !ignored[k] {
			merged[k] = v
		}
	}

	return core.Resolution{Action: core.ResolutionMerged, Merged: merged}
}

// ChangedFields compares two field maps and returns the keys whose values
// differ, including keys present on only one side. Used to build the
// contention list before Resolve runs.
func ChangedFields(a, b map[string]any) []string {
	var fields []string
	seen := make(map[string]bool)

	for k, av := range a {
		seen[k] = true
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			fields = append(fields, k)
		}
	}
	for k := range b {
		if !seen[k] {
			fields = append(fields, k)
		}
	}

	return fields
}
