// Package consistency owns the classification of every attempted mutation:
// apply, ignore, or contradiction. Handlers build their results through this
// vocabulary so the orchestrator never has to infer intent from errors.
package consistency

import (
	"fmt"
	"strings"

	"concord/internal/temporal"
)

// Kind classifies the result of processing one canonical message.
type Kind int

const (
	// KindApplied means at least one entity changed.
	KindApplied Kind = iota
	// KindIgnored means the event was plausible but required no action.
	KindIgnored
	// KindContradiction means the event conflicts with recorded state and
	// the message's transaction was rolled back.
	KindContradiction
)

func (k Kind) String() string {
	switch k {
	case KindApplied:
		return "applied"
	case KindIgnored:
		return "ignored"
	case KindContradiction:
		return "contradiction"
	default:
		return fmt.Sprintf("outcome_kind(%d)", int(k))
	}
}

// Change is one entity-level effect of an applied message.
type Change struct {
	Entity string
	Key    string
	Result temporal.UpsertResult
}

func (c Change) String() string {
	return fmt.Sprintf("%s[%s]=%s", c.Entity, c.Key, c.Result)
}

// Conflict describes a contradiction: what the event claimed and what the
// store already records.
type Conflict struct {
	Description string
	PriorState  string
}

// Outcome is the result surfaced for every processed message.
type Outcome struct {
	Kind     Kind
	Changes  []Change
	Reason   string
	Conflict *Conflict
}

// Applied builds an outcome from entity changes. When every change turned out
// to be a no-op the message is classified as ignored instead, which keeps
// duplicate delivery out of the applied counters.
func Applied(changes ...Change) Outcome {
	effective := false
	for _, c := range changes {
		if c.Result != temporal.NoChange {
			effective = true
			break
		}
	}
	if !effective {
		return Outcome{Kind: KindIgnored, Changes: changes, Reason: "no state change required"}
	}
	return Outcome{Kind: KindApplied, Changes: changes}
}

// Ignore builds a soft no-op outcome.
func Ignore(reason string) Outcome {
	return Outcome{Kind: KindIgnored, Reason: reason}
}

// Contradict builds a contradiction outcome. prior describes the conflicting
// recorded state for operator follow-up.
func Contradict(description, prior string) Outcome {
	return Outcome{Kind: KindContradiction, Conflict: &Conflict{Description: description, PriorState: prior}}
}

// Merge folds another outcome into o. A contradiction dominates; otherwise
// changes accumulate and the applied/ignored classification is recomputed.
func (o Outcome) Merge(other Outcome) Outcome {
	if o.Kind == KindContradiction {
		return o
	}
	if other.Kind == KindContradiction {
		return other
	}
	merged := Applied(append(append([]Change(nil), o.Changes...), other.Changes...)...)
	if merged.Kind == KindIgnored {
		reasons := make([]string, 0, 2)
		for _, r := range []string{o.Reason, other.Reason} {
			if r != "" {
				reasons = append(reasons, r)
			}
		}
		if len(reasons) > 0 {
			merged.Reason = strings.Join(reasons, "; ")
		}
	}
	return merged
}
