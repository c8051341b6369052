package policy

import (
	"fmt"
	"sort"
	"time"
)

// Recency is the "recent" window rule: look back DefaultDays; if that
// yields fewer than MinResults items, look back WidenedDays instead.
type Recency struct {
	DefaultDays int
	WidenedDays int
	MinResults  int
}

// DefaultRecency returns 30 days widening to 90, with a floor of 3 items.
func DefaultRecency() Recency {
	return Recency{DefaultDays: 30, WidenedDays: 90, MinResults: 3}
}

// futureSkew tolerates provider timestamps slightly ahead of our clock.
const futureSkew = time.Hour

// Window is the outcome of applying a Recency rule.
type Window[T any] struct {
	// Items are the kept items, newest first.
	Items []T

	// Days is the active window.
	Days int

	// Widened reports whether the default window was too thin.
	Widened bool

	// Note states the window in words, for the model to repeat.
	Note string
}

// ApplyRecency filters items to the active window relative to now. Items
// with a zero published time are dropped: an undated item cannot be shown
// to be inside any window.
func ApplyRecency[T any](r Recency, items []T, published func(T) time.Time, now time.Time) Window[T] {
	inWindow := func(days int) []T {
		cutoff := now.AddDate(0, 0, -days)
		var kept []T
		for _, it := range items {
			p := published(it)
			if p.IsZero() || p.Before(cutoff) || p.After(now.Add(futureSkew)) {
				continue
			}
			kept = append(kept, it)
		}
		sort.SliceStable(kept, func(i, j int) bool {
			return published(kept[i]).After(published(kept[j]))
		})
		return kept
	}

	w := Window[T]{Days: r.DefaultDays, Items: inWindow(r.DefaultDays)}
	if len(w.Items) >= r.MinResults || r.WidenedDays <= r.DefaultDays {
		w.Note = fmt.Sprintf("Showing items from the last %d days.", w.Days)
		return w
	}

	w.Widened = true
	w.Days = r.WidenedDays
	w.Items = inWindow(r.WidenedDays)
	if len(w.Items) >= r.MinResults {
		w.Note = fmt.Sprintf("Fewer than %d items in the last %d days, so the window was widened to %d days.",
			r.MinResults, r.DefaultDays, r.WidenedDays)
	} else {
		w.Note = fmt.Sprintf("Only %d item(s) found in the last %d days.", len(w.Items), r.WidenedDays)
	}
	return w
}
