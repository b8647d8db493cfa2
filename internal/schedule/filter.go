package schedule

import "uqclock/internal/model"

// IgnoreSet is a set of exact event titles to drop.
type IgnoreSet map[string]struct{}

// NewIgnoreSet builds an IgnoreSet from config titles.
func NewIgnoreSet(titles []string) IgnoreSet {
	set := make(IgnoreSet, len(titles))
	for _, t := range titles {
		set[t] = struct{}{}
	}
	return set
}

// Has reports whether title is ignored.
func (s IgnoreSet) Has(title string) bool {
	_, ok := s[title]
	return ok
}

// Filter returns the events whose title is not in ignored, keeping their
// relative order. The input slice is not modified.
func Filter(events []model.Event, ignored IgnoreSet) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ignored.Has(ev.Title) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
