package store

import "time"

// highlights maps sensor ids to the instant their "new" marker lapses.
type highlights map[int64]time.Time

// add marks id until the given instant. A mark that is still live keeps its
// original deadline: further admissions never extend it.
func (h highlights) add(id int64, now, until time.Time) {
	if h.has(id, now) {
		return
	}
	h[id] = until
}

func (h highlights) has(id int64, now time.Time) bool {
	until, ok := h[id]
	return ok && until.After(now)
}

// expire drops lapsed entries and reports whether any were dropped.
func (h highlights) expire(now time.Time) bool {
	dropped := false
	for id, until := range h {
		if !until.After(now) {
			delete(h, id)
			dropped = true
		}
	}
	return dropped
}

func (h highlights) clear() {
	for id := range h {
		delete(h, id)
	}
}
