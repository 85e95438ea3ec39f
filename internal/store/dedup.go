package store

import "github.com/keilerkonzept/climate-telemetry-tui/internal/reading"

// Admissible reports whether r may join set: no member shares its identity.
func Admissible(set []reading.Reading, r reading.Reading) bool {
	id := r.Identity()
	for _, s := range set {
		if s.Identity() == id {
			return false
		}
	}
	return true
}
