// Package ids generates the time-ordered identifiers Retrack's entities use
// (spec.md §3: "tracker_id (time-ordered UUID, v7)").
package ids

import "github.com/google/uuid"

// New returns a new UUID v7 string: lexicographically and chronologically
// ordered, so primary-key indexes on trackers/revisions/tasks/scheduler_jobs
// stay insert-ordered.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the backing rand source errors; fall back to a
		// random v4 rather than panic in a hot path.
		return uuid.NewString()
	}
	return id.String()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
