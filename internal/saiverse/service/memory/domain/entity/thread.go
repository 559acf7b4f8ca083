package entity

import "time"

// DefaultThreadSuffix is the suffix of a persona's default thread.
const DefaultThreadSuffix = "default"

// Thread is a bag of messages keyed by (persona_id, suffix). A persona
// has one default thread plus zero or more sub-threads (subagent,
// stelis). Exactly one thread per persona is active at a time.
type Thread struct {
	ID             string    `json:"id"`
	PersonaID      string    `json:"persona_id"`
	Suffix         string    `json:"suffix"`
	ParentThreadID string    `json:"parent_thread_id,omitempty"`
	Active         bool      `json:"active"`
	Depth          int       `json:"depth"`
	CreatedAt      time.Time `json:"created_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
}

// Ended reports whether the thread has been closed.
func (t *Thread) Ended() bool {
	return !t.EndedAt.IsZero()
}
