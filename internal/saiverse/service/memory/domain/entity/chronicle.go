package entity

import "time"

// ChronicleEntry is a dated summary of a consecutive message range.
// Entries are immutable after creation.
type ChronicleEntry struct {
	ID           string    `json:"id"`
	PersonaID    string    `json:"persona_id"`
	ThreadID     string    `json:"thread_id,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Level        int       `json:"level"`
	MessageCount int       `json:"message_count"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}
