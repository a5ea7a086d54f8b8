package models

import "encoding/json"

// EventKind names a progress event of a grading job.
type EventKind string

const (
	EventJobStarted     EventKind = "job_started"
	EventPartialResult  EventKind = "partial_result"
	EventStudentSummary EventKind = "student_summary"
	EventJobDone        EventKind = "job_done"
	EventError          EventKind = "error"
)

// IsTerminal reports whether the event ends a job's stream.
func (k EventKind) IsTerminal() bool {
	return k == EventJobDone || k == EventError
}

// StreamEvent is the wire envelope delivered to stream subscribers. Sequence starts at 1 per job.
type StreamEvent struct {
	Event    EventKind       `json:"event"`
	JobID    string          `json:"job_id"`
	Sequence uint64          `json:"sequence"`
	Data     json.RawMessage `json:"data"`
}
