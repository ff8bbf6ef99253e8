package model

import "time"

// Operation statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation is one CLI operation recorded in the journal.
type Operation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time // nil while the operation is running
	Operation  string     // command name, e.g. "backup"
	Parameters string
	Status     string
	Detail     string // snapshot name, check summary or error text
}

// Finished reports whether the operation has been closed.
func (o *Operation) Finished() bool { return o.FinishedAt != nil }

// Duration returns how long a finished operation took, or zero.
func (o *Operation) Duration() time.Duration {
	if o.FinishedAt == nil {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
