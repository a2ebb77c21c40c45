package jobstore

// Status is the lifecycle state of a job, persisted as a keyword in the
// status file.
type Status string

const (
	// StatusPending indicates the job is queued and waiting to be dispatched.
	StatusPending Status = "PENDING"

	// StatusRunning indicates the job's process has been spawned and has not
	// yet exited.
	StatusRunning Status = "RUNNING"

	// StatusPaused indicates the job's process has been suspended with a stop
	// signal. It can be resumed back to RUNNING.
	StatusPaused Status = "PAUSED"

	// StatusCompleted indicates the job's process exited with code 0.
	StatusCompleted Status = "COMPLETED"

	// StatusError indicates the job's process exited non-zero or could not be
	// spawned at all.
	StatusError Status = "ERROR"
)

// Valid reports whether s is one of the recognised status keywords.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusError:
		return true
	}

	return false
}

// Terminal reports whether no further automatic transition occurs from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Active reports whether a job in state s has a live OS process attached,
// i.e. it is running or suspended.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused
}
