package models

// SourceStatus is the current state of a [Source].
type SourceStatus string

const (
	SourceIdle        SourceStatus = "idle"
	SourceSyncing     SourceStatus = "syncing"
	SourceDownloading SourceStatus = "downloading"
	SourceError       SourceStatus = "error"
	SourceCompleted   SourceStatus = "completed"
)

// Busy reports whether the status is only valid while a job is active.
func (s SourceStatus) Busy() bool {
	return s == SourceSyncing || s == SourceDownloading
}

// ItemStatus is the materialization state of an [Item].
type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemFetching    ItemStatus = "fetching"
	ItemTranscoding ItemStatus = "transcoding"
	ItemCompleted   ItemStatus = "completed"
	ItemError       ItemStatus = "error"
	ItemSkipped     ItemStatus = "skipped"
)

// Candidate reports whether an item in this state is materialized on the next run.
func (s ItemStatus) Candidate() bool {
	return s == ItemPending || s == ItemError
}

// JobStatus is the state of a [Job].
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no transition leaves this state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// TriggerKind records what started a [Job].
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
)

// Valid reports whether k is a known trigger.
func (k TriggerKind) Valid() bool {
	return k == TriggerManual || k == TriggerScheduled
}

var sourceTransitions = map[SourceStatus][]SourceStatus{
	SourceIdle:        {SourceSyncing},
	SourceSyncing:     {SourceDownloading, SourceCompleted, SourceError, SourceIdle},
	SourceDownloading: {SourceCompleted, SourceError, SourceIdle},
	SourceCompleted:   {SourceSyncing},
	SourceError:       {SourceSyncing},
}

var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemPending:     {ItemFetching, ItemSkipped},
	ItemFetching:    {ItemTranscoding, ItemCompleted, ItemError, ItemSkipped, ItemPending},
	ItemTranscoding: {ItemCompleted, ItemError, ItemSkipped, ItemPending},
	ItemError:       {ItemFetching, ItemPending, ItemSkipped},
	ItemCompleted:   {ItemPending},
	ItemSkipped:     {ItemPending},
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobRunning, JobFailed, JobCancelled},
	JobRunning:   {JobCompleted, JobFailed, JobCancelled},
	JobCompleted: {},
	JobFailed:    {},
	JobCancelled: {},
}

// CanTransitionSource reports whether a source may move from one status to another.
func CanTransitionSource(from, to SourceStatus) bool {
	return contains(sourceTransitions[from], to)
}

// CanTransitionItem reports whether an item may move from one status to another.
func CanTransitionItem(from, to ItemStatus) bool {
	return contains(itemTransitions[from], to)
}

// CanTransitionJob reports whether a job may move from one status to another.
func CanTransitionJob(from, to JobStatus) bool {
	return contains(jobTransitions[from], to)
}

func contains[S ~string](allowed []S, s S) bool {
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}
