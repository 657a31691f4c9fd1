package kfetch

// ResetStrategy directs where a partition resumes consuming when its
// position is invalid and must be recovered via an OffsetRequest.
type ResetStrategy int8

const (
	// ResetNone means the caller has not configured a default policy; an
	// OffsetOutOfRange without a valid committed offset surfaces as a
	// fatal per-partition error instead of resetting automatically.
	ResetNone ResetStrategy = iota
	// ResetEarliest resumes consuming from the earliest available offset.
	ResetEarliest
	// ResetLatest resumes consuming from the next offset to be produced.
	ResetLatest
)

// PartitionState is the subset of SubscriptionState's per-partition
// bookkeeping the fetch engine reads and mutates.
type PartitionState struct {
	// Position is the next offset the engine intends to fetch/deliver.
	Position int64
	// Committed is the last committed offset, or nil if none exists.
	Committed *int64
	// HighWatermark is the broker's last reported high watermark.
	HighWatermark int64
	// ResetStrategy is the policy used to recover an invalid position.
	ResetStrategy ResetStrategy
}

// SubscriptionState is the authoritative, externally owned record of
// partition assignment, consume position, committed offset, high
// watermark, pause state, and offset-reset policy.
//
// The fetch engine reads and mutates only the Position and HighWatermark
// fields of a partition's assignment; assignment changes, pausing, commits,
// and reset-policy configuration are all driven by an external collaborator
// (a group coordinator, a manual assignment call, or similar) and are not
// implemented by this package. Implementations must be safe for concurrent
// use: the engine's background loop, its reset subsystem, and application
// goroutines calling NextRecord/FetchedRecords may all observe or mutate a
// SubscriptionState concurrently.
type SubscriptionState interface {
	// NeedsPartitionAssignment reports whether the caller has not yet
	// assigned any partitions (or is between assignments). While true,
	// the Fetch Request Planner produces no requests.
	NeedsPartitionAssignment() bool

	// FetchablePartitions returns the set of partitions that are
	// currently assigned, not paused, and have a valid position.
	FetchablePartitions() []TopicPartition

	// IsFetchable reports whether tp is assigned, not paused, and has a
	// valid position.
	IsFetchable(tp TopicPartition) bool

	// IsAssigned reports whether tp is currently assigned, regardless of
	// pause state or position validity.
	IsAssigned(tp TopicPartition) bool

	// Assignment returns the current PartitionState for tp, and false if
	// tp is not assigned.
	Assignment(tp TopicPartition) (PartitionState, bool)

	// SetPosition advances tp's consume position. Called by the engine
	// every time a record leaves a PartitionBuffer, and when a
	// RecordTooLarge sentinel skips the unreturnable message. The offset
	// reset subsystem moves positions through Seek instead.
	SetPosition(tp TopicPartition, position int64)

	// SetHighWatermark records the broker's most recently reported high
	// watermark for tp.
	SetHighWatermark(tp TopicPartition, highWatermark int64)

	// IsOffsetResetNeeded reports whether tp has been marked as needing
	// an offset reset (via NeedOffsetReset) and has not yet been
	// resolved by Seek.
	IsOffsetResetNeeded(tp TopicPartition) bool

	// NeedOffsetReset marks tp as requiring an offset reset the next
	// time UpdateFetchPositions is called for it.
	NeedOffsetReset(tp TopicPartition)

	// HasDefaultOffsetResetPolicy reports whether tp's assignment
	// carries a usable (non-ResetNone) reset strategy.
	HasDefaultOffsetResetPolicy(tp TopicPartition) bool

	// Seek sets tp's position directly, as the result of a user seek or
	// a completed offset reset, clearing any pending reset-needed flag.
	Seek(tp TopicPartition, offset int64)
}
