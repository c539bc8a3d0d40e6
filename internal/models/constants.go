package models

const (
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// ActionState tracks a PendingAction through a drain.
type ActionState string

const (
	ActionQueued     ActionState = "queued"
	ActionProcessing ActionState = "processing"
	ActionSucceeded  ActionState = "succeeded"
	ActionDropped    ActionState = "dropped"
)

const (
	// DefaultQueueStorageKey is where the pending action list is persisted.
	DefaultQueueStorageKey = "pending_actions"

	// DefaultMaxAttempts attempts per retried operation
	DefaultMaxAttempts = 3

	// DefaultRetryDelayMs base delay between attempts
	DefaultRetryDelayMs = 1000

	// RecentFailuresLimit size of the executor's diagnostic ring
	RecentFailuresLimit = 50
)
