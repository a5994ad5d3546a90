package models

import "time"

// TaskState is the Task lifecycle state.
type TaskState string

// Task lifecycle states.
const (
	TaskStatePending   TaskState = "pending"
	TaskStateAssigned  TaskState = "assigned"
	TaskStateRunning   TaskState = "running"
	TaskStatePaused    TaskState = "paused"
	TaskStateCompleted TaskState = "completed"
	TaskStateExhausted TaskState = "exhausted"
	TaskStateAbandoned TaskState = "abandoned"
	TaskStateFailed    TaskState = "failed"
)

// IsTerminal reports whether a task state is final.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateExhausted, TaskStateAbandoned, TaskStateFailed:
		return true
	default:
		return false
	}
}

// HoldsAgent reports whether a task in this state must carry a non-nil
// AssignedAgentID.
func (s TaskState) HoldsAgent() bool {
	switch s {
	case TaskStateAssigned, TaskStateRunning, TaskStatePaused:
		return true
	default:
		return false
	}
}

// DeviceSpeed is a point-in-time device throughput snapshot reported by the
// owning agent's last status update.
type DeviceSpeed struct {
	DeviceIndex int     `json:"device_index"`
	HashSpeed   float64 `json:"hash_speed"`
}

// Task is a contiguous slice of an Attack's keyspace assigned to one agent
// at a time.
type Task struct {
	ID              string
	AttackID        string
	KeyspaceOffset  uint64
	KeyspaceLength  uint64 // > 0
	State           TaskState
	AssignedAgentID *string
	AssignedAt      *time.Time
	AcceptedAt      *time.Time
	LastStatusAt    *time.Time
	ProgressOffset  uint64 // 0 <= ProgressOffset <= KeyspaceLength
	RejectedCount   uint64
	DeviceSpeeds    []DeviceSpeed
	ETASeconds      *float64
	Version         int64
}

// End returns the exclusive upper bound of this task's keyspace interval.
func (t Task) End() uint64 {
	return t.KeyspaceOffset + t.KeyspaceLength
}
