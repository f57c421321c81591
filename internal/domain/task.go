package domain

import (
	"time"
)

type TaskState string

const (
	StatePending    TaskState = "pending"
	StateProcessing TaskState = "processing"
	StateCompleted  TaskState = "completed"
	StateFailed     TaskState = "failed"
	StateCancelled  TaskState = "cancelled"
)

// transitions lists the legal targets of every state.
var transitions = map[TaskState][]TaskState{
	StatePending:    {StateProcessing, StateCancelled, StateFailed},
	StateProcessing: {StateCompleted, StateFailed, StateCancelled},
}

func ParseTaskState(s string) (TaskState, bool) {
	switch st := TaskState(s); st {
	case StatePending, StateProcessing, StateCompleted, StateFailed, StateCancelled:
		return st, true
	default:
		return "", false
	}
}

func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// AllowedSources returns the states a task may be in to move to target.
func AllowedSources(target TaskState) []TaskState {
	var sources []TaskState
	for _, from := range []TaskState{StatePending, StateProcessing, StateCompleted, StateFailed, StateCancelled} {
		if from.CanTransitionTo(target) {
			sources = append(sources, from)
		}
	}
	return sources
}

type ProcessingTask struct {
	ID              string
	UserID          string
	ImageID         string
	Options         ProcessingOptions
	State           TaskState
	ErrorMessage    string
	ReprocessedFrom string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

type TaskFilter struct {
	Status   TaskState
	DateFrom *time.Time
	DateTo   *time.Time
}

// DispatchMessage is the queue payload that asks a worker to execute a task.
type DispatchMessage struct {
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
}

// StatusCounts is a snapshot of task counts by state.
type StatusCounts struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	MaxBatchSize     = 50

	MessageQueueFull    = "dispatch queue is full"
	MessageCancelled    = "cancelled by user"
	MessageTimedOutFmt  = "processing timed out after %s"
	MessageStuckTimeout = "processing exceeded the stuck task threshold"
)

// NormalizePage clamps paging parameters to their defaults and bounds.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
