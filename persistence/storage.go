package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waflow/flowd/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned by UpdateExecution when the stored execution
// moved past the version the caller read. The caller must reload and decide
// whether its step is still valid.
var ErrVersionConflict = errors.New("execution version conflict")

// ErrExecutionActive is returned by CreateExecution when the conversation
// already has a running or paused execution.
var ErrExecutionActive = errors.New("conversation already has an active execution")

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type FlowDao interface {
	Save(ctx context.Context, f model.Flow) error
	Get(ctx context.Context, id string) (*model.Flow, error)
	List(ctx context.Context) ([]model.Flow, error)
	ListActive(ctx context.Context) ([]model.Flow, error)
	Delete(ctx context.Context, id string) error
}

type ExecutionDao interface {
	// Create persists a fresh execution and claims the conversation's active
	// slot. Fails with ErrExecutionActive when the slot is taken.
	Create(ctx context.Context, execution *model.Execution) error
	Get(ctx context.Context, id string) (*model.Execution, error)
	// Update writes the execution back if its Version still matches the
	// stored one, then increments it. A terminal state releases the
	// conversation's active slot in the same operation.
	Update(ctx context.Context, execution *model.Execution) error
	// FindActive resolves the running or paused execution of a conversation.
	FindActive(ctx context.Context, conversationId string) (*model.Execution, error)
	// ListPaused returns every paused execution. The startup sweep re-queues
	// their resume records in case a delay queue entry was lost.
	ListPaused(ctx context.Context) ([]model.Execution, error)
}

type DelayQueue interface {
	PushWithDelay(queueName string, delay time.Duration, message []byte) error
	Pop(queueName string) ([]string, error)
}

type Storage interface {
	FlowDao() FlowDao
	ExecutionDao() ExecutionDao
	DelayQueue() DelayQueue
}
