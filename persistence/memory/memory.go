// Package memory holds an in-process Storage implementation used by tests and
// single node development setups. It enforces the same active-slot and
// version-conflict semantics as the redis implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/persistence"
)

var _ persistence.Storage = new(memoryStorage)

type memoryStorage struct {
	flowDao      *memoryFlowDao
	executionDao *memoryExecutionDao
	delayQueue   *memoryDelayQueue
}

func NewMemoryStorage() *memoryStorage {
	return &memoryStorage{
		flowDao: &memoryFlowDao{
			flows: make(map[string]model.Flow),
		},
		executionDao: &memoryExecutionDao{
			executions: make(map[string]model.Execution),
			active:     make(map[string]string),
		},
		delayQueue: &memoryDelayQueue{
			queues: make(map[string][]delayedMessage),
		},
	}
}

func (ms *memoryStorage) FlowDao() persistence.FlowDao {
	return ms.flowDao
}

func (ms *memoryStorage) ExecutionDao() persistence.ExecutionDao {
	return ms.executionDao
}

func (ms *memoryStorage) DelayQueue() persistence.DelayQueue {
	return ms.delayQueue
}

type memoryFlowDao struct {
	mu    sync.RWMutex
	flows map[string]model.Flow
	order []string
}

var _ persistence.FlowDao = new(memoryFlowDao)

func (d *memoryFlowDao) Save(ctx context.Context, f model.Flow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.flows[f.Id]; !ok {
		d.order = append(d.order, f.Id)
	}
	d.flows[f.Id] = f
	return nil
}

func (d *memoryFlowDao) Get(ctx context.Context, id string) (*model.Flow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.flows[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &f, nil
}

// List preserves insertion order so trigger matching stays deterministic.
func (d *memoryFlowDao) List(ctx context.Context) ([]model.Flow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	flows := make([]model.Flow, 0, len(d.order))
	for _, id := range d.order {
		if f, ok := d.flows[id]; ok {
			flows = append(flows, f)
		}
	}
	return flows, nil
}

func (d *memoryFlowDao) ListActive(ctx context.Context) ([]model.Flow, error) {
	flows, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]model.Flow, 0, len(flows))
	for _, f := range flows {
		if f.Status == model.FLOW_STATUS_ACTIVE {
			active = append(active, f)
		}
	}
	return active, nil
}

func (d *memoryFlowDao) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.flows[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(d.flows, id)
	for i, fid := range d.order {
		if fid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

type memoryExecutionDao struct {
	mu         sync.Mutex
	executions map[string]model.Execution
	active     map[string]string
}

var _ persistence.ExecutionDao = new(memoryExecutionDao)

func (d *memoryExecutionDao) Create(ctx context.Context, execution *model.Execution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[execution.ConversationId]; ok {
		return persistence.ErrExecutionActive
	}
	execution.CreatedAt = time.Now()
	execution.UpdatedAt = execution.CreatedAt
	d.executions[execution.Id] = cloneExecution(execution)
	d.active[execution.ConversationId] = execution.Id
	return nil
}

func (d *memoryExecutionDao) Get(ctx context.Context, id string) (*model.Execution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored, ok := d.executions[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	clone := cloneExecution(&stored)
	return &clone, nil
}

func (d *memoryExecutionDao) Update(ctx context.Context, execution *model.Execution) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored, ok := d.executions[execution.Id]
	if !ok {
		return persistence.ErrNotFound
	}
	if stored.Version != execution.Version {
		return persistence.ErrVersionConflict
	}
	execution.Version++
	execution.UpdatedAt = time.Now()
	d.executions[execution.Id] = cloneExecution(execution)
	if !execution.IsActive() {
		delete(d.active, execution.ConversationId)
	}
	return nil
}

func (d *memoryExecutionDao) FindActive(ctx context.Context, conversationId string) (*model.Execution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	executionId, ok := d.active[conversationId]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	stored, ok := d.executions[executionId]
	if !ok || !stored.IsActive() {
		delete(d.active, conversationId)
		return nil, persistence.ErrNotFound
	}
	clone := cloneExecution(&stored)
	return &clone, nil
}

func (d *memoryExecutionDao) ListPaused(ctx context.Context) ([]model.Execution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var paused []model.Execution
	for _, execution := range d.executions {
		if execution.State == model.EXECUTION_PAUSED {
			paused = append(paused, cloneExecution(&execution))
		}
	}
	return paused, nil
}

func cloneExecution(execution *model.Execution) model.Execution {
	clone := *execution
	clone.Variables = make(map[string]any, len(execution.Variables))
	for k, v := range execution.Variables {
		clone.Variables[k] = v
	}
	return clone
}

type delayedMessage struct {
	at      time.Time
	message string
}

type memoryDelayQueue struct {
	mu     sync.Mutex
	queues map[string][]delayedMessage
}

var _ persistence.DelayQueue = new(memoryDelayQueue)

func (q *memoryDelayQueue) PushWithDelay(queueName string, delay time.Duration, message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[queueName] = append(q.queues[queueName], delayedMessage{
		at:      time.Now().Add(delay),
		message: string(message),
	})
	return nil
}

func (q *memoryDelayQueue) Pop(queueName string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	entries := q.queues[queueName]
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].at.Before(entries[j].at)
	})
	var due []string
	var remaining []delayedMessage
	for _, entry := range entries {
		if !entry.at.After(now) {
			due = append(due, entry.message)
		} else {
			remaining = append(remaining, entry)
		}
	}
	q.queues[queueName] = remaining
	return due, nil
}
