// Package dispatch fans inbound events out over a fixed worker pool. Events
// for one conversation always hash to the same worker, so each conversation
// is stepped strictly in arrival order while different conversations proceed
// concurrently.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/util"
)

type Handler func(ctx context.Context, event model.InboundEvent) error

type Dispatcher struct {
	workers []*util.Worker
}

func NewDispatcher(workerCount int, capacity int, handler Handler, wg *sync.WaitGroup) *Dispatcher {
	if workerCount <= 0 {
		workerCount = 8
	}
	d := &Dispatcher{}
	for i := 0; i < workerCount; i++ {
		worker := util.NewWorker(fmt.Sprintf("dispatch-%d", i), wg, func(task util.Task) error {
			event := task.(model.InboundEvent)
			return handler(context.Background(), event)
		}, capacity)
		d.workers = append(d.workers, worker)
	}
	return d
}

func (d *Dispatcher) Start() {
	for _, w := range d.workers {
		w.Start()
	}
}

func (d *Dispatcher) Stop() {
	for _, w := range d.workers {
		w.Stop()
	}
}

// Submit enqueues the event on the worker owning its conversation.
func (d *Dispatcher) Submit(event model.InboundEvent) {
	idx := murmur3.Sum32([]byte(event.ConversationId)) % uint32(len(d.workers))
	d.workers[idx].Sender() <- event
}
