// Package scheduler turns due delay-queue records back into engine events.
// The queue is durable, so delays scheduled before a restart are picked up
// again on the next tick.
package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/waflow/flowd/engine"
	"github.com/waflow/flowd/logger"
	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/persistence"
	"github.com/waflow/flowd/util"
)

type Poller struct {
	queue      persistence.DelayQueue
	submit     func(model.InboundEvent)
	tickWorker *util.TickWorker
	encDec     util.EncoderDecoder[model.DelayFiredMessage]
}

func NewPoller(queue persistence.DelayQueue, interval time.Duration, submit func(model.InboundEvent), wg *sync.WaitGroup) *Poller {
	p := &Poller{
		queue:  queue,
		submit: submit,
		encDec: util.NewJsonEncoderDecoder[model.DelayFiredMessage](),
	}
	p.tickWorker = util.NewTickWorker("delay-poller", interval, p.poll, wg)
	return p
}

func (p *Poller) Start() {
	p.tickWorker.Start()
}

func (p *Poller) Stop() {
	p.tickWorker.Stop()
}

func (p *Poller) poll() {
	messages, err := p.queue.Pop(engine.DELAY_QUEUE)
	if err != nil {
		logger.Error("error polling delay queue", zap.Error(err))
		return
	}
	for _, raw := range messages {
		msg, err := p.encDec.Decode([]byte(raw))
		if err != nil {
			logger.Error("undecodable delay record dropped", zap.Error(err))
			continue
		}
		p.submit(model.InboundEvent{
			Type:           model.EVENT_TYPE_TIMER,
			ConversationId: msg.ConversationId,
			ExecutionId:    msg.ExecutionId,
			NodeId:         msg.NodeId,
			Timestamp:      time.Now(),
		})
	}
}
