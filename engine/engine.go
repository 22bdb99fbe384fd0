// Package engine interprets compiled flow graphs against conversations. Each
// invocation steps an execution synchronously until it suspends at a
// userInput or delay node, completes, or fails. The execution record is
// persisted after every step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waflow/flowd/flow"
	"github.com/waflow/flowd/flowcache"
	"github.com/waflow/flowd/gateway"
	"github.com/waflow/flowd/logger"
	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/persistence"
	"github.com/waflow/flowd/trigger"
	"github.com/waflow/flowd/util"
)

// DELAY_QUEUE holds resume records for suspended delay nodes.
const DELAY_QUEUE = "DELAY"

type stepKind int

const (
	stepNext stepKind = iota
	stepSuspend
	stepSuspended // the handler already persisted the suspension
	stepComplete
)

type stepResult struct {
	kind stepKind
	next string
}

type nodeHandler func(ctx context.Context, g *flow.Graph, node *flow.Node, execution *model.Execution) (stepResult, error)

type Engine struct {
	storage        persistence.Storage
	gateway        gateway.Gateway
	flows          *flowcache.Cache
	matcher        *trigger.Matcher
	conditions     *conditionEvaluator
	handlers       map[model.NodeType]nodeHandler
	delayEncDec    util.EncoderDecoder[model.DelayFiredMessage]
	apiCallTimeout time.Duration
}

func NewEngine(storage persistence.Storage, gw gateway.Gateway, flows *flowcache.Cache, apiCallTimeout time.Duration) *Engine {
	if apiCallTimeout <= 0 {
		apiCallTimeout = 15 * time.Second
	}
	e := &Engine{
		storage:        storage,
		gateway:        gw,
		flows:          flows,
		matcher:        trigger.NewMatcher(),
		conditions:     newConditionEvaluator(),
		delayEncDec:    util.NewJsonEncoderDecoder[model.DelayFiredMessage](),
		apiCallTimeout: apiCallTimeout,
	}
	e.handlers = map[model.NodeType]nodeHandler{
		model.NODE_TYPE_TRIGGER:      e.handleTrigger,
		model.NODE_TYPE_SEND_MESSAGE: e.handleSendMessage,
		model.NODE_TYPE_USER_INPUT:   e.handleUserInput,
		model.NODE_TYPE_CONDITION:    e.handleCondition,
		model.NODE_TYPE_GOTO:         e.handleGoTo,
		model.NODE_TYPE_API_CALL:     e.handleApiCall,
		model.NODE_TYPE_DELAY:        e.handleDelay,
	}
	return e
}

// HandleInbound is the single entry point for provider events. An active
// execution waiting for input consumes the event as its answer; otherwise the
// event is matched against flow triggers. A trigger match while another
// execution is active for the conversation is dropped.
func (e *Engine) HandleInbound(ctx context.Context, event model.InboundEvent) error {
	execution, err := e.storage.ExecutionDao().FindActive(ctx, event.ConversationId)
	if err == nil {
		return e.resumeActive(ctx, execution, &event)
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return err
	}

	flows, err := e.flows.ListActive(ctx)
	if err != nil {
		return err
	}
	var matched *model.Flow
	switch event.Type {
	case model.EVENT_TYPE_TEXT:
		matched = e.matcher.Match(event.Text, flows)
	case model.EVENT_TYPE_BUTTON:
		matched = e.matcher.MatchButton(event.ButtonId, flows)
	case model.EVENT_TYPE_WEBHOOK:
		matched = e.matcher.MatchWebhook(event.FlowId, flows)
	}
	if matched == nil {
		logger.Debug("no trigger matched", zap.String("conversationId", event.ConversationId))
		return nil
	}
	_, err = e.Start(ctx, matched, event.ConversationId, initialVariables(&event))
	if errors.Is(err, persistence.ErrExecutionActive) {
		// lost the race against a concurrent delivery, drop the event
		return nil
	}
	return err
}

// Start creates an execution at the flow's trigger node and steps it until it
// suspends or terminates.
func (e *Engine) Start(ctx context.Context, f *model.Flow, conversationId string, variables map[string]any) (*model.Execution, error) {
	g, err := flow.Convert(f)
	if err != nil {
		return nil, err
	}
	if variables == nil {
		variables = make(map[string]any)
	}
	execution := &model.Execution{
		Id:             uuid.New().String(),
		FlowId:         f.Id,
		ConversationId: conversationId,
		CurrentNodeId:  g.StartNode,
		Variables:      variables,
		State:          model.EXECUTION_RUNNING,
	}
	if err := e.storage.ExecutionDao().Create(ctx, execution); err != nil {
		return nil, err
	}
	logger.Info("execution started", zap.String("flowId", f.Id), zap.String("executionId", execution.Id), zap.String("conversationId", conversationId))
	if err := e.run(ctx, g, execution); err != nil {
		return execution, err
	}
	return execution, nil
}

// HandleTimer resumes an execution suspended at a delay node once its resume
// record comes due. Stale records for executions that moved on are dropped.
func (e *Engine) HandleTimer(ctx context.Context, msg model.DelayFiredMessage) error {
	execution, err := e.storage.ExecutionDao().Get(ctx, msg.ExecutionId)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if execution.State != model.EXECUTION_PAUSED || execution.CurrentNodeId != msg.NodeId {
		logger.Debug("stale delay record dropped", zap.String("executionId", msg.ExecutionId), zap.String("nodeId", msg.NodeId))
		return nil
	}
	g, err := e.graph(ctx, execution.FlowId)
	if err != nil {
		return e.fail(ctx, execution, err)
	}
	execution.State = model.EXECUTION_RUNNING
	execution.ResumeAt = nil
	return e.advance(ctx, g, execution, msg.NodeId)
}

// RecoverDelays re-queues resume records for paused executions. A record
// popped from the queue right before a crash is gone, the stored ResumeAt is
// the source of truth for when the execution should wake up. Re-adding a
// record that still sits in the queue is safe, identical members collapse in
// the ZSET and HandleTimer drops anything stale.
func (e *Engine) RecoverDelays(ctx context.Context) error {
	executions, err := e.storage.ExecutionDao().ListPaused(ctx)
	if err != nil {
		return err
	}
	for _, execution := range executions {
		if execution.ResumeAt == nil {
			continue
		}
		msg, err := e.delayEncDec.Encode(model.DelayFiredMessage{
			ExecutionId:    execution.Id,
			ConversationId: execution.ConversationId,
			NodeId:         execution.CurrentNodeId,
		})
		if err != nil {
			return err
		}
		remaining := time.Until(*execution.ResumeAt)
		if remaining < 0 {
			remaining = 0
		}
		if err := e.storage.DelayQueue().PushWithDelay(DELAY_QUEUE, remaining, msg); err != nil {
			return err
		}
		logger.Info("re-queued delay resume record", zap.String("executionId", execution.Id), zap.String("nodeId", execution.CurrentNodeId))
	}
	return nil
}

func (e *Engine) resumeActive(ctx context.Context, execution *model.Execution, event *model.InboundEvent) error {
	if execution.State == model.EXECUTION_PAUSED {
		// waiting on a timer, a user message cannot resume it
		logger.Debug("execution paused, inbound event ignored", zap.String("executionId", execution.Id))
		return nil
	}
	g, err := e.graph(ctx, execution.FlowId)
	if err != nil {
		return e.fail(ctx, execution, err)
	}
	node, ok := g.Node(execution.CurrentNodeId)
	if !ok {
		return e.fail(ctx, execution, fmt.Errorf("current node %s missing from flow %s", execution.CurrentNodeId, execution.FlowId))
	}
	if node.Type != model.NODE_TYPE_USER_INPUT {
		// active but not awaiting input, the event is a surplus trigger match
		logger.Debug("execution active, inbound event ignored", zap.String("executionId", execution.Id), zap.String("nodeId", node.Id))
		return nil
	}
	execution.SetVariable(node.UserInput.Variable, answerValue(event, node.UserInput))
	return e.advance(ctx, g, execution, node.Id)
}

// advance moves the execution past nodeId along its unconditional edge and
// keeps stepping. No outgoing edge means the flow is done.
func (e *Engine) advance(ctx context.Context, g *flow.Graph, execution *model.Execution, nodeId string) error {
	next := g.Next(nodeId, "")
	if next == "" {
		return e.complete(ctx, execution)
	}
	execution.CurrentNodeId = next
	if err := e.persist(ctx, execution); err != nil {
		return err
	}
	return e.run(ctx, g, execution)
}

func (e *Engine) run(ctx context.Context, g *flow.Graph, execution *model.Execution) error {
	for {
		node, ok := g.Node(execution.CurrentNodeId)
		if !ok {
			return e.fail(ctx, execution, fmt.Errorf("node %s missing from flow %s", execution.CurrentNodeId, execution.FlowId))
		}
		handler, ok := e.handlers[node.Type]
		if !ok {
			return e.fail(ctx, execution, fmt.Errorf("node %s has unknown type %s", node.Id, node.Type))
		}
		res, err := handler(ctx, g, node, execution)
		if err != nil {
			return e.fail(ctx, execution, err)
		}
		switch res.kind {
		case stepSuspend:
			if err := e.persist(ctx, execution); err != nil {
				return err
			}
			return nil
		case stepSuspended:
			return nil
		case stepComplete:
			return e.complete(ctx, execution)
		case stepNext:
			if res.next == "" {
				return e.complete(ctx, execution)
			}
			execution.CurrentNodeId = res.next
			if err := e.persist(ctx, execution); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) complete(ctx context.Context, execution *model.Execution) error {
	execution.State = model.EXECUTION_COMPLETED
	if err := e.persist(ctx, execution); err != nil {
		return err
	}
	logger.Info("execution completed", zap.String("executionId", execution.Id), zap.String("flowId", execution.FlowId))
	return nil
}

// fail records the failure on the execution record instead of propagating it;
// the stuck node id stays visible for the operator. Persistence conflicts are
// the one thing still surfaced to the caller.
func (e *Engine) fail(ctx context.Context, execution *model.Execution, cause error) error {
	logger.Error("execution failed", zap.String("executionId", execution.Id), zap.String("nodeId", execution.CurrentNodeId), zap.Error(cause))
	execution.State = model.EXECUTION_ERROR
	if err := e.persist(ctx, execution); err != nil {
		return err
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, execution *model.Execution) error {
	err := e.storage.ExecutionDao().Update(ctx, execution)
	if errors.Is(err, persistence.ErrVersionConflict) {
		logger.Warn("concurrent step detected, dropping this one", zap.String("executionId", execution.Id))
		return err
	}
	return err
}

func (e *Engine) graph(ctx context.Context, flowId string) (*flow.Graph, error) {
	f, err := e.flows.Get(ctx, flowId)
	if err != nil {
		return nil, err
	}
	return flow.Convert(f)
}

func initialVariables(event *model.InboundEvent) map[string]any {
	vars := map[string]any{
		"phone": event.FromPhoneNumber,
	}
	if event.Text != "" {
		vars["message"] = event.Text
	}
	for k, v := range event.Variables {
		vars[k] = v
	}
	return vars
}
