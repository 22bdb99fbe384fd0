package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oliveagle/jsonpath"
	"go.uber.org/zap"

	"github.com/waflow/flowd/flow"
	"github.com/waflow/flowd/logger"
	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/template"
)

// The trigger node already matched before the execution existed, arrival is a
// no-op.
func (e *Engine) handleTrigger(ctx context.Context, g *flow.Graph, node *flow.Node, execution *model.Execution) (stepResult, error) {
	return stepResult{kind: stepNext, next: g.Next(node.Id, "")}, nil
}

func (e *Engine) handleSendMessage(ctx context.Context, g *flow.Graph, node *flow.Node, execution *model.Execution) (stepResult, error) {
	cfg := node.SendMessage
	body := template.Render(cfg.Message, execution.Variables)
	to := execution.ConversationId

	var providerId string
	var err error
	switch cfg.MessageType {
	case model.MESSAGE_TYPE_IMAGE:
		mediaUrl := template.Render(cfg.MediaUrl, execution.Variables)
		providerId, err = e.gateway.SendImage(ctx, to, mediaUrl, body)
	case model.MESSAGE_TYPE_BUTTONS:
		buttons := make([]model.Button, len(cfg.Buttons))
		for i, b := range cfg.Buttons {
			buttons[i] = model.Button{
				Text:  template.Render(b.Text, execution.Variables),
				Value: b.Value,
				Type:  b.Type,
			}
		}
		providerId, err = e.gateway.SendButtons(ctx, to, body, buttons)
	default:
		providerId, err = e.gateway.SendText(ctx, to, body)
	}
	if err != nil {
		return stepResult{}, err
	}
	logger.Debug("message sent", zap.String("executionId", execution.Id), zap.String("nodeId", node.Id), zap.String("providerId", providerId))
	return stepResult{kind: stepNext, next: g.Next(node.Id, "")}, nil
}

// The execution stays pinned on the userInput node until the next inbound
// message for the conversation arrives.
func (e *Engine) handleUserInput(ctx context.Context, g *flow.Graph, node *flow.Node, execution *model.Execution) (stepResult, error) {
	execution.State = model.EXECUTION_RUNNING
	return stepResult{kind: stepSuspend}, nil
}

func (e *Engine) handleCondition(ctx context.Context, g *flow.Graph, node *flow.Node, execution *model.Execution) (stepResult, error) {
	result, err := e.conditions.evaluate(node.Condition, execution.Variables)
	if err != nil {
		return stepResult{}, err
	}
	handle := flow.HANDLE_NO
	if result {
		handle = flow.HANDLE_YES
	}
	next := g.Next(node.Id, handle)
	if next == "" {
		// a missing branch terminates the flow instead of failing it
		return stepResult{kind: stepComplete}, nil
	}
	return stepResult{kind: stepNext, next: next}, nil
}

func (e *Engine) handleGoTo(ctx context.Context, g *flow.Graph, node *flow.Node, execution *model.Execution) (stepResult, error) {
	target := node.GoTo.TargetBlockId
	if _, ok := g.Node(target); !ok {
		return stepResult{}, fmt.Errorf("goTo target %s does not exist", target)
	}
	return stepResult{kind: stepNext, next: target}, nil
}

func (e *Engine) handleApiCall(ctx context.Context, g *flow.Graph, node *flow.Node, execution *model.Execution) (stepResult, error) {
	cfg := node.ApiCall
	url := template.Render(cfg.Url, execution.Variables)
	body := template.Render(cfg.Body, execution.Variables)
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = template.Render(v, execution.Variables)
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = "GET"
	}

	callCtx, cancel := context.WithTimeout(ctx, e.apiCallTimeout)
	defer cancel()
	resp, err := e.gateway.HTTPRequest(callCtx, method, url, headers, []byte(body))
	if err != nil {
		return stepResult{}, fmt.Errorf("api call to %s failed: %w", url, err)
	}
	if !resp.Success() {
		return stepResult{}, fmt.Errorf("api call to %s returned status %d", url, resp.StatusCode)
	}
	if cfg.ResponseVariable != "" {
		execution.SetVariable(cfg.ResponseVariable, responseValue(resp.Body, cfg.ResponsePath))
	}
	return stepResult{kind: stepNext, next: g.Next(node.Id, "")}, nil
}

func (e *Engine) handleDelay(ctx context.Context, g *flow.Graph, node *flow.Node, execution *model.Execution) (stepResult, error) {
	duration := time.Duration(node.Delay.Duration) * time.Millisecond
	resumeAt := time.Now().Add(duration)
	execution.State = model.EXECUTION_PAUSED
	execution.ResumeAt = &resumeAt

	// the paused state must be durable before the resume record exists,
	// a record firing first would read a running execution and be dropped
	if err := e.persist(ctx, execution); err != nil {
		return stepResult{}, err
	}
	msg, err := e.delayEncDec.Encode(model.DelayFiredMessage{
		ExecutionId:    execution.Id,
		ConversationId: execution.ConversationId,
		NodeId:         node.Id,
	})
	if err != nil {
		return stepResult{}, err
	}
	if err := e.storage.DelayQueue().PushWithDelay(DELAY_QUEUE, duration, msg); err != nil {
		return stepResult{}, err
	}
	logger.Debug("execution delayed", zap.String("executionId", execution.Id), zap.Time("resumeAt", resumeAt))
	return stepResult{kind: stepSuspended}, nil
}

// responseValue parses the api response for storage in the variable store.
// Non JSON bodies are stored raw; a response path that does not resolve
// stores nil rather than failing the execution.
func responseValue(body []byte, path string) any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body)
	}
	if path == "" {
		return parsed
	}
	value, err := jsonpath.JsonPathLookup(parsed, path)
	if err != nil {
		logger.Debug("response path not found", zap.String("path", path))
		return nil
	}
	return value
}

// answerValue coerces the inbound answer per the input type before it lands
// in the variable store. Coercion is best effort, an unparsable answer is
// stored raw.
func answerValue(event *model.InboundEvent, cfg *model.UserInputConfig) any {
	text := event.Text
	if event.Type == model.EVENT_TYPE_BUTTON && text == "" {
		text = event.ButtonText
	}
	switch cfg.InputType {
	case model.INPUT_TYPE_NUMBER:
		if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return f
		}
		return text
	case model.INPUT_TYPE_EMAIL:
		return strings.TrimSpace(text)
	case model.INPUT_TYPE_QUICK_REPLIES:
		for _, qr := range cfg.QuickReplies {
			if event.ButtonId != "" && event.ButtonId == qr.Value {
				return qr.Value
			}
			if strings.EqualFold(text, qr.Value) || strings.EqualFold(text, qr.Text) {
				return qr.Value
			}
		}
		return text
	default:
		return text
	}
}
