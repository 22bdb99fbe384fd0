package model

import "time"

type EventType string

const EVENT_TYPE_TEXT EventType = "text"
const EVENT_TYPE_BUTTON EventType = "button"
const EVENT_TYPE_WEBHOOK EventType = "webhook"
const EVENT_TYPE_TIMER EventType = "timer"

// InboundEvent is the normalized form of everything that can advance an
// execution: a message from the provider webhook, an explicit webhook trigger
// invocation, or a fired delay timer.
type InboundEvent struct {
	Type            EventType      `json:"type"`
	ConversationId  string         `json:"conversationId"`
	FromPhoneNumber string         `json:"fromPhoneNumber,omitempty"`
	Text            string         `json:"text,omitempty"`
	ButtonId        string         `json:"buttonId,omitempty"`
	ButtonText      string         `json:"buttonText,omitempty"`
	FlowId          string         `json:"flowId,omitempty"`
	ExecutionId     string         `json:"executionId,omitempty"`
	NodeId          string         `json:"nodeId,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// StatusUpdate is a provider delivery receipt (sent/delivered/read/failed),
// correlated back to an outbound message by provider id. It never feeds the
// engine.
type StatusUpdate struct {
	ProviderMessageId string    `json:"providerMessageId"`
	RecipientId       string    `json:"recipientId"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}

// DelayFiredMessage is the durable record pushed on the delay queue when a
// delay node suspends an execution.
type DelayFiredMessage struct {
	ExecutionId    string `json:"executionId"`
	ConversationId string `json:"conversationId"`
	NodeId         string `json:"nodeId"`
}
