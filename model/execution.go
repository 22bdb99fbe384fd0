package model

import "time"

type ExecutionState string

const EXECUTION_RUNNING ExecutionState = "running"
const EXECUTION_PAUSED ExecutionState = "paused"
const EXECUTION_COMPLETED ExecutionState = "completed"
const EXECUTION_ERROR ExecutionState = "error"

// Execution is one runtime instance of a flow bound to a conversation. The
// engine persists it after every step; Version guards against two deliveries
// of the same inbound event stepping the same execution twice.
type Execution struct {
	Id             string         `json:"id"`
	FlowId         string         `json:"flowId"`
	ConversationId string         `json:"conversationId"`
	CurrentNodeId  string         `json:"currentNodeId"`
	Variables      map[string]any `json:"variables"`
	State          ExecutionState `json:"state"`
	ResumeAt       *time.Time     `json:"resumeAt,omitempty"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func (e *Execution) IsActive() bool {
	return e.State == EXECUTION_RUNNING || e.State == EXECUTION_PAUSED
}

func (e *Execution) SetVariable(name string, value any) {
	if e.Variables == nil {
		e.Variables = make(map[string]any)
	}
	e.Variables[name] = value
}

func (e *Execution) GetVariable(name string) (any, bool) {
	v, ok := e.Variables[name]
	return v, ok
}
