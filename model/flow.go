package model

import "encoding/json"

type FlowStatus string

const FLOW_STATUS_ACTIVE FlowStatus = "active"
const FLOW_STATUS_INACTIVE FlowStatus = "inactive"

type TriggerType string

const TRIGGER_TYPE_KEYWORD TriggerType = "keyword"
const TRIGGER_TYPE_BUTTON TriggerType = "button"
const TRIGGER_TYPE_WEBHOOK TriggerType = "webhook"

type NodeType string

const NODE_TYPE_TRIGGER NodeType = "triggerEvent"
const NODE_TYPE_SEND_MESSAGE NodeType = "sendMessage"
const NODE_TYPE_USER_INPUT NodeType = "userInput"
const NODE_TYPE_CONDITION NodeType = "condition"
const NODE_TYPE_GOTO NodeType = "goTo"
const NODE_TYPE_API_CALL NodeType = "apiCall"
const NODE_TYPE_DELAY NodeType = "delay"

type Operator string

const OPERATOR_EQUALS Operator = "equals"
const OPERATOR_CONTAINS Operator = "contains"
const OPERATOR_GREATER Operator = "greater"
const OPERATOR_LESS Operator = "less"
const OPERATOR_EXPRESSION Operator = "expression"

type InputType string

const INPUT_TYPE_TEXT InputType = "text"
const INPUT_TYPE_NUMBER InputType = "number"
const INPUT_TYPE_EMAIL InputType = "email"
const INPUT_TYPE_QUICK_REPLIES InputType = "quickReplies"

type MessageType string

const MESSAGE_TYPE_TEXT MessageType = "text"
const MESSAGE_TYPE_IMAGE MessageType = "image"
const MESSAGE_TYPE_BUTTONS MessageType = "buttons"

type Flow struct {
	Id        string         `json:"id"`
	Name      string         `json:"name"`
	Trigger   Trigger        `json:"trigger"`
	Nodes     []Node         `json:"nodes"`
	Edges     []Edge         `json:"edges"`
	Variables []VariableDecl `json:"variables,omitempty"`
	Status    FlowStatus     `json:"status"`
}

type Trigger struct {
	Type       TriggerType `json:"type"`
	Keywords   []string    `json:"keywords,omitempty"`
	ExactMatch bool        `json:"exactMatch,omitempty"`
	ButtonId   string      `json:"buttonId,omitempty"`
}

// Position is authoring-tool metadata, never read by the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Node struct {
	Id       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data"`
}

type Edge struct {
	Id           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

type VariableDecl struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Source string `json:"source,omitempty"`
}

type Button struct {
	Text  string `json:"text"`
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

type QuickReply struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

type SendMessageConfig struct {
	Message     string      `json:"message"`
	MessageType MessageType `json:"messageType"`
	MediaUrl    string      `json:"mediaUrl,omitempty"`
	Buttons     []Button    `json:"buttons,omitempty"`
}

type UserInputConfig struct {
	InputType    InputType    `json:"inputType"`
	Variable     string       `json:"variable"`
	QuickReplies []QuickReply `json:"quickReplies,omitempty"`
}

type ConditionConfig struct {
	Variable   string   `json:"variable"`
	Operator   Operator `json:"operator"`
	Value      string   `json:"value"`
	Expression string   `json:"expression,omitempty"`
}

type GoToConfig struct {
	TargetBlockId string `json:"targetBlockId"`
}

type ApiCallConfig struct {
	Url              string            `json:"url"`
	Method           string            `json:"method"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             string            `json:"body,omitempty"`
	ResponseVariable string            `json:"responseVariable,omitempty"`
	ResponsePath     string            `json:"responsePath,omitempty"`
}

type DelayConfig struct {
	Duration int64 `json:"duration"`
}
